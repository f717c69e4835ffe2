package game

import (
	"strconv"
	"time"
)

// Phase is the lifecycle stage of a hosted game.
type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhaseBooking   Phase = "booking"
	PhasePlaying   Phase = "playing"
	PhaseCompleted Phase = "completed"
)

// PrizeType names one winning pattern.
type PrizeType string

const (
	PrizeQuickFive       PrizeType = "quickFive"
	PrizeTopLine         PrizeType = "topLine"
	PrizeMiddleLine      PrizeType = "middleLine"
	PrizeBottomLine      PrizeType = "bottomLine"
	PrizeCorners         PrizeType = "corners"
	PrizeStarCorners     PrizeType = "starCorners"
	PrizeHalfSheet       PrizeType = "halfSheet"
	PrizeFullSheet       PrizeType = "fullSheet"
	PrizeFullHouse       PrizeType = "fullHouse"
	PrizeSecondFullHouse PrizeType = "secondFullHouse"
)

// AllPrizes lists every prize type in evaluation order.
func AllPrizes() []PrizeType {
	return []PrizeType{
		PrizeQuickFive,
		PrizeCorners,
		PrizeStarCorners,
		PrizeTopLine,
		PrizeMiddleLine,
		PrizeBottomLine,
		PrizeHalfSheet,
		PrizeFullSheet,
		PrizeFullHouse,
		PrizeSecondFullHouse,
	}
}

// ValidPrize reports whether pt is a known prize type.
func ValidPrize(pt PrizeType) bool {
	for _, known := range AllPrizes() {
		if known == pt {
			return true
		}
	}
	return false
}

// Settings are the host-configured game parameters.
type Settings struct {
	TicketSetID      string      `json:"ticketSetId"`
	MaxTickets       int         `json:"maxTickets"`
	CallDelaySeconds int         `json:"callDelaySeconds"`
	EnabledPrizes    []PrizeType `json:"enabledPrizes"`
}

// PrizeEnabled reports whether pt is switched on for this game.
func (s Settings) PrizeEnabled(pt PrizeType) bool {
	for _, enabled := range s.EnabledPrizes {
		if enabled == pt {
			return true
		}
	}
	return false
}

// DefaultSettings enables the standard prize list with a 90-ticket cap.
func DefaultSettings() Settings {
	return Settings{
		TicketSetID:      "classic-90",
		MaxTickets:       90,
		CallDelaySeconds: 8,
		EnabledPrizes:    AllPrizes(),
	}
}

// GameStatus holds the phase and the winners board.
// Winner lists are append-only; a ticket id is never removed once present.
type GameStatus struct {
	Phase   Phase               `json:"phase"`
	Status  string              `json:"status"`
	Winners map[PrizeType][]int `json:"winners"`
}

// WinnersFor is the total lookup from prize type to winner list.
func (g GameStatus) WinnersFor(pt PrizeType) []int {
	if g.Winners == nil {
		return nil
	}
	return g.Winners[pt]
}

// NumberSystem tracks call progress for one game.
type NumberSystem struct {
	CalledNumbers  []int `json:"calledNumbers"`
	CurrentNumber  int   `json:"currentNumber"`
	PendingNumbers []int `json:"pendingNumbers"`
}

// Called reports whether n has already been called.
func (ns NumberSystem) Called(n int) bool {
	for _, called := range ns.CalledNumbers {
		if called == n {
			return true
		}
	}
	return false
}

// Booking associates one ticket with a player.
type Booking struct {
	TicketID    int       `json:"ticketId"`
	PlayerID    string    `json:"playerId"`
	PlayerName  string    `json:"playerName"`
	PlayerPhone string    `json:"playerPhone"`
	BookedAt    time.Time `json:"bookedAt"`
}

// Player owns one or more booked tickets.
type Player struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	TicketIDs   []int  `json:"ticketIds"`
	TicketCount int    `json:"ticketCount"`
}

// ActiveTickets is the sellable inventory plus its booking index.
// Both maps are keyed by decimal ticket id, matching the persisted
// path namespace (activeTickets.tickets.12).
type ActiveTickets struct {
	Tickets  map[string]Ticket  `json:"tickets"`
	Bookings map[string]Booking `json:"bookings"`
}

// BookingMetrics are running counters over the booking phase.
type BookingMetrics struct {
	TotalBookings int `json:"totalBookings"`
	TotalPlayers  int `json:"totalPlayers"`
}

// State is one host's full game record. It is read as an immutable snapshot
// at the start of every command execution and only replaced through atomic
// path writes, never mutated in place.
type State struct {
	Settings      Settings          `json:"settings"`
	Game          GameStatus        `json:"gameState"`
	Numbers       NumberSystem      `json:"numberSystem"`
	ActiveTickets ActiveTickets     `json:"activeTickets"`
	Players       map[string]Player `json:"players"`
	Metrics       BookingMetrics    `json:"bookingMetrics"`
}

// NewState returns a fresh Setup-phase record with the given settings.
func NewState(settings Settings) State {
	return State{
		Settings: settings,
		Game: GameStatus{
			Phase:   PhaseSetup,
			Status:  "created",
			Winners: map[PrizeType][]int{},
		},
		Numbers: NumberSystem{CalledNumbers: []int{}},
		ActiveTickets: ActiveTickets{
			Tickets:  map[string]Ticket{},
			Bookings: map[string]Booking{},
		},
		Players: map[string]Player{},
	}
}

// TicketKey is the map key for a ticket id in the persisted record.
func TicketKey(id int) string {
	return strconv.Itoa(id)
}

// Ticket returns the ticket with the given id, if present.
func (s State) Ticket(id int) (Ticket, bool) {
	t, ok := s.ActiveTickets.Tickets[TicketKey(id)]
	return t, ok
}

// Booking returns the booking for the given ticket id, if present.
func (s State) Booking(ticketID int) (Booking, bool) {
	b, ok := s.ActiveTickets.Bookings[TicketKey(ticketID)]
	return b, ok
}
