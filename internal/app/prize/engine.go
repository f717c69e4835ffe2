// Package prize detects new pattern winners after a number call. Evaluation
// is a pure function over a game snapshot: no I/O, no mutation, and invoking
// it twice with the same inputs never produces additional winners.
package prize

import (
	"sort"

	"github.com/tambola-live/engine/internal/game"
)

// Evaluate inspects the snapshot after lastCalled has been appended to the
// called numbers and returns the new winners per prize type.
//
// Rules applied throughout:
//   - a prize type with a non-empty winner list is claimed and skipped,
//     except Second Full House which only opens after Full House;
//   - only booked tickets can win;
//   - when several tickets qualify on the same call the lowest ticket id
//     wins (deterministic tie-break);
//   - single-ticket prizes only re-examine tickets whose grid contains
//     lastCalled, sheet prizes only the sheets those tickets belong to.
func Evaluate(st game.State, lastCalled int) map[game.PrizeType][]int {
	called := calledSet(st.Numbers.CalledNumbers)
	if !called[lastCalled] {
		return nil
	}

	eval := evaluation{
		state:   st,
		called:  called,
		awarded: map[game.PrizeType][]int{},
	}
	eval.collectCandidates(lastCalled)

	eval.singleTicketPrize(game.PrizeQuickFive, eval.quickFive)
	eval.singleTicketPrize(game.PrizeCorners, eval.corners)
	eval.singleTicketPrize(game.PrizeStarCorners, eval.starCorners)
	eval.singleTicketPrize(game.PrizeTopLine, eval.lineFor(0))
	eval.singleTicketPrize(game.PrizeMiddleLine, eval.lineFor(1))
	eval.singleTicketPrize(game.PrizeBottomLine, eval.lineFor(2))
	eval.singleTicketPrize(game.PrizeFullHouse, eval.fullHouse)
	eval.secondFullHouse()
	eval.halfSheet()
	eval.fullSheet()

	if len(eval.awarded) == 0 {
		return nil
	}
	return eval.awarded
}

type evaluation struct {
	state   game.State
	called  map[int]bool
	awarded map[game.PrizeType][]int

	// candidates are booked tickets containing the last called number,
	// ascending by id; sheets are the sheet numbers they belong to.
	candidates []game.Ticket
	sheets     []int
}

func calledSet(numbers []int) map[int]bool {
	set := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		set[n] = true
	}
	return set
}

func (e *evaluation) collectCandidates(lastCalled int) {
	sheetSeen := map[int]bool{}
	for key, ticket := range e.state.ActiveTickets.Tickets {
		if _, booked := e.state.ActiveTickets.Bookings[key]; !booked {
			continue
		}
		if !ticket.Contains(lastCalled) {
			continue
		}
		e.candidates = append(e.candidates, ticket)
		sheet := game.SheetNumber(ticket.ID)
		if !sheetSeen[sheet] {
			sheetSeen[sheet] = true
			e.sheets = append(e.sheets, sheet)
		}
	}
	sort.Slice(e.candidates, func(i, j int) bool { return e.candidates[i].ID < e.candidates[j].ID })
	sort.Ints(e.sheets)
}

// winnersOf merges already-persisted winners with ones awarded during this
// evaluation, so ordering dependencies within one call resolve correctly.
func (e *evaluation) winnersOf(pt game.PrizeType) []int {
	if fresh, ok := e.awarded[pt]; ok {
		return fresh
	}
	return e.state.Game.WinnersFor(pt)
}

func (e *evaluation) enabled(pt game.PrizeType) bool {
	return e.state.Settings.PrizeEnabled(pt)
}

func (e *evaluation) singleTicketPrize(pt game.PrizeType, satisfies func(game.Ticket) bool) {
	if !e.enabled(pt) || len(e.winnersOf(pt)) > 0 {
		return
	}
	for _, ticket := range e.candidates {
		if satisfies(ticket) {
			e.awarded[pt] = []int{ticket.ID}
			return
		}
	}
}

func (e *evaluation) secondFullHouse() {
	if !e.enabled(game.PrizeSecondFullHouse) || len(e.winnersOf(game.PrizeSecondFullHouse)) > 0 {
		return
	}
	firstWinners := e.winnersOf(game.PrizeFullHouse)
	if len(firstWinners) == 0 {
		return
	}
	firstTicket := firstWinners[0]
	firstPlayer := e.ticketPlayer(firstTicket)

	for _, ticket := range e.candidates {
		if ticket.ID == firstTicket || !e.fullHouse(ticket) {
			continue
		}
		if e.ticketPlayer(ticket.ID) == firstPlayer {
			continue
		}
		e.awarded[game.PrizeSecondFullHouse] = []int{ticket.ID}
		return
	}
}

func (e *evaluation) halfSheet() {
	if !e.enabled(game.PrizeHalfSheet) || len(e.winnersOf(game.PrizeHalfSheet)) > 0 {
		return
	}
	for _, sheet := range e.sheets {
		for _, half := range game.SheetHalves(sheet) {
			if ids, ok := e.groupQualifies(half[:]); ok {
				e.awarded[game.PrizeHalfSheet] = ids
				return
			}
		}
	}
}

func (e *evaluation) fullSheet() {
	if !e.enabled(game.PrizeFullSheet) || len(e.winnersOf(game.PrizeFullSheet)) > 0 {
		return
	}
	// Full Sheet stays locked until Half Sheet is decided, when enabled.
	if e.enabled(game.PrizeHalfSheet) && len(e.winnersOf(game.PrizeHalfSheet)) == 0 {
		return
	}
	for _, sheet := range e.sheets {
		ids := game.SheetTicketIDs(sheet)
		if won, ok := e.groupQualifies(ids[:]); ok {
			e.awarded[game.PrizeFullSheet] = won
			return
		}
	}
}

// groupQualifies reports whether one player owns every ticket in the group
// and each ticket has at least two matched numbers.
func (e *evaluation) groupQualifies(ticketIDs []int) ([]int, bool) {
	owner := ""
	for _, id := range ticketIDs {
		booking, ok := e.state.Booking(id)
		if !ok {
			return nil, false
		}
		if owner == "" {
			owner = booking.PlayerID
		} else if booking.PlayerID != owner {
			return nil, false
		}
		ticket, ok := e.state.Ticket(id)
		if !ok || e.matchedCount(ticket) < 2 {
			return nil, false
		}
	}
	out := append([]int(nil), ticketIDs...)
	sort.Ints(out)
	return out, true
}

func (e *evaluation) ticketPlayer(ticketID int) string {
	booking, ok := e.state.Booking(ticketID)
	if !ok {
		return ""
	}
	return booking.PlayerID
}

func (e *evaluation) matchedCount(t game.Ticket) int {
	count := 0
	for _, n := range t.Numbers() {
		if e.called[n] {
			count++
		}
	}
	return count
}

func (e *evaluation) quickFive(t game.Ticket) bool {
	return e.matchedCount(t) >= 5
}

func (e *evaluation) lineFor(row int) func(game.Ticket) bool {
	return func(t game.Ticket) bool {
		numbers := t.RowNumbers(row)
		if len(numbers) == 0 {
			return false
		}
		for _, n := range numbers {
			if !e.called[n] {
				return false
			}
		}
		return true
	}
}

// corners are the first and last numbers of the top and bottom rows.
func (e *evaluation) corners(t game.Ticket) bool {
	top := t.RowNumbers(0)
	bottom := t.RowNumbers(2)
	if len(top) == 0 || len(bottom) == 0 {
		return false
	}
	for _, n := range []int{top[0], top[len(top)-1], bottom[0], bottom[len(bottom)-1]} {
		if !e.called[n] {
			return false
		}
	}
	return true
}

// starCorners adds the centre of the middle row to the four corners.
func (e *evaluation) starCorners(t game.Ticket) bool {
	if !e.corners(t) {
		return false
	}
	middle := t.RowNumbers(1)
	if len(middle) == 0 {
		return false
	}
	return e.called[middle[len(middle)/2]]
}

func (e *evaluation) fullHouse(t game.Ticket) bool {
	for _, n := range t.Numbers() {
		if !e.called[n] {
			return false
		}
	}
	return true
}
