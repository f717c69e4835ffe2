package contracts

import (
	"encoding/json"
	"time"

	"github.com/tambola-live/engine/internal/game"
)

// Priority controls dispatch order inside the command queue.
// Higher values dispatch first; FIFO order is preserved within a class.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps the wire representation to a Priority.
// Unknown or empty input falls back to PriorityNormal.
func ParsePriority(raw string) Priority {
	switch raw {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// CommandKind discriminates the closed set of game commands.
type CommandKind string

const (
	KindCallNumber         CommandKind = "call-number"
	KindCreateBooking      CommandKind = "create-booking"
	KindCancelBooking      CommandKind = "cancel-booking"
	KindUpdatePrizeWinners CommandKind = "update-prize-winners"
	KindInitializeGame     CommandKind = "initialize-game"
	KindStartBooking       CommandKind = "start-booking"
	KindStartPlaying       CommandKind = "start-playing"
	KindCompleteGame       CommandKind = "complete-game"
	KindUpdateSettings     CommandKind = "update-settings"
)

// Kinds lists every supported command kind.
func Kinds() []CommandKind {
	return []CommandKind{
		KindCallNumber,
		KindCreateBooking,
		KindCancelBooking,
		KindUpdatePrizeWinners,
		KindInitializeGame,
		KindStartBooking,
		KindStartPlaying,
		KindCompleteGame,
		KindUpdateSettings,
	}
}

type CallNumberPayload struct {
	Number int `json:"number"`
}

type CreateBookingPayload struct {
	PlayerName  string `json:"player_name"`
	PlayerPhone string `json:"player_phone"`
	TicketIDs   []int  `json:"ticket_ids"`
}

type CancelBookingPayload struct {
	TicketIDs []int `json:"ticket_ids"`
}

type UpdatePrizeWinnersPayload struct {
	Prize     game.PrizeType `json:"prize"`
	TicketIDs []int          `json:"ticket_ids"`
}

type InitializeGamePayload struct {
	Settings game.Settings `json:"settings"`
}

type StartBookingPayload struct {
	TicketSetID string `json:"ticket_set_id,omitempty"`
}

type UpdateSettingsPayload struct {
	Settings game.Settings `json:"settings"`
}

// Command is one validated intent to mutate a host's game record. Exactly one
// payload pointer is set, matching Kind; commands are immutable once created.
type Command struct {
	ID          string      `json:"command_id"`
	HostID      string      `json:"host_id"`
	Kind        CommandKind `json:"kind"`
	SubmittedAt time.Time   `json:"submitted_at"`

	CallNumber         *CallNumberPayload         `json:"call_number,omitempty"`
	CreateBooking      *CreateBookingPayload      `json:"create_booking,omitempty"`
	CancelBooking      *CancelBookingPayload      `json:"cancel_booking,omitempty"`
	UpdatePrizeWinners *UpdatePrizeWinnersPayload `json:"update_prize_winners,omitempty"`
	InitializeGame     *InitializeGamePayload     `json:"initialize_game,omitempty"`
	StartBooking       *StartBookingPayload       `json:"start_booking,omitempty"`
	UpdateSettings     *UpdateSettingsPayload     `json:"update_settings,omitempty"`
}

// DedupKey identifies structurally equivalent commands: same host, kind and
// payload. The queue uses it to reject double submissions inside its window.
func (c Command) DedupKey() string {
	shadow := c
	shadow.ID = ""
	shadow.SubmittedAt = time.Time{}
	raw, err := json.Marshal(shadow)
	if err != nil {
		return c.HostID + "|" + string(c.Kind)
	}
	return string(raw)
}

// CommandResult is the single terminal outcome of an accepted command.
type CommandResult struct {
	Command     Command         `json:"command"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration_ns"`
}

// CommandError is emitted once for every command that fails terminally,
// either non-retryably or after exhausting its retries.
type CommandError struct {
	CommandID  string      `json:"command_id"`
	HostID     string      `json:"host_id"`
	Kind       CommandKind `json:"kind"`
	Class      string      `json:"class"`
	Message    string      `json:"message"`
	Attempts   int         `json:"attempts"`
	OccurredAt time.Time   `json:"occurred_at"`
}
