// Package gameapi is the HTTP edge of the engine: it turns host requests
// into queued commands and serves read-only views of the game record.
package gameapi

import (
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"

	"github.com/tambola-live/engine/internal/contracts"
)

var (
	ErrHostRequired    = errors.New("host id is required")
	ErrUnsupportedKind = errors.New("unsupported command kind")
	ErrPayloadRequired = errors.New("command payload is required")
)

// EnqueueFunc hands a built command to the queue.
type EnqueueFunc func(cmd contracts.Command, priority contracts.Priority) (string, error)

type Service struct {
	Enqueue EnqueueFunc
	Now     func() time.Time
	NewID   func() string
}

func NewService(enqueue EnqueueFunc) *Service {
	return &Service{
		Enqueue: enqueue,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
	}
}

// CommandRequest is the wire form of a command submission. Exactly one
// payload field should be set, matching Kind.
type CommandRequest struct {
	Kind     string `json:"kind"`
	Priority string `json:"priority,omitempty"`

	CallNumber         *contracts.CallNumberPayload         `json:"call_number,omitempty"`
	CreateBooking      *contracts.CreateBookingPayload      `json:"create_booking,omitempty"`
	CancelBooking      *contracts.CancelBookingPayload      `json:"cancel_booking,omitempty"`
	UpdatePrizeWinners *contracts.UpdatePrizeWinnersPayload `json:"update_prize_winners,omitempty"`
	InitializeGame     *contracts.InitializeGamePayload     `json:"initialize_game,omitempty"`
	StartBooking       *contracts.StartBookingPayload       `json:"start_booking,omitempty"`
	UpdateSettings     *contracts.UpdateSettingsPayload     `json:"update_settings,omitempty"`
}

type CommandResponse struct {
	Status    string `json:"status"`
	CommandID string `json:"command_id"`
	Kind      string `json:"kind"`
	Priority  string `json:"priority"`
}

// Accept validates the request, builds the command and enqueues it.
func (s *Service) Accept(hostID string, req CommandRequest) (CommandResponse, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return CommandResponse{}, ErrHostRequired
	}

	kind := contracts.CommandKind(strings.TrimSpace(strings.ToLower(req.Kind)))
	cmd := contracts.Command{
		ID:          s.NewID(),
		HostID:      hostID,
		Kind:        kind,
		SubmittedAt: s.Now(),
	}

	switch kind {
	case contracts.KindCallNumber:
		if req.CallNumber == nil {
			return CommandResponse{}, ErrPayloadRequired
		}
		cmd.CallNumber = req.CallNumber
	case contracts.KindCreateBooking:
		if req.CreateBooking == nil {
			return CommandResponse{}, ErrPayloadRequired
		}
		cmd.CreateBooking = req.CreateBooking
	case contracts.KindCancelBooking:
		if req.CancelBooking == nil {
			return CommandResponse{}, ErrPayloadRequired
		}
		cmd.CancelBooking = req.CancelBooking
	case contracts.KindUpdatePrizeWinners:
		if req.UpdatePrizeWinners == nil {
			return CommandResponse{}, ErrPayloadRequired
		}
		cmd.UpdatePrizeWinners = req.UpdatePrizeWinners
	case contracts.KindInitializeGame:
		cmd.InitializeGame = req.InitializeGame
	case contracts.KindStartBooking:
		cmd.StartBooking = req.StartBooking
	case contracts.KindUpdateSettings:
		if req.UpdateSettings == nil {
			return CommandResponse{}, ErrPayloadRequired
		}
		cmd.UpdateSettings = req.UpdateSettings
	case contracts.KindStartPlaying, contracts.KindCompleteGame:
		// No payload.
	default:
		return CommandResponse{}, ErrUnsupportedKind
	}

	priority := defaultPriority(kind)
	if raw := strings.TrimSpace(req.Priority); raw != "" {
		priority = contracts.ParsePriority(raw)
	}

	id, err := s.Enqueue(cmd, priority)
	if err != nil {
		return CommandResponse{}, err
	}
	return CommandResponse{
		Status:    "accepted",
		CommandID: id,
		Kind:      string(kind),
		Priority:  priority.String(),
	}, nil
}

// defaultPriority reflects how urgent each kind is for a live game: phase
// transitions preempt everything, number calls and awards preempt bookings.
func defaultPriority(kind contracts.CommandKind) contracts.Priority {
	switch kind {
	case contracts.KindInitializeGame, contracts.KindStartBooking, contracts.KindStartPlaying, contracts.KindCompleteGame:
		return contracts.PriorityCritical
	case contracts.KindCallNumber, contracts.KindUpdatePrizeWinners:
		return contracts.PriorityHigh
	default:
		return contracts.PriorityNormal
	}
}
