package engine

import (
	"context"
	"strings"

	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/game"
)

// PhaseResult is the payload of a successful phase-transition command.
type PhaseResult struct {
	Phase       game.Phase  `json:"phase"`
	TicketCount int         `json:"ticket_count,omitempty"`
	FinalState  *game.State `json:"final_state,omitempty"`
}

func (p *Processor) initializeGame(ctx context.Context, cmd contracts.Command) (any, error) {
	settings := game.DefaultSettings()
	if cmd.InitializeGame != nil {
		settings = normalizeSettings(cmd.InitializeGame.Settings)
	}

	fresh := game.NewState(settings)
	writes := map[string]any{
		"settings":       fresh.Settings,
		"gameState":      fresh.Game,
		"numberSystem":   fresh.Numbers,
		"activeTickets":  fresh.ActiveTickets,
		"players":        fresh.Players,
		"bookingMetrics": fresh.Metrics,
	}
	if err := p.write(ctx, cmd.HostID, writes); err != nil {
		return nil, err
	}
	return PhaseResult{Phase: game.PhaseSetup}, nil
}

func (p *Processor) startBooking(ctx context.Context, cmd contracts.Command) (any, error) {
	snap, err := p.snapshot(ctx, cmd.HostID)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, Validationf("no game record for host %s", cmd.HostID)
	}
	st := snap.state
	if st.Game.Phase != game.PhaseSetup {
		return nil, Validationf("booking can only start from the setup phase, game is %s", st.Game.Phase)
	}

	setID := st.Settings.TicketSetID
	if cmd.StartBooking != nil && strings.TrimSpace(cmd.StartBooking.TicketSetID) != "" {
		setID = strings.TrimSpace(cmd.StartBooking.TicketSetID)
	}
	tickets, err := p.Tickets.Get(setID, st.Settings.MaxTickets)
	if err != nil {
		return nil, Validationf("ticket set %q is not available", setID)
	}
	ticketMap := make(map[string]game.Ticket, len(tickets))
	for _, t := range tickets {
		ticketMap[game.TicketKey(t.ID)] = t
	}

	writes := map[string]any{
		"settings.ticketSetId":   setID,
		"gameState.phase":        game.PhaseBooking,
		"gameState.status":       "booking open",
		"gameState.winners":      map[game.PrizeType][]int{},
		"numberSystem":           game.NumberSystem{CalledNumbers: []int{}},
		"activeTickets.tickets":  ticketMap,
		"activeTickets.bookings": map[string]game.Booking{},
		"players":                map[string]game.Player{},
		"bookingMetrics":         game.BookingMetrics{},
	}
	if err := p.write(ctx, cmd.HostID, writes); err != nil {
		return nil, err
	}
	return PhaseResult{Phase: game.PhaseBooking, TicketCount: len(tickets)}, nil
}

// startPlaying resets the number-calling sub-state but keeps winners, so a
// game paused back into booking does not forget prizes already awarded.
func (p *Processor) startPlaying(ctx context.Context, cmd contracts.Command) (any, error) {
	snap, err := p.snapshot(ctx, cmd.HostID)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, Validationf("no game record for host %s", cmd.HostID)
	}
	st := snap.state
	if st.Game.Phase != game.PhaseBooking {
		return nil, Validationf("play can only start from the booking phase, game is %s", st.Game.Phase)
	}

	writes := map[string]any{
		"gameState.phase":  game.PhasePlaying,
		"gameState.status": "in play",
		"numberSystem":     game.NumberSystem{CalledNumbers: []int{}},
	}
	if err := p.write(ctx, cmd.HostID, writes); err != nil {
		return nil, err
	}
	return PhaseResult{Phase: game.PhasePlaying}, nil
}

// completeGame marks the record completed and hands the full final state to
// the result stream so the archive sink can copy it into game history.
func (p *Processor) completeGame(ctx context.Context, cmd contracts.Command) (any, error) {
	snap, err := p.snapshot(ctx, cmd.HostID)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, Validationf("no game record for host %s", cmd.HostID)
	}
	st := snap.state
	if st.Game.Phase == game.PhaseCompleted {
		return nil, Conflictf("game is already completed")
	}

	writes := map[string]any{
		"gameState.phase":  game.PhaseCompleted,
		"gameState.status": "completed",
	}
	if err := p.write(ctx, cmd.HostID, writes); err != nil {
		return nil, err
	}

	final := st
	final.Game.Phase = game.PhaseCompleted
	final.Game.Status = "completed"
	return PhaseResult{Phase: game.PhaseCompleted, FinalState: &final}, nil
}

func (p *Processor) updateSettings(ctx context.Context, cmd contracts.Command) (any, error) {
	payload := cmd.UpdateSettings
	if payload == nil {
		return nil, Validationf("update-settings payload is required")
	}

	snap, err := p.snapshot(ctx, cmd.HostID)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, Validationf("no game record for host %s", cmd.HostID)
	}
	st := snap.state
	if st.Game.Phase != game.PhaseSetup {
		return nil, Validationf("settings can only change in the setup phase, game is %s", st.Game.Phase)
	}

	settings := normalizeSettings(payload.Settings)
	if err := p.write(ctx, cmd.HostID, map[string]any{"settings": settings}); err != nil {
		return nil, err
	}
	return PhaseResult{Phase: st.Game.Phase}, nil
}

func normalizeSettings(s game.Settings) game.Settings {
	defaults := game.DefaultSettings()
	if strings.TrimSpace(s.TicketSetID) == "" {
		s.TicketSetID = defaults.TicketSetID
	}
	if s.MaxTickets <= 0 {
		s.MaxTickets = defaults.MaxTickets
	}
	if s.CallDelaySeconds <= 0 {
		s.CallDelaySeconds = defaults.CallDelaySeconds
	}
	if len(s.EnabledPrizes) == 0 {
		s.EnabledPrizes = defaults.EnabledPrizes
	}
	return s
}
