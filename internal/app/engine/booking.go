package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/game"
)

// CreateBookingResult is the payload of a successful create-booking command.
type CreateBookingResult struct {
	PlayerID  string `json:"player_id"`
	TicketIDs []int  `json:"ticket_ids"`
}

func (p *Processor) createBooking(ctx context.Context, cmd contracts.Command) (any, error) {
	payload := cmd.CreateBooking
	if payload == nil {
		return nil, Validationf("create-booking payload is required")
	}
	name := strings.TrimSpace(payload.PlayerName)
	if name == "" {
		return nil, Validationf("player name is required")
	}
	phone := strings.TrimSpace(payload.PlayerPhone)
	if phone == "" {
		return nil, Validationf("player phone is required")
	}
	ids, err := uniqueTicketIDs(payload.TicketIDs)
	if err != nil {
		return nil, err
	}

	snap, err := p.snapshot(ctx, cmd.HostID)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, Validationf("no game record for host %s", cmd.HostID)
	}
	st := snap.state
	if st.Game.Phase != game.PhaseBooking {
		return nil, Validationf("bookings can only be created in the booking phase, game is %s", st.Game.Phase)
	}

	for _, id := range ids {
		ticket, ok := st.Ticket(id)
		if !ok {
			return nil, Validationf("ticket %d is not part of this game", id)
		}
		if _, booked := st.Booking(id); booked || !ticket.Available {
			return nil, Conflictf("ticket %d is already booked", id)
		}
	}

	playerID := p.newID()
	now := p.now()
	writes := map[string]any{
		"players." + playerID: game.Player{
			ID:          playerID,
			Name:        name,
			Phone:       phone,
			TicketIDs:   ids,
			TicketCount: len(ids),
		},
		"bookingMetrics": game.BookingMetrics{
			TotalBookings: st.Metrics.TotalBookings + len(ids),
			TotalPlayers:  st.Metrics.TotalPlayers + 1,
		},
	}
	for _, id := range ids {
		key := game.TicketKey(id)
		writes["activeTickets.bookings."+key] = game.Booking{
			TicketID:    id,
			PlayerID:    playerID,
			PlayerName:  name,
			PlayerPhone: phone,
			BookedAt:    now,
		}
		writes["activeTickets.tickets."+key+".available"] = false
	}

	if err := p.write(ctx, cmd.HostID, writes); err != nil {
		return nil, err
	}
	return CreateBookingResult{PlayerID: playerID, TicketIDs: ids}, nil
}

// CancelBookingResult is the payload of a successful cancel-booking command.
type CancelBookingResult struct {
	TicketsFreed   int      `json:"tickets_freed"`
	RemovedPlayers []string `json:"removed_players,omitempty"`
}

func (p *Processor) cancelBooking(ctx context.Context, cmd contracts.Command) (any, error) {
	payload := cmd.CancelBooking
	if payload == nil {
		return nil, Validationf("cancel-booking payload is required")
	}
	ids, err := uniqueTicketIDs(payload.TicketIDs)
	if err != nil {
		return nil, err
	}

	snap, err := p.snapshot(ctx, cmd.HostID)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, Validationf("no game record for host %s", cmd.HostID)
	}
	st := snap.state

	cancelledByPlayer := map[string][]int{}
	for _, id := range ids {
		booking, ok := st.Booking(id)
		if !ok {
			return nil, Validationf("ticket %d has no booking", id)
		}
		cancelledByPlayer[booking.PlayerID] = append(cancelledByPlayer[booking.PlayerID], id)
	}

	writes := map[string]any{}
	for _, id := range ids {
		key := game.TicketKey(id)
		writes["activeTickets.bookings."+key] = nil
		writes["activeTickets.tickets."+key+".available"] = true
	}

	var removedPlayers []string
	for playerID, cancelled := range cancelledByPlayer {
		player, ok := st.Players[playerID]
		if !ok {
			continue
		}
		remaining := withoutIDs(player.TicketIDs, cancelled)
		if len(remaining) == 0 {
			writes["players."+playerID] = nil
			removedPlayers = append(removedPlayers, playerID)
			continue
		}
		writes["players."+playerID+".ticketIds"] = remaining
		writes["players."+playerID+".ticketCount"] = len(remaining)
	}
	sort.Strings(removedPlayers)

	writes["bookingMetrics"] = game.BookingMetrics{
		TotalBookings: maxInt(0, st.Metrics.TotalBookings-len(ids)),
		TotalPlayers:  maxInt(0, st.Metrics.TotalPlayers-len(removedPlayers)),
	}

	if err := p.write(ctx, cmd.HostID, writes); err != nil {
		return nil, err
	}
	return CancelBookingResult{TicketsFreed: len(ids), RemovedPlayers: removedPlayers}, nil
}

// UpdatePrizeWinnersResult is the payload of a successful manual award.
type UpdatePrizeWinnersResult struct {
	Prize     game.PrizeType `json:"prize"`
	TicketIDs []int          `json:"ticket_ids"`
}

func (p *Processor) updatePrizeWinners(ctx context.Context, cmd contracts.Command) (any, error) {
	payload := cmd.UpdatePrizeWinners
	if payload == nil {
		return nil, Validationf("update-prize-winners payload is required")
	}
	if !game.ValidPrize(payload.Prize) {
		return nil, Validationf("unknown prize type %q", payload.Prize)
	}
	ids, err := uniqueTicketIDs(payload.TicketIDs)
	if err != nil {
		return nil, err
	}

	snap, err := p.snapshot(ctx, cmd.HostID)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, Validationf("no game record for host %s", cmd.HostID)
	}
	st := snap.state
	if !st.Settings.PrizeEnabled(payload.Prize) {
		return nil, Validationf("prize %q is not enabled for this game", payload.Prize)
	}
	if len(st.Game.WinnersFor(payload.Prize)) > 0 {
		return nil, Conflictf("prize %q is already claimed", payload.Prize)
	}

	writes := map[string]any{
		"gameState.winners." + string(payload.Prize): ids,
	}
	if err := p.write(ctx, cmd.HostID, writes); err != nil {
		return nil, err
	}
	return UpdatePrizeWinnersResult{Prize: payload.Prize, TicketIDs: ids}, nil
}

func uniqueTicketIDs(ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, Validationf("at least one ticket id is required")
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 1 {
			return nil, Validationf("invalid ticket id %d", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Ints(out)
	return out, nil
}

func withoutIDs(ids, removed []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		drop := false
		for _, r := range removed {
			if id == r {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, id)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
