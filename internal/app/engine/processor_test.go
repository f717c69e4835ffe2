package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tambola-live/engine/internal/app/store"
	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/game"
	"github.com/tambola-live/engine/internal/ticketset"
)

const testHost = "host-1"

func newTestProcessor(t *testing.T) (*Processor, *store.Memory) {
	t.Helper()
	library, err := ticketset.NewLibrary("")
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	mem := store.NewMemory()
	p := NewProcessor(mem, library)
	p.Now = func() time.Time { return time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC) }
	ids := 0
	p.NewID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return p, mem
}

func command(kind contracts.CommandKind) contracts.Command {
	return contracts.Command{ID: "cmd-1", HostID: testHost, Kind: kind, SubmittedAt: time.Now()}
}

func mustExecute(t *testing.T, p *Processor, cmd contracts.Command) any {
	t.Helper()
	payload, err := p.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("execute %s: %v", cmd.Kind, err)
	}
	return payload
}

func snapshot(t *testing.T, mem *store.Memory) game.State {
	t.Helper()
	st, ok, err := mem.Snapshot(context.Background(), testHost)
	if err != nil || !ok {
		t.Fatalf("snapshot: ok=%v err=%v", ok, err)
	}
	return st
}

// setupPlayingGame initializes a game, books the given tickets for one
// player each, and moves it into the playing phase.
func setupPlayingGame(t *testing.T, p *Processor, prizes []game.PrizeType, bookings map[string][]int) {
	t.Helper()
	init := command(contracts.KindInitializeGame)
	init.InitializeGame = &contracts.InitializeGamePayload{
		Settings: game.Settings{EnabledPrizes: prizes},
	}
	mustExecute(t, p, init)
	mustExecute(t, p, command(contracts.KindStartBooking))

	for name, ids := range bookings {
		book := command(contracts.KindCreateBooking)
		book.CreateBooking = &contracts.CreateBookingPayload{
			PlayerName:  name,
			PlayerPhone: "555-0101",
			TicketIDs:   ids,
		}
		mustExecute(t, p, book)
	}
	mustExecute(t, p, command(contracts.KindStartPlaying))
}

func TestInitializeAndStartBooking(t *testing.T) {
	p, mem := newTestProcessor(t)

	mustExecute(t, p, command(contracts.KindInitializeGame))
	st := snapshot(t, mem)
	if st.Game.Phase != game.PhaseSetup {
		t.Fatalf("phase = %s, want setup", st.Game.Phase)
	}
	if st.Settings.TicketSetID != game.DefaultSettings().TicketSetID {
		t.Errorf("ticket set = %q", st.Settings.TicketSetID)
	}

	payload := mustExecute(t, p, command(contracts.KindStartBooking))
	result, ok := payload.(PhaseResult)
	if !ok || result.Phase != game.PhaseBooking {
		t.Fatalf("start booking payload = %+v", payload)
	}
	if result.TicketCount == 0 {
		t.Fatal("no tickets loaded for booking")
	}

	st = snapshot(t, mem)
	if st.Game.Phase != game.PhaseBooking {
		t.Fatalf("phase = %s, want booking", st.Game.Phase)
	}
	if len(st.ActiveTickets.Tickets) != result.TicketCount {
		t.Errorf("tickets persisted = %d, want %d", len(st.ActiveTickets.Tickets), result.TicketCount)
	}
	ticket, ok := st.Ticket(1)
	if !ok || !ticket.Available {
		t.Errorf("ticket 1 = %+v, want available", ticket)
	}
}

func TestPhaseTransitionGuards(t *testing.T) {
	p, _ := newTestProcessor(t)
	mustExecute(t, p, command(contracts.KindInitializeGame))

	_, err := p.Execute(context.Background(), command(contracts.KindStartPlaying))
	if Classify(err) != ClassValidation {
		t.Fatalf("start-playing from setup: err = %v, want validation", err)
	}

	call := command(contracts.KindCallNumber)
	call.CallNumber = &contracts.CallNumberPayload{Number: 10}
	_, err = p.Execute(context.Background(), call)
	if Classify(err) != ClassValidation {
		t.Fatalf("call-number in setup: err = %v, want validation", err)
	}

	mustExecute(t, p, command(contracts.KindStartBooking))
	mustExecute(t, p, command(contracts.KindStartPlaying))
	mustExecute(t, p, command(contracts.KindCompleteGame))

	_, err = p.Execute(context.Background(), command(contracts.KindCompleteGame))
	if Classify(err) != ClassConflict {
		t.Fatalf("double completion: err = %v, want conflict", err)
	}
}

func TestCreateBookingRejectsTakenTickets(t *testing.T) {
	p, mem := newTestProcessor(t)
	mustExecute(t, p, command(contracts.KindInitializeGame))
	mustExecute(t, p, command(contracts.KindStartBooking))

	book := command(contracts.KindCreateBooking)
	book.CreateBooking = &contracts.CreateBookingPayload{
		PlayerName:  "Asha",
		PlayerPhone: "555-0101",
		TicketIDs:   []int{2, 1, 2},
	}
	payload := mustExecute(t, p, book)
	created, ok := payload.(CreateBookingResult)
	if !ok {
		t.Fatalf("payload = %+v", payload)
	}
	if len(created.TicketIDs) != 2 || created.TicketIDs[0] != 1 {
		t.Errorf("booked ids = %v, want deduplicated ascending [1 2]", created.TicketIDs)
	}

	rebook := command(contracts.KindCreateBooking)
	rebook.CreateBooking = &contracts.CreateBookingPayload{
		PlayerName:  "Ravi",
		PlayerPhone: "555-0102",
		TicketIDs:   []int{2},
	}
	_, err := p.Execute(context.Background(), rebook)
	if Classify(err) != ClassConflict {
		t.Fatalf("rebooking: err = %v, want conflict", err)
	}

	st := snapshot(t, mem)
	if st.Metrics.TotalBookings != 2 || st.Metrics.TotalPlayers != 1 {
		t.Errorf("metrics = %+v", st.Metrics)
	}
	if ticket, _ := st.Ticket(1); ticket.Available {
		t.Error("ticket 1 still available after booking")
	}
}

func TestCancelBookingFreesTicketsAndRemovesEmptyPlayers(t *testing.T) {
	p, mem := newTestProcessor(t)
	mustExecute(t, p, command(contracts.KindInitializeGame))
	mustExecute(t, p, command(contracts.KindStartBooking))

	book := command(contracts.KindCreateBooking)
	book.CreateBooking = &contracts.CreateBookingPayload{
		PlayerName:  "Asha",
		PlayerPhone: "555-0101",
		TicketIDs:   []int{1, 2},
	}
	mustExecute(t, p, book)

	cancel := command(contracts.KindCancelBooking)
	cancel.CancelBooking = &contracts.CancelBookingPayload{TicketIDs: []int{1}}
	mustExecute(t, p, cancel)

	st := snapshot(t, mem)
	if ticket, _ := st.Ticket(1); !ticket.Available {
		t.Error("ticket 1 not freed")
	}
	if len(st.Players) != 1 {
		t.Fatalf("players = %d, want 1", len(st.Players))
	}
	for _, player := range st.Players {
		if player.TicketCount != 1 {
			t.Errorf("player = %+v, want one remaining ticket", player)
		}
	}

	cancel = command(contracts.KindCancelBooking)
	cancel.CancelBooking = &contracts.CancelBookingPayload{TicketIDs: []int{2}}
	payload := mustExecute(t, p, cancel)
	result, ok := payload.(CancelBookingResult)
	if !ok || len(result.RemovedPlayers) != 1 {
		t.Fatalf("cancel payload = %+v, want one removed player", payload)
	}
	if result.TicketsFreed != 1 {
		t.Errorf("result.TicketsFreed = %d, want 1", result.TicketsFreed)
	}

	st = snapshot(t, mem)
	if len(st.Players) != 0 {
		t.Errorf("players = %d, want 0", len(st.Players))
	}
	if st.Metrics.TotalBookings != 0 || st.Metrics.TotalPlayers != 0 {
		t.Errorf("metrics = %+v, want zeroes", st.Metrics)
	}

	// A freed ticket can be booked again.
	rebook := command(contracts.KindCreateBooking)
	rebook.CreateBooking = &contracts.CreateBookingPayload{
		PlayerName:  "Ravi",
		PlayerPhone: "555-0102",
		TicketIDs:   []int{1},
	}
	mustExecute(t, p, rebook)
}

func TestCancelBookingUnknownTicket(t *testing.T) {
	p, _ := newTestProcessor(t)
	mustExecute(t, p, command(contracts.KindInitializeGame))
	mustExecute(t, p, command(contracts.KindStartBooking))

	cancel := command(contracts.KindCancelBooking)
	cancel.CancelBooking = &contracts.CancelBookingPayload{TicketIDs: []int{5}}
	_, err := p.Execute(context.Background(), cancel)
	if Classify(err) != ClassValidation {
		t.Fatalf("cancel without booking: err = %v, want validation", err)
	}
}

func TestCallNumberRejectsRepeatsAndAnnounces(t *testing.T) {
	p, mem := newTestProcessor(t)
	var announced []int
	p.Announce = func(_ string, n int) { announced = append(announced, n) }
	setupPlayingGame(t, p, []game.PrizeType{game.PrizeTopLine}, map[string][]int{"Asha": {1}})

	call := command(contracts.KindCallNumber)
	call.CallNumber = &contracts.CallNumberPayload{Number: 88}
	payload := mustExecute(t, p, call)
	result, ok := payload.(CallNumberResult)
	if !ok || result.Number != 88 || result.TotalCalled != 1 || result.GameCompleted {
		t.Fatalf("call payload = %+v", payload)
	}
	if len(announced) != 1 || announced[0] != 88 {
		t.Fatalf("announcements = %v, want [88]", announced)
	}

	_, err := p.Execute(context.Background(), call)
	if Classify(err) != ClassConflict {
		t.Fatalf("repeated call: err = %v, want conflict", err)
	}

	outOfRange := command(contracts.KindCallNumber)
	outOfRange.CallNumber = &contracts.CallNumberPayload{Number: 91}
	_, err = p.Execute(context.Background(), outOfRange)
	if Classify(err) != ClassValidation {
		t.Fatalf("out of range call: err = %v, want validation", err)
	}

	st := snapshot(t, mem)
	if st.Numbers.CurrentNumber != 88 || len(st.Numbers.CalledNumbers) != 1 {
		t.Errorf("number system = %+v", st.Numbers)
	}
}

func TestCallNumberAwardsPrizes(t *testing.T) {
	p, mem := newTestProcessor(t)
	setupPlayingGame(t, p, []game.PrizeType{game.PrizeTopLine}, map[string][]int{"Asha": {1}})

	st := snapshot(t, mem)
	ticket, _ := st.Ticket(1)
	topRow := ticket.RowNumbers(0)

	var last CallNumberResult
	for _, n := range topRow {
		call := command(contracts.KindCallNumber)
		call.CallNumber = &contracts.CallNumberPayload{Number: n}
		last = mustExecute(t, p, call).(CallNumberResult)
	}

	if len(last.NewWinners[game.PrizeTopLine]) != 1 || last.NewWinners[game.PrizeTopLine][0] != 1 {
		t.Fatalf("new winners = %+v, want top line for ticket 1", last.NewWinners)
	}
	st = snapshot(t, mem)
	if winners := st.Game.WinnersFor(game.PrizeTopLine); len(winners) != 1 || winners[0] != 1 {
		t.Fatalf("persisted winners = %v, want [1]", winners)
	}

	// The claimed prize survives further calls untouched.
	call := command(contracts.KindCallNumber)
	call.CallNumber = &contracts.CallNumberPayload{Number: pickUncalled(t, st)}
	mustExecute(t, p, call)
	st = snapshot(t, mem)
	if winners := st.Game.WinnersFor(game.PrizeTopLine); len(winners) != 1 {
		t.Fatalf("winners after extra call = %v", winners)
	}
}

func pickUncalled(t *testing.T, st game.State) int {
	t.Helper()
	for n := 1; n <= game.MaxNumber; n++ {
		if !st.Numbers.Called(n) {
			return n
		}
	}
	t.Fatal("all numbers called")
	return 0
}

func TestCallingEveryNumberFlagsCompletion(t *testing.T) {
	p, mem := newTestProcessor(t)
	setupPlayingGame(t, p, []game.PrizeType{game.PrizeTopLine}, map[string][]int{"Asha": {1}})

	var last CallNumberResult
	for n := 1; n <= game.MaxNumber; n++ {
		call := command(contracts.KindCallNumber)
		call.CallNumber = &contracts.CallNumberPayload{Number: n}
		last = mustExecute(t, p, call).(CallNumberResult)
		if n < game.MaxNumber && last.GameCompleted {
			t.Fatalf("completion flagged at %d", n)
		}
	}
	if !last.GameCompleted {
		t.Fatal("completion not flagged on the 90th number")
	}

	// The call itself does not change phase; completion is its own command.
	st := snapshot(t, mem)
	if st.Game.Phase != game.PhasePlaying {
		t.Fatalf("phase = %s, want playing", st.Game.Phase)
	}

	payload := mustExecute(t, p, command(contracts.KindCompleteGame))
	result, ok := payload.(PhaseResult)
	if !ok || result.FinalState == nil {
		t.Fatalf("completion payload = %+v, want final state", payload)
	}
	if result.FinalState.Game.Phase != game.PhaseCompleted {
		t.Errorf("final state phase = %s", result.FinalState.Game.Phase)
	}
}

func TestUpdatePrizeWinnersManualAward(t *testing.T) {
	p, mem := newTestProcessor(t)
	setupPlayingGame(t, p, []game.PrizeType{game.PrizeTopLine, game.PrizeFullHouse}, map[string][]int{"Asha": {1}})

	award := command(contracts.KindUpdatePrizeWinners)
	award.UpdatePrizeWinners = &contracts.UpdatePrizeWinnersPayload{
		Prize:     game.PrizeFullHouse,
		TicketIDs: []int{1},
	}
	mustExecute(t, p, award)

	st := snapshot(t, mem)
	if winners := st.Game.WinnersFor(game.PrizeFullHouse); len(winners) != 1 || winners[0] != 1 {
		t.Fatalf("winners = %v, want [1]", winners)
	}

	_, err := p.Execute(context.Background(), award)
	if Classify(err) != ClassConflict {
		t.Fatalf("double award: err = %v, want conflict", err)
	}

	disabled := command(contracts.KindUpdatePrizeWinners)
	disabled.UpdatePrizeWinners = &contracts.UpdatePrizeWinnersPayload{
		Prize:     game.PrizeQuickFive,
		TicketIDs: []int{1},
	}
	_, err = p.Execute(context.Background(), disabled)
	if Classify(err) != ClassValidation {
		t.Fatalf("disabled prize award: err = %v, want validation", err)
	}
}

func TestUpdateSettingsOnlyInSetup(t *testing.T) {
	p, mem := newTestProcessor(t)
	mustExecute(t, p, command(contracts.KindInitializeGame))

	update := command(contracts.KindUpdateSettings)
	update.UpdateSettings = &contracts.UpdateSettingsPayload{
		Settings: game.Settings{MaxTickets: 30},
	}
	mustExecute(t, p, update)

	st := snapshot(t, mem)
	if st.Settings.MaxTickets != 30 {
		t.Fatalf("max tickets = %d, want 30", st.Settings.MaxTickets)
	}
	if st.Settings.TicketSetID == "" {
		t.Error("ticket set default not filled in")
	}

	mustExecute(t, p, command(contracts.KindStartBooking))
	_, err := p.Execute(context.Background(), update)
	if Classify(err) != ClassValidation {
		t.Fatalf("settings update in booking: err = %v, want validation", err)
	}
}

func TestExecuteRequiresHostAndKnownKind(t *testing.T) {
	p, _ := newTestProcessor(t)

	cmd := command(contracts.KindInitializeGame)
	cmd.HostID = ""
	if _, err := p.Execute(context.Background(), cmd); Classify(err) != ClassValidation {
		t.Fatalf("missing host: err = %v, want validation", err)
	}

	unknown := command(contracts.CommandKind("launch-rocket"))
	if _, err := p.Execute(context.Background(), unknown); Classify(err) != ClassValidation {
		t.Fatalf("unknown kind: err = %v, want validation", err)
	}
}

func TestPublishStateFiresAfterSuccess(t *testing.T) {
	p, _ := newTestProcessor(t)
	var published []string
	p.PublishState = func(hostID, commandID string) {
		published = append(published, hostID+"/"+commandID)
	}

	mustExecute(t, p, command(contracts.KindInitializeGame))
	if len(published) != 1 || published[0] != testHost+"/cmd-1" {
		t.Fatalf("published = %v", published)
	}

	_, _ = p.Execute(context.Background(), command(contracts.KindStartPlaying))
	if len(published) != 1 {
		t.Fatalf("failed command published state: %v", published)
	}
}
