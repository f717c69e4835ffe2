package engine

import (
	"context"
	"log"

	"github.com/tambola-live/engine/internal/app/prize"
	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/game"
)

// CallNumberResult is the payload of a successful call-number command.
type CallNumberResult struct {
	Number        int                      `json:"number"`
	TotalCalled   int                      `json:"total_called"`
	GameCompleted bool                     `json:"game_completed"`
	NewWinners    map[game.PrizeType][]int `json:"new_winners,omitempty"`
}

func (p *Processor) callNumber(ctx context.Context, cmd contracts.Command) (any, error) {
	payload := cmd.CallNumber
	if payload == nil {
		return nil, Validationf("call-number payload is required")
	}
	n := payload.Number
	if n < 1 || n > game.MaxNumber {
		return nil, Validationf("number %d is out of range 1-%d", n, game.MaxNumber)
	}

	snap, err := p.snapshot(ctx, cmd.HostID)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, Validationf("no game record for host %s", cmd.HostID)
	}
	st := snap.state
	if st.Game.Phase != game.PhasePlaying {
		return nil, Validationf("numbers can only be called in the playing phase, game is %s", st.Game.Phase)
	}
	if st.Numbers.Called(n) {
		return nil, Conflictf("number %d was already called", n)
	}

	called := append(append([]int(nil), st.Numbers.CalledNumbers...), n)
	writes := map[string]any{
		"numberSystem.calledNumbers": called,
		"numberSystem.currentNumber": n,
	}
	if err := p.write(ctx, cmd.HostID, writes); err != nil {
		return nil, err
	}

	p.announce(cmd.HostID, n)

	updated := st
	updated.Numbers.CalledNumbers = called
	updated.Numbers.CurrentNumber = n
	newWinners := p.applyPrizes(ctx, cmd.HostID, updated, n)

	return CallNumberResult{
		Number:        n,
		TotalCalled:   len(called),
		GameCompleted: len(called) == game.MaxNumber,
		NewWinners:    newWinners,
	}, nil
}

// applyPrizes runs the validation engine against the freshly written state
// and persists any new winners. Failures here are logged and swallowed: a
// successful number call is never converted into a failure by prize
// detection, and the next call re-evaluates from persisted state anyway.
func (p *Processor) applyPrizes(ctx context.Context, hostID string, st game.State, lastCalled int) map[game.PrizeType][]int {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("prize validation panicked host=%s number=%d: %v", hostID, lastCalled, r)
		}
	}()

	newWinners := prize.Evaluate(st, lastCalled)
	if len(newWinners) == 0 {
		return nil
	}

	writes := make(map[string]any, len(newWinners))
	for pt, ids := range newWinners {
		merged := mergeWinners(st.Game.WinnersFor(pt), ids)
		writes["gameState.winners."+string(pt)] = merged
	}
	if err := p.write(ctx, hostID, writes); err != nil {
		log.Printf("persisting prize winners failed host=%s number=%d: %v", hostID, lastCalled, err)
		return nil
	}
	return newWinners
}

// mergeWinners appends ids that are not already present. Winner lists are
// append-only; an id is never removed or duplicated.
func mergeWinners(existing, additions []int) []int {
	merged := append([]int(nil), existing...)
	for _, id := range additions {
		present := false
		for _, have := range merged {
			if have == id {
				present = true
				break
			}
		}
		if !present {
			merged = append(merged, id)
		}
	}
	return merged
}
