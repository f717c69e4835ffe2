// Package engine turns validated commands into atomic state transitions
// against one host's persisted game record. It owns every write to the
// record; the queue guarantees at most one execution is in flight.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nuid"

	"github.com/tambola-live/engine/internal/app/store"
	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/game"
	"github.com/tambola-live/engine/internal/ticketset"
)

type snapshotResult struct {
	state  game.State
	exists bool
}

// Processor executes one command at a time. Announce and PublishState are
// best-effort side effects: they may be nil and their failures never fail
// the command that triggered them.
type Processor struct {
	Store        store.Store
	Tickets      *ticketset.Library
	Announce     func(hostID string, number int)
	PublishState func(hostID, commandID string)
	Now          func() time.Time
	NewID        func() string
}

func NewProcessor(st store.Store, tickets *ticketset.Library) *Processor {
	return &Processor{
		Store:   st,
		Tickets: tickets,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
	}
}

// Execute validates and applies one command, returning its result payload.
// Errors carry an ErrorClass; anything else bubbling out of the store is
// classified by Classify at the reporting edge.
func (p *Processor) Execute(ctx context.Context, cmd contracts.Command) (any, error) {
	if cmd.HostID == "" {
		return nil, Validationf("host id is required")
	}

	var (
		payload any
		err     error
	)
	switch cmd.Kind {
	case contracts.KindCallNumber:
		payload, err = p.callNumber(ctx, cmd)
	case contracts.KindCreateBooking:
		payload, err = p.createBooking(ctx, cmd)
	case contracts.KindCancelBooking:
		payload, err = p.cancelBooking(ctx, cmd)
	case contracts.KindUpdatePrizeWinners:
		payload, err = p.updatePrizeWinners(ctx, cmd)
	case contracts.KindInitializeGame:
		payload, err = p.initializeGame(ctx, cmd)
	case contracts.KindStartBooking:
		payload, err = p.startBooking(ctx, cmd)
	case contracts.KindStartPlaying:
		payload, err = p.startPlaying(ctx, cmd)
	case contracts.KindCompleteGame:
		payload, err = p.completeGame(ctx, cmd)
	case contracts.KindUpdateSettings:
		payload, err = p.updateSettings(ctx, cmd)
	default:
		return nil, Validationf("unsupported command kind %q", cmd.Kind)
	}
	if err != nil {
		return nil, err
	}

	p.publishState(cmd.HostID, cmd.ID)
	return payload, nil
}

func (p *Processor) snapshot(ctx context.Context, hostID string) (snapshotResult, error) {
	state, ok, err := p.Store.Snapshot(ctx, hostID)
	if err != nil {
		return snapshotResult{}, fmt.Errorf("read game record: %w", err)
	}
	return snapshotResult{state: state, exists: ok}, nil
}

func (p *Processor) write(ctx context.Context, hostID string, writes map[string]any) error {
	if err := p.Store.BatchWrite(ctx, hostID, writes); err != nil {
		return fmt.Errorf("write game record: %w", err)
	}
	return nil
}

// publishState notifies the read path that the record changed.
// Never fails the command: the write already committed.
func (p *Processor) publishState(hostID, commandID string) {
	if p.PublishState == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("state publish panicked host=%s command=%s: %v", hostID, commandID, r)
		}
	}()
	p.PublishState(hostID, commandID)
}

// announce delivers the spoken call. Fire-and-forget by contract.
func (p *Processor) announce(hostID string, n int) {
	if p.Announce == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("announcement panicked host=%s number=%d: %v", hostID, n, r)
		}
	}()
	p.Announce(hostID, n)
}

func (p *Processor) newID() string {
	if p.NewID == nil {
		return nuid.Next()
	}
	return p.NewID()
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now()
}
