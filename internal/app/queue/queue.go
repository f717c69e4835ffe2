// Package queue serializes every state-mutating command against one shared
// game record. Commands are buffered in priority order and dispatched one at
// a time by a single worker goroutine, so the record has exactly one
// in-flight writer at any instant.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tambola-live/engine/internal/contracts"
)

var (
	ErrQueueFull        = errors.New("command queue is at capacity")
	ErrDuplicateCommand = errors.New("equivalent command was enqueued moments ago")
	ErrQueueStopped     = errors.New("command queue is stopped")
)

// ExecuteFunc runs one command and returns its result payload.
// It must honor ctx: execution is aborted cooperatively on deadline.
type ExecuteFunc func(ctx context.Context, cmd contracts.Command) (any, error)

type Config struct {
	Capacity       int
	DedupWindow    time.Duration
	ExecTimeout    time.Duration
	InterItemDelay time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
}

func DefaultConfig() Config {
	return Config{
		Capacity:       20,
		DedupWindow:    2 * time.Second,
		ExecTimeout:    8 * time.Second,
		InterItemDelay: 50 * time.Millisecond,
		RetryDelay:     500 * time.Millisecond,
		MaxRetries:     3,
	}
}

// Item wraps a pending command. The queue owns it while buffered; ownership
// passes to the dispatch loop for the duration of each attempt.
type Item struct {
	Command    contracts.Command
	Priority   contracts.Priority
	EnqueuedAt time.Time
	Attempts   int
}

type Stats struct {
	Executed        uint64        `json:"executed"`
	Failed          uint64        `json:"failed"`
	AverageDuration time.Duration `json:"average_duration_ns"`
}

type Health struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues,omitempty"`
}

// Queue is the single-flight command buffer. OnResult fires exactly once per
// accepted command when it reaches a terminal state; OnError fires
// additionally for terminal failures. Retryable and Classify are injected so
// the queue stays ignorant of the processor's error taxonomy.
type Queue struct {
	Execute   ExecuteFunc
	Retryable func(error) bool
	Classify  func(error) string
	OnResult  func(contracts.CommandResult)
	OnError   func(contracts.CommandError)
	Now       func() time.Time

	cfg Config

	mu        sync.Mutex
	items     []*Item
	recent    map[string]time.Time
	executing bool
	stopped   bool

	executed      uint64
	failed        uint64
	totalDuration time.Duration

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func New(execute ExecuteFunc, cfg Config) *Queue {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = def.ExecTimeout
	}
	if cfg.InterItemDelay <= 0 {
		cfg.InterItemDelay = def.InterItemDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Queue{
		Execute: execute,
		Now:     func() time.Time { return time.Now().UTC() },
		cfg:     cfg,
		recent:  map[string]time.Time{},
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (q *Queue) Start() {
	go q.run()
}

// Stop ends the dispatch loop after the in-flight command, if any, finishes.
// Commands still buffered resolve terminally with ErrQueueStopped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.quit)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue accepts a command for sequential execution. It rejects when the
// buffer is full or when a structurally identical command was accepted
// within the de-duplication window. Within a priority class submission
// order is preserved; higher classes dispatch first.
func (q *Queue) Enqueue(cmd contracts.Command, priority contracts.Priority) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return "", ErrQueueStopped
	}
	if len(q.items) >= q.cfg.Capacity {
		return "", ErrQueueFull
	}

	now := q.Now()
	key := cmd.DedupKey()
	for k, seen := range q.recent {
		if now.Sub(seen) >= q.cfg.DedupWindow {
			delete(q.recent, k)
		}
	}
	if seen, ok := q.recent[key]; ok && now.Sub(seen) < q.cfg.DedupWindow {
		return "", ErrDuplicateCommand
	}
	q.recent[key] = now

	q.insert(&Item{Command: cmd, Priority: priority, EnqueuedAt: now}, false)
	q.notify()
	return cmd.ID, nil
}

// insert places an item by priority. New items go after every item of equal
// or higher priority; retried items re-enter at the front of their class.
func (q *Queue) insert(item *Item, frontOfClass bool) {
	idx := len(q.items)
	for i, pending := range q.items {
		if pending.Priority < item.Priority || (frontOfClass && pending.Priority == item.Priority) {
			idx = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = item
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) next() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	q.executing = true
	return item
}

func (q *Queue) run() {
	defer close(q.done)
	defer q.drain()
	for {
		item := q.next()
		if item == nil {
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			}
		}

		q.dispatch(item)

		q.mu.Lock()
		q.executing = false
		q.mu.Unlock()

		select {
		case <-time.After(q.cfg.InterItemDelay):
		case <-q.quit:
			return
		}
	}
}

// dispatch runs one attempt. Retryable failures are re-scheduled at the
// front of their priority class after a fixed delay; everything else is
// terminal and reported exactly once.
func (q *Queue) dispatch(item *Item) {
	item.Attempts++
	start := q.Now()

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.ExecTimeout)
	payload, err := q.Execute(ctx, item.Command)
	cancel()

	duration := q.Now().Sub(start)
	if err != nil && ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("command timed out after %s: %w", q.cfg.ExecTimeout, context.DeadlineExceeded)
	}

	if err == nil {
		q.report(item, payload, nil, duration)
		return
	}

	if q.Retryable != nil && q.Retryable(err) && item.Attempts <= q.cfg.MaxRetries {
		log.Printf("command %s attempt %d failed, retrying: %v", item.Command.ID, item.Attempts, err)
		time.AfterFunc(q.cfg.RetryDelay, func() { q.requeue(item) })
		return
	}

	q.report(item, nil, err, duration)
}

// drain resolves every command still buffered when the dispatch loop exits.
// An accepted command is never dropped without a terminal report.
func (q *Queue) drain() {
	q.mu.Lock()
	remaining := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range remaining {
		q.report(item, nil, ErrQueueStopped, 0)
	}
}

func (q *Queue) requeue(item *Item) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.report(item, nil, ErrQueueStopped, 0)
		return
	}
	q.insert(item, true)
	q.notify()
	q.mu.Unlock()
}

// report produces the single terminal outcome for an accepted command.
func (q *Queue) report(item *Item, payload any, err error, duration time.Duration) {
	now := q.Now()

	q.mu.Lock()
	if err == nil {
		q.executed++
	} else {
		q.failed++
	}
	q.totalDuration += duration
	q.mu.Unlock()

	result := contracts.CommandResult{
		Command:     item.Command,
		Success:     err == nil,
		Attempts:    item.Attempts,
		CompletedAt: now,
		Duration:    duration,
	}
	if err != nil {
		result.Error = err.Error()
	} else if payload != nil {
		if raw, marshalErr := json.Marshal(payload); marshalErr == nil {
			result.Payload = raw
		}
	}

	if q.OnResult != nil {
		q.OnResult(result)
	}
	if err != nil && q.OnError != nil {
		class := "execution"
		if q.Classify != nil {
			class = q.Classify(err)
		}
		q.OnError(contracts.CommandError{
			CommandID:  item.Command.ID,
			HostID:     item.Command.HostID,
			Kind:       item.Command.Kind,
			Class:      class,
			Message:    err.Error(),
			Attempts:   item.Attempts,
			OccurredAt: now,
		})
	}
}

// Depth is the number of buffered commands, excluding the one in flight.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Executing reports whether a command is currently in flight.
func (q *Queue) Executing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.executing
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := Stats{Executed: q.executed, Failed: q.failed}
	if total := q.executed + q.failed; total > 0 {
		stats.AverageDuration = q.totalDuration / time.Duration(total)
	}
	return stats
}

// CheckHealth flags excessive depth and failure rates.
func (q *Queue) CheckHealth() Health {
	q.mu.Lock()
	depth := len(q.items)
	executed := q.executed
	failed := q.failed
	q.mu.Unlock()

	health := Health{Healthy: true}
	if depth > q.cfg.Capacity*3/4 {
		health.Healthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("queue depth %d approaching capacity %d", depth, q.cfg.Capacity))
	}
	if total := executed + failed; total >= 10 && failed*2 > total {
		health.Healthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("failure rate %d/%d over lifetime", failed, total))
	}
	return health
}
