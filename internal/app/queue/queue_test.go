package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tambola-live/engine/internal/contracts"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InterItemDelay = time.Millisecond
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func command(id string, kind contracts.CommandKind) contracts.Command {
	cmd := contracts.Command{ID: id, HostID: "host-1", Kind: kind, SubmittedAt: time.Now()}
	switch kind {
	case contracts.KindCallNumber:
		cmd.CallNumber = &contracts.CallNumberPayload{Number: 7}
	case contracts.KindCreateBooking:
		cmd.CreateBooking = &contracts.CreateBookingPayload{PlayerName: "Asha", PlayerPhone: "555", TicketIDs: []int{1}}
	}
	return cmd
}

func TestDispatchFollowsPriorityOrder(t *testing.T) {
	order := make(chan string, 3)
	q := New(func(_ context.Context, cmd contracts.Command) (any, error) {
		order <- cmd.ID
		return nil, nil
	}, testConfig())

	if _, err := q.Enqueue(command("normal", contracts.KindCreateBooking), contracts.PriorityNormal); err != nil {
		t.Fatalf("enqueue normal: %v", err)
	}
	if _, err := q.Enqueue(command("high", contracts.KindCallNumber), contracts.PriorityHigh); err != nil {
		t.Fatalf("enqueue high: %v", err)
	}
	if _, err := q.Enqueue(command("critical", contracts.KindCompleteGame), contracts.PriorityCritical); err != nil {
		t.Fatalf("enqueue critical: %v", err)
	}

	q.Start()
	defer q.Stop(context.Background())

	want := []string{"critical", "high", "normal"}
	for i, expected := range want {
		select {
		case got := <-order:
			if got != expected {
				t.Fatalf("dispatch %d = %s, want %s", i, got, expected)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for dispatch %d", i)
		}
	}
}

func TestInsertKeepsFIFOWithinClassAndRetriesJumpToClassFront(t *testing.T) {
	q := New(nil, testConfig())

	q.insert(&Item{Command: command("a", contracts.KindCallNumber), Priority: contracts.PriorityNormal}, false)
	q.insert(&Item{Command: command("b", contracts.KindCallNumber), Priority: contracts.PriorityNormal}, false)
	q.insert(&Item{Command: command("c", contracts.KindCallNumber), Priority: contracts.PriorityHigh}, false)
	q.insert(&Item{Command: command("d", contracts.KindCallNumber), Priority: contracts.PriorityNormal}, true)

	want := []string{"c", "d", "a", "b"}
	if len(q.items) != len(want) {
		t.Fatalf("buffered %d items, want %d", len(q.items), len(want))
	}
	for i, expected := range want {
		if got := q.items[i].Command.ID; got != expected {
			t.Errorf("items[%d] = %s, want %s", i, got, expected)
		}
	}
}

func TestEnqueueRejectsDuplicateWithinWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	q := New(nil, testConfig())
	q.Now = func() time.Time { return now }

	first := command("cmd-1", contracts.KindCallNumber)
	if _, err := q.Enqueue(first, contracts.PriorityHigh); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	duplicate := command("cmd-2", contracts.KindCallNumber)
	if _, err := q.Enqueue(duplicate, contracts.PriorityHigh); !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("duplicate enqueue error = %v, want ErrDuplicateCommand", err)
	}

	now = now.Add(3 * time.Second)
	if _, err := q.Enqueue(duplicate, contracts.PriorityHigh); err != nil {
		t.Fatalf("enqueue after window: %v", err)
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 2
	q := New(nil, cfg)

	if _, err := q.Enqueue(command("a", contracts.KindCallNumber), contracts.PriorityNormal); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := q.Enqueue(command("b", contracts.KindCreateBooking), contracts.PriorityNormal); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if _, err := q.Enqueue(command("c", contracts.KindStartPlaying), contracts.PriorityNormal); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue error = %v, want ErrQueueFull", err)
	}
	if got := q.Depth(); got != 2 {
		t.Fatalf("Depth() = %d, want 2", got)
	}
}

func TestRetryableFailureSucceedsOnLaterAttempt(t *testing.T) {
	attempts := 0
	q := New(func(_ context.Context, _ contracts.Command) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return map[string]int{"ok": 1}, nil
	}, testConfig())
	q.Retryable = func(error) bool { return true }

	results := make(chan contracts.CommandResult, 1)
	q.OnResult = func(r contracts.CommandResult) { results <- r }

	if _, err := q.Enqueue(command("flaky", contracts.KindCallNumber), contracts.PriorityHigh); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Start()
	defer q.Stop(context.Background())

	select {
	case result := <-results:
		if !result.Success {
			t.Fatalf("result.Success = false, error %q", result.Error)
		}
		if result.Attempts != 3 {
			t.Errorf("result.Attempts = %d, want 3", result.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	stats := q.Stats()
	if stats.Executed != 1 || stats.Failed != 0 {
		t.Errorf("Stats() = %+v, want one execution and no failures", stats)
	}
}

func TestNonRetryableFailureReportsOnce(t *testing.T) {
	execErr := errors.New("ticket 4 is already booked")
	q := New(func(_ context.Context, _ contracts.Command) (any, error) {
		return nil, execErr
	}, testConfig())
	q.Retryable = func(error) bool { return false }
	q.Classify = func(error) string { return "conflict" }

	results := make(chan contracts.CommandResult, 2)
	failures := make(chan contracts.CommandError, 2)
	q.OnResult = func(r contracts.CommandResult) { results <- r }
	q.OnError = func(e contracts.CommandError) { failures <- e }

	if _, err := q.Enqueue(command("doomed", contracts.KindCreateBooking), contracts.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Start()
	defer q.Stop(context.Background())

	select {
	case result := <-results:
		if result.Success {
			t.Fatal("result.Success = true, want failure")
		}
		if result.Attempts != 1 {
			t.Errorf("result.Attempts = %d, want 1", result.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	select {
	case failure := <-failures:
		if failure.Class != "conflict" {
			t.Errorf("failure.Class = %q, want conflict", failure.Class)
		}
		if failure.CommandID != "doomed" {
			t.Errorf("failure.CommandID = %q, want doomed", failure.CommandID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error report")
	}

	select {
	case extra := <-results:
		t.Fatalf("unexpected second result for command %s", extra.Command.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetriesStopAtMaximum(t *testing.T) {
	attempts := 0
	q := New(func(_ context.Context, _ contracts.Command) (any, error) {
		attempts++
		return nil, errors.New("i/o timeout")
	}, testConfig())
	q.Retryable = func(error) bool { return true }

	results := make(chan contracts.CommandResult, 1)
	q.OnResult = func(r contracts.CommandResult) { results <- r }

	if _, err := q.Enqueue(command("hopeless", contracts.KindCallNumber), contracts.PriorityNormal); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Start()
	defer q.Stop(context.Background())

	select {
	case result := <-results:
		if result.Success {
			t.Fatal("result.Success = true, want failure")
		}
		if result.Attempts != DefaultConfig().MaxRetries+1 {
			t.Errorf("result.Attempts = %d, want %d", result.Attempts, DefaultConfig().MaxRetries+1)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal result")
	}
	if attempts != DefaultConfig().MaxRetries+1 {
		t.Errorf("execute ran %d times, want %d", attempts, DefaultConfig().MaxRetries+1)
	}
}

func TestStopResolvesBufferedCommands(t *testing.T) {
	release := make(chan struct{})
	q := New(func(_ context.Context, cmd contracts.Command) (any, error) {
		if cmd.ID == "first" {
			<-release
		}
		return nil, nil
	}, testConfig())

	results := make(chan contracts.CommandResult, 2)
	q.OnResult = func(r contracts.CommandResult) { results <- r }

	if _, err := q.Enqueue(command("first", contracts.KindCallNumber), contracts.PriorityHigh); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	q.Start()

	deadline := time.Now().Add(2 * time.Second)
	for !q.Executing() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for first command to start")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := q.Enqueue(command("buffered", contracts.KindCreateBooking), contracts.PriorityNormal); err != nil {
		t.Fatalf("enqueue buffered: %v", err)
	}

	stopDone := make(chan error, 1)
	go func() { stopDone <- q.Stop(context.Background()) }()
	for {
		q.mu.Lock()
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for stop to begin")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	got := map[string]contracts.CommandResult{}
	for i := 0; i < 2; i++ {
		select {
		case result := <-results:
			got[result.Command.ID] = result
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for result %d, have %v", i, got)
		}
	}
	if err := <-stopDone; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if first, ok := got["first"]; !ok || !first.Success {
		t.Errorf("in-flight command result = %+v, want success", got["first"])
	}
	buffered, ok := got["buffered"]
	if !ok {
		t.Fatal("buffered command produced no terminal result")
	}
	if buffered.Success || buffered.Error != ErrQueueStopped.Error() {
		t.Errorf("buffered result = %+v, want %q failure", buffered, ErrQueueStopped)
	}
}

func TestNewDefaultsOnlyZeroConfigFields(t *testing.T) {
	q := New(nil, Config{ExecTimeout: time.Second})

	if q.cfg.ExecTimeout != time.Second {
		t.Errorf("ExecTimeout = %s, want 1s preserved", q.cfg.ExecTimeout)
	}
	def := DefaultConfig()
	if q.cfg.Capacity != def.Capacity {
		t.Errorf("Capacity = %d, want default %d", q.cfg.Capacity, def.Capacity)
	}
	if q.cfg.DedupWindow != def.DedupWindow {
		t.Errorf("DedupWindow = %s, want default %s", q.cfg.DedupWindow, def.DedupWindow)
	}
	if q.cfg.RetryDelay != def.RetryDelay {
		t.Errorf("RetryDelay = %s, want default %s", q.cfg.RetryDelay, def.RetryDelay)
	}

	// MaxRetries zero means retries disabled, not "use the default".
	q = New(nil, Config{Capacity: 5})
	if q.cfg.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0 kept", q.cfg.MaxRetries)
	}
}

func TestCheckHealthFlagsDepthAndFailureRate(t *testing.T) {
	q := New(nil, testConfig())

	if health := q.CheckHealth(); !health.Healthy {
		t.Fatalf("fresh queue unhealthy: %v", health.Issues)
	}

	for i := 0; i < 16; i++ {
		q.insert(&Item{Priority: contracts.PriorityNormal}, false)
	}
	if health := q.CheckHealth(); health.Healthy {
		t.Error("deep queue reported healthy")
	}

	q.items = nil
	q.executed = 4
	q.failed = 6
	if health := q.CheckHealth(); health.Healthy {
		t.Error("failing queue reported healthy")
	}
}
