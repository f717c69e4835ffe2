package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/tambola-live/engine/internal/app/announce"
	"github.com/tambola-live/engine/internal/app/store"
	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/game"
	"github.com/tambola-live/engine/internal/platform/dbpool"
	"github.com/tambola-live/engine/internal/platform/env"
	"github.com/tambola-live/engine/internal/platform/natsutil"
	"github.com/tambola-live/engine/internal/sharding"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamerAddr := env.String("SSE_STREAMER_ADDR", env.DefaultStreamerAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	gameStore := store.NewPostgres(pool)
	if err := waitForStore(runCtx, pool, gameStore, 30*time.Second); err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), env.Duration("NATS_CONNECT_TIMEOUT", 90*time.Second))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	hostStreams := newHostStreamRegistry(client.JS, client.Conn, gameStore)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checkReadiness(r.Context(), pool, client.Conn); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		hostID := strings.TrimSpace(r.URL.Query().Get("host_id"))
		if hostID == "" {
			http.Error(w, "host_id is required", http.StatusBadRequest)
			return
		}

		streamCtx, cancelStream := context.WithCancel(r.Context())
		defer cancelStream()

		msgCh, unsubscribe, err := hostStreams.Subscribe(hostID)
		if err != nil {
			http.Error(w, "stream subscription failed", http.StatusInternalServerError)
			return
		}
		defer unsubscribe()

		sendEvent := func(event string, payload any) {
			data, err := json.Marshal(payload)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "event: %s\n", event)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}

		if state, ok, err := gameStore.Snapshot(streamCtx, hostID); err == nil && ok {
			sendEvent("snapshot", state)
		}

		for {
			select {
			case <-streamCtx.Done():
				return
			case msg := <-msgCh:
				if msg.Result != nil {
					sendEvent("result", msg.Result)
				}
				if msg.Announcement != nil {
					sendEvent("call", msg.Announcement)
				}
				if msg.Snapshot != nil {
					sendEvent("snapshot", msg.Snapshot)
				}
			}
		}
	})

	server := &http.Server{
		Addr:              streamerAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Keep WriteTimeout unset for long-lived SSE streams.
		IdleTimeout: 120 * time.Second,
	}

	fmt.Printf("SSE streamer listening on %s\n", streamerAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("sse-streamer graceful shutdown failed: %v", err)
	}
}

// hostStreamMessage carries one frame for a host's watchers. Exactly one
// field is set.
type hostStreamMessage struct {
	Result       *contracts.CommandResult
	Announcement *announce.Message
	Snapshot     *game.State
	Seq          uint64
}

type hostStreamRegistry struct {
	mu     sync.Mutex
	js     nats.JetStreamContext
	conn   *nats.Conn
	store  *store.Postgres
	byHost map[string]*hostStream
}

func newHostStreamRegistry(js nats.JetStreamContext, conn *nats.Conn, gameStore *store.Postgres) *hostStreamRegistry {
	return &hostStreamRegistry{
		js:     js,
		conn:   conn,
		store:  gameStore,
		byHost: map[string]*hostStream{},
	}
}

func (r *hostStreamRegistry) Subscribe(hostID string) (<-chan hostStreamMessage, func(), error) {
	r.mu.Lock()
	stream, ok := r.byHost[hostID]
	if !ok {
		stream = &hostStream{
			hostID:      hostID,
			js:          r.js,
			conn:        r.conn,
			store:       r.store,
			subscribers: map[string]chan hostStreamMessage{},
		}
		r.byHost[hostID] = stream
	}
	r.mu.Unlock()

	subID, ch, err := stream.addSubscriber()
	if err != nil {
		return nil, nil, err
	}

	unsubscribe := func() {
		empty := stream.removeSubscriber(subID)
		if !empty {
			return
		}
		r.mu.Lock()
		current, ok := r.byHost[hostID]
		if ok && current == stream {
			delete(r.byHost, hostID)
		}
		r.mu.Unlock()
	}

	return ch, unsubscribe, nil
}

// hostStream fans one host's NATS traffic out to every connected watcher.
// Snapshot refreshes are debounced so a burst of state changes costs one
// store read.
type hostStream struct {
	hostID string
	js     nats.JetStreamContext
	conn   *nats.Conn
	store  *store.Postgres

	mu           sync.Mutex
	resultSub    *nats.Subscription
	stateSub     *nats.Subscription
	announceSub  *nats.Subscription
	subscribers  map[string]chan hostStreamMessage
	nextID       uint64
	pendingSeq   uint64
	refreshTimer *time.Timer
}

func (s *hostStream) addSubscriber() (string, chan hostStreamMessage, error) {
	ch := make(chan hostStreamMessage, 64)

	s.mu.Lock()
	s.nextID++
	subID := fmt.Sprintf("%s-%d", s.hostID, s.nextID)
	s.subscribers[subID] = ch
	s.mu.Unlock()

	if err := s.ensureSubscriptions(); err != nil {
		s.mu.Lock()
		delete(s.subscribers, subID)
		s.mu.Unlock()
		return "", nil, err
	}

	return subID, ch, nil
}

func (s *hostStream) removeSubscriber(subID string) bool {
	var (
		shouldStop bool
		subs       []*nats.Subscription
		timer      *time.Timer
	)

	s.mu.Lock()
	delete(s.subscribers, subID)
	if len(s.subscribers) == 0 {
		shouldStop = true
		subs = []*nats.Subscription{s.resultSub, s.stateSub, s.announceSub}
		timer = s.refreshTimer
		s.resultSub = nil
		s.stateSub = nil
		s.announceSub = nil
		s.refreshTimer = nil
		s.pendingSeq = 0
	}
	s.mu.Unlock()

	if shouldStop {
		if timer != nil {
			timer.Stop()
		}
		for _, sub := range subs {
			if sub != nil {
				_ = sub.Unsubscribe()
			}
		}
	}

	return shouldStop
}

func (s *hostStream) ensureSubscriptions() error {
	s.mu.Lock()
	if s.resultSub != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.js == nil || s.conn == nil {
		return fmt.Errorf("nats is not configured")
	}

	resultSub, err := s.js.Subscribe(sharding.HostResultWildcard(s.hostID), func(msg *nats.Msg) {
		var result contracts.CommandResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			return
		}
		s.broadcast(hostStreamMessage{Result: &result, Seq: streamSeq(msg)})
	}, nats.DeliverNew())
	if err != nil {
		return err
	}

	stateSub, err := s.js.Subscribe(sharding.HostStateWildcard(s.hostID), func(msg *nats.Msg) {
		s.scheduleSnapshot(streamSeq(msg))
	}, nats.DeliverNew())
	if err != nil {
		_ = resultSub.Unsubscribe()
		return err
	}

	announceSub, err := s.conn.Subscribe(sharding.AnnounceSubject(s.hostID), func(msg *nats.Msg) {
		var call announce.Message
		if err := json.Unmarshal(msg.Data, &call); err != nil {
			return
		}
		s.broadcast(hostStreamMessage{Announcement: &call})
	})
	if err != nil {
		_ = resultSub.Unsubscribe()
		_ = stateSub.Unsubscribe()
		return err
	}

	s.mu.Lock()
	if s.resultSub != nil {
		s.mu.Unlock()
		_ = resultSub.Unsubscribe()
		_ = stateSub.Unsubscribe()
		_ = announceSub.Unsubscribe()
		return nil
	}
	s.resultSub = resultSub
	s.stateSub = stateSub
	s.announceSub = announceSub
	s.mu.Unlock()
	return nil
}

func streamSeq(msg *nats.Msg) uint64 {
	if meta, err := msg.Metadata(); err == nil {
		return meta.Sequence.Stream
	}
	return 0
}

func (s *hostStream) broadcast(msg hostStreamMessage) {
	s.mu.Lock()
	subs := make([]chan hostStreamMessage, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (s *hostStream) scheduleSnapshot(seq uint64) {
	const snapshotDebounce = 75 * time.Millisecond

	s.mu.Lock()
	if seq > s.pendingSeq {
		s.pendingSeq = seq
	}
	if s.refreshTimer == nil {
		s.refreshTimer = time.AfterFunc(snapshotDebounce, s.runSnapshotRefresh)
		s.mu.Unlock()
		return
	}
	s.refreshTimer.Reset(snapshotDebounce)
	s.mu.Unlock()
}

func (s *hostStream) runSnapshotRefresh() {
	s.mu.Lock()
	targetSeq := s.pendingSeq
	s.pendingSeq = 0
	s.refreshTimer = nil
	hasSubscribers := len(s.subscribers) > 0
	s.mu.Unlock()

	if !hasSubscribers {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	state, ok, err := s.store.Snapshot(ctx, s.hostID)
	if err != nil || !ok {
		return
	}
	s.broadcast(hostStreamMessage{Snapshot: &state, Seq: targetSeq})
}

func waitForStore(ctx context.Context, pool *pgxpool.Pool, gameStore *store.Postgres, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = gameStore.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for postgres readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, conn *nats.Conn) error {
	if conn == nil {
		return errors.New("nats connection is nil")
	}
	if conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", conn.Status().String())
	}

	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
