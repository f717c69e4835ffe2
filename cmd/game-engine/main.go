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
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"github.com/tambola-live/engine/internal/app/announce"
	"github.com/tambola-live/engine/internal/app/engine"
	"github.com/tambola-live/engine/internal/app/gameapi"
	"github.com/tambola-live/engine/internal/app/queue"
	"github.com/tambola-live/engine/internal/app/store"
	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/platform/dbpool"
	"github.com/tambola-live/engine/internal/platform/env"
	"github.com/tambola-live/engine/internal/platform/metrics"
	"github.com/tambola-live/engine/internal/platform/natsutil"
	"github.com/tambola-live/engine/internal/sharding"
	"github.com/tambola-live/engine/internal/ticketset"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineAddr := env.String("ENGINE_ADDR", env.DefaultEngineAddr)
	uiOrigin := env.String("UI_ORIGIN", "*")
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	ticketSetDir := env.String("TICKET_SET_DIR", "")
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

	library, err := ticketset.NewLibrary(ticketSetDir)
	if err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(natsURL, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	announcer := announce.New(natsutil.CorePublisher{Conn: client.Conn})
	resultPublisher := natsutil.JetStreamPublisher{JS: client.JS}

	processor := engine.NewProcessor(gameStore, library)
	processor.Announce = announcer.Announce
	processor.PublishState = func(hostID, commandID string) {
		publishStateChanged(resultPublisher, hostID, commandID)
	}

	cfg := queue.DefaultConfig()
	cfg.Capacity = env.Int("QUEUE_CAPACITY", cfg.Capacity)
	cfg.ExecTimeout = env.Duration("QUEUE_EXEC_TIMEOUT", cfg.ExecTimeout)
	q := queue.New(processor.Execute, cfg)
	q.Retryable = engine.Retryable
	q.Classify = func(err error) string { return string(engine.Classify(err)) }

	commandsTotal := metrics.NewCounterVec(metrics.Opts{
		Name: "game_commands_total",
		Help: "Terminal command outcomes by kind.",
	}, []string{"kind", "outcome"})
	metrics.Default.MustRegister(
		commandsTotal,
		metrics.NewGaugeFunc(metrics.Opts{
			Name: "game_queue_depth",
			Help: "Commands buffered in the queue.",
		}, func() float64 { return float64(q.Depth()) }),
		metrics.NewGaugeFunc(metrics.Opts{
			Name: "game_queue_executing",
			Help: "Whether a command is currently in flight.",
		}, func() float64 {
			if q.Executing() {
				return 1
			}
			return 0
		}),
	)

	q.OnResult = func(result contracts.CommandResult) {
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		commandsTotal.WithLabelValues(string(result.Command.Kind), outcome).Inc()

		payload, err := json.Marshal(result)
		if err != nil {
			log.Printf("encode result %s failed: %v", result.Command.ID, err)
			return
		}
		if err := resultPublisher.Publish(sharding.ResultSubject(result.Command.HostID), payload); err != nil {
			log.Printf("publish result %s failed: %v", result.Command.ID, err)
		}

		if gameJustFinished(result) {
			enqueueCompletion(q, result.Command.HostID)
		}
	}
	q.OnError = func(cmdErr contracts.CommandError) {
		payload, err := json.Marshal(cmdErr)
		if err != nil {
			log.Printf("encode error report %s failed: %v", cmdErr.CommandID, err)
			return
		}
		if err := resultPublisher.Publish(sharding.ErrorSubject(cmdErr.HostID), payload); err != nil {
			log.Printf("publish error report %s failed: %v", cmdErr.CommandID, err)
		}
	}

	q.Start()

	service := gameapi.NewService(q.Enqueue)
	handler := gameapi.NewHandler(service, gameStore, q, uiOrigin)

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
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              engineAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Game engine listening on %s\n", engineAddr)
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
		log.Printf("game-engine http shutdown failed: %v", err)
	}
	if err := q.Stop(shutdownCtx); err != nil {
		log.Printf("game-engine queue shutdown failed: %v", err)
	}
}

// gameJustFinished reports whether this result is a number call that
// exhausted all 90 numbers.
func gameJustFinished(result contracts.CommandResult) bool {
	if !result.Success || result.Command.Kind != contracts.KindCallNumber || len(result.Payload) == 0 {
		return false
	}
	var call engine.CallNumberResult
	if err := json.Unmarshal(result.Payload, &call); err != nil {
		return false
	}
	return call.GameCompleted
}

// enqueueCompletion closes out a finished game. Completion preempts any
// buffered work, so the record cannot accept further calls first.
func enqueueCompletion(q *queue.Queue, hostID string) {
	cmd := contracts.Command{
		ID:          nuid.Next(),
		HostID:      hostID,
		Kind:        contracts.KindCompleteGame,
		SubmittedAt: time.Now().UTC(),
	}
	if _, err := q.Enqueue(cmd, contracts.PriorityCritical); err != nil && !errors.Is(err, queue.ErrDuplicateCommand) {
		log.Printf("enqueue game completion for host %s failed: %v", hostID, err)
	}
}

func publishStateChanged(publisher natsutil.Publisher, hostID, commandID string) {
	payload, err := json.Marshal(map[string]any{
		"host_id":    hostID,
		"command_id": commandID,
		"changed_at": time.Now().UTC(),
	})
	if err != nil {
		log.Printf("encode state notification host=%s: %v", hostID, err)
		return
	}
	if err := publisher.Publish(sharding.StateSubject(hostID), payload); err != nil {
		log.Printf("publish state notification host=%s: %v", hostID, err)
	}
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
