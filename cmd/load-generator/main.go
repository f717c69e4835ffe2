package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/game"
	"github.com/tambola-live/engine/internal/platform/env"
	"github.com/tambola-live/engine/internal/platform/metrics"
)

type config struct {
	EngineBase     string
	Hosts          int
	GamesPerHost   int
	PlayersPerGame int
	TicketsPerGame int
	CallInterval   time.Duration
	RequestTimeout time.Duration
	StartupWait    time.Duration
	MetricsAddr    string
}

type runner struct {
	cfg    config
	client *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeHosts     atomic.Int64
	gamesCompleted  atomic.Int64
}

var requestsTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "tambola_loadgen_requests_total",
	Help: "Total HTTP requests sent by the load generator.",
}, []string{"endpoint", "status", "outcome"})

func main() {
	cfg := loadConfig()
	if cfg.Hosts <= 0 {
		log.Fatal("LOADGEN_HOSTS must be > 0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}

	metrics.Default.MustRegister(
		requestsTotal,
		metrics.NewGaugeFunc(metrics.Opts{
			Name: "tambola_loadgen_active_hosts",
			Help: "Hosts currently running a simulated game.",
		}, func() float64 { return float64(r.activeHosts.Load()) }),
		metrics.NewGaugeFunc(metrics.Opts{
			Name: "tambola_loadgen_games_completed",
			Help: "Simulated games driven to completion.",
		}, func() float64 { return float64(r.gamesCompleted.Load()) }),
	)
	go runMetricsServer(cfg.MetricsAddr)

	if err := r.waitForEngine(ctx); err != nil {
		log.Fatal(err)
	}

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Hosts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			hostID := fmt.Sprintf("loadgen-host-%03d", idx)
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx)))
			for gameNum := 0; gameNum < cfg.GamesPerHost; gameNum++ {
				if ctx.Err() != nil {
					return
				}
				r.activeHosts.Add(1)
				err := r.runGame(ctx, hostID, rng)
				r.activeHosts.Add(-1)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					log.Printf("host %s game %d failed: %v", hostID, gameNum, err)
					continue
				}
				r.gamesCompleted.Add(1)
			}
		}(i)
	}

	wg.Wait()
	log.Printf("load run finished: %d games completed, %d requests ok, %d requests failed",
		r.gamesCompleted.Load(), r.requestsSuccess.Load(), r.requestsError.Load())
}

func loadConfig() config {
	return config{
		EngineBase:     env.String("LOADGEN_ENGINE_BASE", "http://localhost:8080"),
		Hosts:          env.Int("LOADGEN_HOSTS", 5),
		GamesPerHost:   env.Int("LOADGEN_GAMES_PER_HOST", 1),
		PlayersPerGame: env.Int("LOADGEN_PLAYERS_PER_GAME", 8),
		TicketsPerGame: env.Int("LOADGEN_TICKETS_PER_GAME", 24),
		CallInterval:   env.Duration("LOADGEN_CALL_INTERVAL", 150*time.Millisecond),
		RequestTimeout: env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		StartupWait:    env.Duration("LOADGEN_STARTUP_WAIT", 60*time.Second),
		MetricsAddr:    env.String("LOADGEN_METRICS_ADDR", ":9102"),
	}
}

// runGame drives one complete game lifecycle for a host: setup, bookings
// with a cancellation, the full draw of 90 numbers, and completion.
func (r *runner) runGame(ctx context.Context, hostID string, rng *rand.Rand) error {
	if err := r.submit(ctx, hostID, commandRequest{Kind: "initialize-game"}); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := r.submit(ctx, hostID, commandRequest{Kind: "start-booking"}); err != nil {
		return fmt.Errorf("start booking: %w", err)
	}

	state, err := r.fetchGame(ctx, hostID)
	if err != nil {
		return fmt.Errorf("read game: %w", err)
	}
	available := make([]int, 0, len(state.ActiveTickets.Tickets))
	for _, t := range state.ActiveTickets.Tickets {
		available = append(available, t.ID)
	}
	rng.Shuffle(len(available), func(i, j int) { available[i], available[j] = available[j], available[i] })

	var booked []int
	for p := 0; p < r.cfg.PlayersPerGame && len(available) > 0 && len(booked) < r.cfg.TicketsPerGame; p++ {
		take := 1 + rng.Intn(3)
		if take > len(available) {
			take = len(available)
		}
		ids := available[:take]
		available = available[take:]

		err := r.submit(ctx, hostID, commandRequest{
			Kind: "create-booking",
			CreateBooking: &contracts.CreateBookingPayload{
				PlayerName:  fmt.Sprintf("player-%02d", p),
				PlayerPhone: fmt.Sprintf("55500%04d", rng.Intn(10000)),
				TicketIDs:   ids,
			},
		})
		if err != nil {
			return fmt.Errorf("booking for player-%02d: %w", p, err)
		}
		booked = append(booked, ids...)
	}

	// Free one ticket and leave it unbooked, so cancellations stay in play.
	if len(booked) > 1 {
		err := r.submit(ctx, hostID, commandRequest{
			Kind:          "cancel-booking",
			CancelBooking: &contracts.CancelBookingPayload{TicketIDs: booked[:1]},
		})
		if err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}
	}

	if err := r.submit(ctx, hostID, commandRequest{Kind: "start-playing"}); err != nil {
		return fmt.Errorf("start playing: %w", err)
	}

	draw := rng.Perm(game.MaxNumber)
	for _, n := range draw {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.submit(ctx, hostID, commandRequest{
			Kind:       "call-number",
			CallNumber: &contracts.CallNumberPayload{Number: n + 1},
		})
		if err != nil {
			return fmt.Errorf("call %d: %w", n+1, err)
		}
		select {
		case <-time.After(r.cfg.CallInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return r.waitForCompletion(ctx, hostID)
}

func (r *runner) waitForCompletion(ctx context.Context, hostID string) error {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state, err := r.fetchGame(ctx, hostID)
		if err == nil && state.Game.Phase == game.PhaseCompleted {
			log.Printf("host %s completed a game with %d prizes awarded", hostID, len(state.Game.Winners))
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("game for host %s did not complete in time", hostID)
}

type commandRequest struct {
	Kind          string                          `json:"kind"`
	Priority      string                          `json:"priority,omitempty"`
	CallNumber    *contracts.CallNumberPayload    `json:"call_number,omitempty"`
	CreateBooking *contracts.CreateBookingPayload `json:"create_booking,omitempty"`
	CancelBooking *contracts.CancelBookingPayload `json:"cancel_booking,omitempty"`
}

// submit posts one command, retrying while the queue pushes back.
func (r *runner) submit(ctx context.Context, hostID string, req commandRequest) error {
	endpoint := r.cfg.EngineBase + "/api/v1/hosts/" + hostID + "/commands"
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 40; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status, err := r.post(ctx, endpoint, body)
		label := fmt.Sprintf("%d", status)
		switch {
		case err != nil:
			requestsTotal.WithLabelValues("commands", "0", "error").Inc()
			r.requestsError.Add(1)
			return err
		case status == http.StatusAccepted:
			requestsTotal.WithLabelValues("commands", label, "success").Inc()
			r.requestsSuccess.Add(1)
			return nil
		case status == http.StatusTooManyRequests || status == http.StatusConflict:
			// Queue full or dedup window; back off and resubmit.
			requestsTotal.WithLabelValues("commands", label, "retry").Inc()
			select {
			case <-time.After(250 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			requestsTotal.WithLabelValues("commands", label, "error").Inc()
			r.requestsError.Add(1)
			return fmt.Errorf("command %s rejected with status %d", req.Kind, status)
		}
	}
	return fmt.Errorf("command %s never accepted", req.Kind)
}

func (r *runner) post(ctx context.Context, endpoint string, body []byte) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (r *runner) fetchGame(ctx context.Context, hostID string) (game.State, error) {
	endpoint := r.cfg.EngineBase + "/api/v1/hosts/" + hostID + "/game"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return game.State{}, err
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return game.State{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return game.State{}, fmt.Errorf("game read returned status %d", resp.StatusCode)
	}

	var state game.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return game.State{}, err
	}
	return state, nil
}

func (r *runner) waitForEngine(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.EngineBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(httpReq)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("engine readiness returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("engine never became ready: %w", lastErr)
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("progress: active_hosts=%d games_completed=%d requests_ok=%d requests_failed=%d",
				r.activeHosts.Load(), r.gamesCompleted.Load(), r.requestsSuccess.Load(), r.requestsError.Load())
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server stopped: %v", err)
	}
}
