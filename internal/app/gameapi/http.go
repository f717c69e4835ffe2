package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tambola-live/engine/internal/app/queue"
	"github.com/tambola-live/engine/internal/game"
)

// SnapshotReader serves the read path; in production it is the same store
// the processor writes through.
type SnapshotReader interface {
	Snapshot(ctx context.Context, hostID string) (game.State, bool, error)
}

// QueueInfo exposes the queue's introspection surface to the API.
type QueueInfo interface {
	Depth() int
	Executing() bool
	Stats() queue.Stats
	CheckHealth() queue.Health
}

type Handler struct {
	Service       *Service
	Games         SnapshotReader
	Queue         QueueInfo
	AllowedOrigin string
}

func NewHandler(service *Service, games SnapshotReader, queueInfo QueueInfo, allowedOrigin string) *Handler {
	return &Handler{
		Service:       service,
		Games:         games,
		Queue:         queueInfo,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/v1/hosts/{hostID}/commands", h.handleSubmitCommand)
	r.Get("/api/v1/hosts/{hostID}/game", h.handleGetGame)
	r.Get("/api/v1/hosts/{hostID}/winners", h.handleGetWinners)
	r.Get("/api/v1/queue/stats", h.handleQueueStats)
	r.Get("/api/v1/queue/health", h.handleQueueHealth)

	return r
}

func (h *Handler) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	hostID := chi.URLParam(r, "hostID")
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	resp, err := h.Service.Accept(hostID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrHostRequired), errors.Is(err, ErrUnsupportedKind), errors.Is(err, ErrPayloadRequired):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, queue.ErrDuplicateCommand):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, queue.ErrQueueFull):
			h.writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, queue.ErrQueueStopped):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handleGetGame(w http.ResponseWriter, r *http.Request) {
	hostID := strings.TrimSpace(chi.URLParam(r, "hostID"))
	state, ok, err := h.Games.Snapshot(r.Context(), hostID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "no game record for host")
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleGetWinners(w http.ResponseWriter, r *http.Request) {
	hostID := strings.TrimSpace(chi.URLParam(r, "hostID"))
	state, ok, err := h.Games.Snapshot(r.Context(), hostID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "no game record for host")
		return
	}
	winners := state.Game.Winners
	if winners == nil {
		winners = map[game.PrizeType][]int{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"host_id": hostID,
		"phase":   state.Game.Phase,
		"winners": winners,
	})
}

func (h *Handler) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"depth":     h.Queue.Depth(),
		"executing": h.Queue.Executing(),
		"stats":     h.Queue.Stats(),
	})
}

func (h *Handler) handleQueueHealth(w http.ResponseWriter, _ *http.Request) {
	health := h.Queue.CheckHealth()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, health)
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(h.AllowedOrigin)
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
