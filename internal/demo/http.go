package demo

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Swind/go-async-executor/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExecutorStatsView is the JSON form of core.ExecutorStats served on /stats.
type ExecutorStatsView struct {
	Name           string     `json:"name"`
	ID             string     `json:"id"`
	Pender         string     `json:"pender"`
	Timers         bool       `json:"timers"`
	Spawned        int64      `json:"spawned"`
	Completed      int64      `json:"completed"`
	Panicked       int64      `json:"panicked"`
	SpawnConflicts int64      `json:"spawn_conflicts"`
	Polls          int64      `json:"polls"`
	TasksPolled    int64      `json:"tasks_polled"`
	StaleSkipped   int64      `json:"stale_skipped"`
	Pends          int64      `json:"pends"`
	TimerQueued    int        `json:"timer_queued"`
	LastPollAt     *time.Time `json:"last_poll_at,omitempty"`
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	Blinks    int64               `json:"blinks"`
	Executors []ExecutorStatsView `json:"executors"`
}

// NewStatsView converts a stats snapshot for JSON output.
func NewStatsView(s core.ExecutorStats) ExecutorStatsView {
	v := ExecutorStatsView{
		Name:           s.Name,
		ID:             s.ID,
		Pender:         s.PenderKind,
		Timers:         s.Timers,
		Spawned:        s.Spawned,
		Completed:      s.Completed,
		Panicked:       s.Panicked,
		SpawnConflicts: s.SpawnConflicts,
		Polls:          s.Polls,
		TasksPolled:    s.TasksPolled,
		StaleSkipped:   s.StaleSkipped,
		Pends:          s.Pends,
		TimerQueued:    s.TimerQueued,
	}
	if !s.LastPollAt.IsZero() {
		at := s.LastPollAt.UTC()
		v.LastPollAt = &at
	}
	return v
}

// Handler returns the runtime's HTTP routes: /healthz, /stats and /metrics.
func (r *Runtime) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", r.handleHealth)
	router.Get("/stats", r.handleStats)
	router.Get("/stats/{executor}", r.handleExecutorStats)
	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	return router
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.group.IsRunning() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Runtime) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := r.Stats()
	resp := StatsResponse{Blinks: r.Blinks(), Executors: make([]ExecutorStatsView, 0, len(stats))}
	for _, s := range stats {
		resp.Executors = append(resp.Executors, NewStatsView(s))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (r *Runtime) handleExecutorStats(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "executor")
	for _, s := range r.Stats() {
		if s.Name == name {
			respondJSON(w, http.StatusOK, NewStatsView(s))
			return
		}
	}
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown executor " + name})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
