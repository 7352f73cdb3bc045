package httpx

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// BreakerStatsProvider reports per-identity circuit breaker state.
type BreakerStatsProvider interface {
	BreakerStats() map[string]fabric.BreakerStats
}

// HealthReport is the /health response body.
type HealthReport struct {
	Status      string                         `json:"status"`
	Uptime      string                         `json:"uptime"`
	QueueDepth  int64                          `json:"queue_depth"`
	DeadLetters int64                          `json:"dead_letters"`
	Breakers    map[string]fabric.BreakerStats `json:"breakers"`
	Timestamp   time.Time                      `json:"timestamp"`
}

// Health serves /health, /ready and /live. /health is informational and
// always 200 while the process runs; /ready gates traffic on database
// reachability.
type Health struct {
	db         relationaldb.Database
	outbox     relationaldb.OutboxRepository
	breakers   BreakerStatsProvider
	maxRetries int
	logger     *zap.Logger
	started    time.Time
	running    atomic.Bool
}

// NewHealth creates the health handler set. breakers may be nil when the
// process runs no gateway pool.
func NewHealth(db relationaldb.Database, outbox relationaldb.OutboxRepository, breakers BreakerStatsProvider, maxRetries int, logger *zap.Logger) *Health {
	h := &Health{
		db:         db,
		outbox:     outbox,
		breakers:   breakers,
		maxRetries: maxRetries,
		logger:     logger,
		started:    time.Now(),
	}
	h.running.Store(true)
	return h
}

// SetRunning flips the reported running state, used during shutdown so
// load balancers drain the instance before connections close.
func (h *Health) SetRunning(running bool) { h.running.Store(running) }

// Register mounts the three endpoints on mux.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)
}

func (h *Health) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{
		Status:    "running",
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
	if !h.running.Load() {
		report.Status = "shutting_down"
	}

	if h.outbox != nil {
		if depth, err := h.outbox.QueueDepth(r.Context(), h.maxRetries); err == nil {
			report.QueueDepth = depth
		} else {
			h.logger.Warn("queue depth lookup failed", zap.Error(err))
		}
		if dead, err := h.outbox.DeadLetterCount(r.Context(), h.maxRetries); err == nil {
			report.DeadLetters = dead
		} else {
			h.logger.Warn("dead letter lookup failed", zap.Error(err))
		}
	}
	if h.breakers != nil {
		report.Breakers = h.breakers.BreakerStats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Error("failed to encode health report", zap.Error(err))
	}
}

func (h *Health) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.running.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Health) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
