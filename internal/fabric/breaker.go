package fabric

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Breaker defaults tuned for ledger consensus latencies.
const (
	DefaultSubmitTimeout    = 120 * time.Second
	DefaultOpenDuration     = 30 * time.Second
	DefaultVolumeThreshold  = 5
	DefaultFailureRateLimit = 0.5
)

// BreakerStats is a point-in-time snapshot for health reporting.
type BreakerStats struct {
	State       BreakerState `json:"state"`
	Successes   int64        `json:"successes"`
	Failures    int64        `json:"failures"`
	OpenCount   int64        `json:"open_count"`
	LastFailure time.Time    `json:"last_failure,omitempty"`
}

// CircuitBreaker gates the submit path only. Evaluate is cheap and
// retryable; stream failures drive reconnect logic instead. While CLOSED
// it trips when the failure rate over the current window reaches the rate
// limit with at least volumeThreshold calls observed. After openDuration
// in OPEN it admits one probe (HALF_OPEN): the first success closes it,
// the first failure re-opens it.
type CircuitBreaker struct {
	mu sync.Mutex

	state     BreakerState
	openedAt  time.Time
	openFor   time.Duration
	volume    int
	rateLimit float64

	// Window counters, reset when the breaker closes.
	windowSuccesses int64
	windowFailures  int64

	// Lifetime counters for stats.
	successes   int64
	failures    int64
	openCount   int64
	lastFailure time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a breaker with the given open duration,
// volume threshold and failure-rate limit.
func NewCircuitBreaker(openFor time.Duration, volume int, rateLimit float64) *CircuitBreaker {
	if openFor <= 0 {
		openFor = DefaultOpenDuration
	}
	if volume <= 0 {
		volume = DefaultVolumeThreshold
	}
	if rateLimit <= 0 || rateLimit > 1 {
		rateLimit = DefaultFailureRateLimit
	}

	return &CircuitBreaker{
		state:     BreakerClosed,
		openFor:   openFor,
		volume:    volume,
		rateLimit: rateLimit,
		now:       time.Now,
	}
}

// Allow reports whether a submission may proceed. An OPEN breaker that has
// cooled down transitions to HALF_OPEN and admits the probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) >= cb.openFor {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful submission.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.windowSuccesses++

	if cb.state == BreakerHalfOpen {
		cb.close()
	}
}

// RecordFailure records a failed submission and trips the breaker when the
// failure-rate threshold is crossed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.windowFailures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case BreakerHalfOpen:
		cb.open()
	case BreakerClosed:
		total := cb.windowSuccesses + cb.windowFailures
		if total >= int64(cb.volume) &&
			float64(cb.windowFailures)/float64(total) >= cb.rateLimit {
			cb.open()
		}
	}
}

// State returns the current state, applying the cool-down transition.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.openFor {
		cb.state = BreakerHalfOpen
	}
	return cb.state
}

// Stats returns a snapshot for health reporting.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		State:       cb.state,
		Successes:   cb.successes,
		Failures:    cb.failures,
		OpenCount:   cb.openCount,
		LastFailure: cb.lastFailure,
	}
}

// open must be called with the lock held.
func (cb *CircuitBreaker) open() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.openCount++
}

// close must be called with the lock held.
func (cb *CircuitBreaker) close() {
	cb.state = BreakerClosed
	cb.windowSuccesses = 0
	cb.windowFailures = 0
}
