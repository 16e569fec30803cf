package pipeline

import (
	"slices"
	"sync"
	"time"
)

// HealthStatus represents the health state of a strategy.
type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"

	// DefaultUnhealthyThreshold is the number of consecutive failed firings
	// before a strategy is considered unhealthy.
	DefaultUnhealthyThreshold = 3

	// DefaultDegradedLatencyThreshold is the P95 run latency above which a
	// strategy is considered degraded.
	DefaultDegradedLatencyThreshold = 2 * time.Minute

	latencyWindowSize = 10
)

// StrategyHealth tracks one strategy across scheduled firings.
type StrategyHealth struct {
	mu                       sync.RWMutex
	key                      int64
	status                   HealthStatus
	consecutiveFailures      int
	lastSuccessAt            *time.Time
	lastFailureAt            *time.Time
	lastError                string
	unhealthyThreshold       int
	recentLatencies          []time.Duration
	degradedLatencyThreshold time.Duration
}

func NewStrategyHealth(key int64) *StrategyHealth {
	return &StrategyHealth{
		key:                      key,
		status:                   HealthStatusUnknown,
		unhealthyThreshold:       DefaultUnhealthyThreshold,
		recentLatencies:          make([]time.Duration, 0, latencyWindowSize),
		degradedLatencyThreshold: DefaultDegradedLatencyThreshold,
	}
}

// RecordSuccess records a successful firing and returns true if it is a
// recovery from the unhealthy state.
func (h *StrategyHealth) RecordSuccess() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	wasUnhealthy := h.status == HealthStatusUnhealthy
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	h.lastError = ""
	if h.isLatencyDegraded() {
		h.status = HealthStatusDegraded
	} else {
		h.status = HealthStatusHealthy
	}
	return wasUnhealthy
}

// RecordFailure records a failed firing. Returns true if the strategy
// transitioned to unhealthy on this call.
func (h *StrategyHealth) RecordFailure(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.consecutiveFailures++
	h.lastFailureAt = &now
	if err != nil {
		h.lastError = err.Error()
	}
	if h.consecutiveFailures >= h.unhealthyThreshold && h.status != HealthStatusUnhealthy {
		h.status = HealthStatusUnhealthy
		return true
	}
	return false
}

// RecordLatency records a run latency and updates degraded state.
func (h *StrategyHealth) RecordLatency(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, d)

	if h.status == HealthStatusHealthy || h.status == HealthStatusDegraded {
		if h.isLatencyDegraded() {
			h.status = HealthStatusDegraded
		} else if h.status == HealthStatusDegraded && h.consecutiveFailures == 0 {
			h.status = HealthStatusHealthy
		}
	}
}

// Must be called with mu held.
func (h *StrategyHealth) isLatencyDegraded() bool {
	n := len(h.recentLatencies)
	if n < 2 {
		return false
	}
	sorted := slices.Clone(h.recentLatencies)
	slices.Sort(sorted)
	idx := (95*n - 1) / 100
	idx = max(0, min(idx, n-1))
	return sorted[idx] > h.degradedLatencyThreshold
}

func (h *StrategyHealth) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Strategy:            h.key,
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
		LastError:           h.lastError,
	}
}

// HealthSnapshot is a point-in-time view of strategy health (JSON-safe).
type HealthSnapshot struct {
	Strategy            int64      `json:"strategy"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// HealthRegistry holds one tracker per strategy key.
type HealthRegistry struct {
	mu         sync.RWMutex
	strategies map[int64]*StrategyHealth
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{strategies: make(map[int64]*StrategyHealth)}
}

// For returns the tracker for key, creating it on first use.
func (r *HealthRegistry) For(key int64) *StrategyHealth {
	r.mu.RLock()
	h, ok := r.strategies[key]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.strategies[key]; ok {
		return h
	}
	h = NewStrategyHealth(key)
	r.strategies[key] = h
	return h
}

// Snapshots returns every tracked strategy ordered by key.
func (r *HealthRegistry) Snapshots() []HealthSnapshot {
	r.mu.RLock()
	out := make([]HealthSnapshot, 0, len(r.strategies))
	for _, h := range r.strategies {
		out = append(out, h.Snapshot())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b HealthSnapshot) int {
		switch {
		case a.Strategy < b.Strategy:
			return -1
		case a.Strategy > b.Strategy:
			return 1
		}
		return 0
	})
	return out
}

// Healthy reports whether no tracked strategy is unhealthy.
func (r *HealthRegistry) Healthy() bool {
	for _, s := range r.Snapshots() {
		if s.Status == string(HealthStatusUnhealthy) {
			return false
		}
	}
	return true
}
