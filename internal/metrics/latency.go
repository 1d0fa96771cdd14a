package metrics

import (
	"sync"
	"time"

	"cropscan/internal/dto"
)

type InferenceLatency struct {
	// EWMA of inference time in milliseconds.
	EWMAms float64

	// Counters (rolling since start).
	OK    uint64
	Error uint64

	LastDuration time.Duration
	LastAt       time.Time
}

type LatencyTracker struct {
	mu       sync.RWMutex
	alpha    float64
	backends map[string]*InferenceLatency
}

// NewLatencyTracker creates a tracker with EWMA smoothing factor alpha.
// Typical alpha: 0.1..0.3 (higher reacts faster).
func NewLatencyTracker(alpha float64) *LatencyTracker {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.2
	}
	return &LatencyTracker{
		alpha:    alpha,
		backends: map[string]*InferenceLatency{},
	}
}

func (t *LatencyTracker) ObserveOK(backend string, d time.Duration) {
	t.observe(backend, d, true)
}

func (t *LatencyTracker) ObserveError(backend string, d time.Duration) {
	t.observe(backend, d, false)
}

func (t *LatencyTracker) observe(backend string, d time.Duration, ok bool) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.backends[backend]
	if n == nil {
		n = &InferenceLatency{}
		t.backends[backend] = n
	}

	ms := float64(d.Microseconds()) / 1000.0
	if ms < 0 {
		ms = 0
	}

	if n.OK+n.Error == 0 {
		n.EWMAms = ms
	} else {
		n.EWMAms = (t.alpha * ms) + ((1.0 - t.alpha) * n.EWMAms)
	}

	n.LastDuration = d
	n.LastAt = now
	if ok {
		n.OK++
	} else {
		n.Error++
	}
}

// Snapshot returns the current figures in API form.
func (t *LatencyTracker) Snapshot() map[string]dto.LatencyStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]dto.LatencyStats, len(t.backends))
	for k, v := range t.backends {
		out[k] = dto.LatencyStats{
			EWMAms: v.EWMAms,
			LastMs: float64(v.LastDuration.Microseconds()) / 1000.0,
			OK:     v.OK,
			Errors: v.Error,
		}
	}
	return out
}
