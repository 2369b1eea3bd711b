package nn

import (
	"math"
	"sort"
	"sync"
)

// RoutingStats summarizes the coupling coefficients seen for one layer at
// one routing iteration.
type RoutingStats struct {
	Layer     string
	Iteration int
	Groups    int
	Rows      int

	// MaxRowError is the largest |Σ_j c_ij - 1| over all input rows.
	MaxRowError float64
	MinCoupling float32
	MaxCoupling float32
}

type statsKey struct {
	layer string
	iter  int
}

// RoutingRecorder is a RoutingObserver that accumulates RoutingStats.
// It is safe for concurrent use.
type RoutingRecorder struct {
	mu    sync.Mutex
	stats map[statsKey]*RoutingStats
}

// NewRoutingRecorder creates an empty recorder.
func NewRoutingRecorder() *RoutingRecorder {
	return &RoutingRecorder{stats: make(map[statsKey]*RoutingStats)}
}

// ObserveRouting folds one event into the per-layer, per-iteration stats.
func (r *RoutingRecorder) ObserveRouting(e RoutingEvent) {
	rowErr := 0.0
	minC, maxC := float32(math.Inf(1)), float32(math.Inf(-1))
	for i := 0; i < e.Inputs; i++ {
		sum := 0.0
		for _, c := range e.Coupling[i*e.Candidates : (i+1)*e.Candidates] {
			sum += float64(c)
			minC = min(minC, c)
			maxC = max(maxC, c)
		}
		rowErr = max(rowErr, math.Abs(sum-1))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := statsKey{e.Layer, e.Iteration}
	s, ok := r.stats[key]
	if !ok {
		s = &RoutingStats{
			Layer:       e.Layer,
			Iteration:   e.Iteration,
			MinCoupling: minC,
			MaxCoupling: maxC,
		}
		r.stats[key] = s
	}
	s.Groups++
	s.Rows += e.Inputs
	s.MaxRowError = max(s.MaxRowError, rowErr)
	s.MinCoupling = min(s.MinCoupling, minC)
	s.MaxCoupling = max(s.MaxCoupling, maxC)
}

// Stats returns a snapshot ordered by layer name, then iteration.
func (r *RoutingRecorder) Stats() []RoutingStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoutingStats, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Iteration < out[j].Iteration
	})
	return out
}

// Reset discards all recorded stats.
func (r *RoutingRecorder) Reset() {
	r.mu.Lock()
	r.stats = make(map[statsKey]*RoutingStats)
	r.mu.Unlock()
}
