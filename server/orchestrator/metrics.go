package orchestrator

import (
	"fmt"
	"time"
)

// RowMetrics collects per-stage wall-clock timings for one tick, flattened
// as "m.<stage>.*" keys so they merge straight into the persisted row.
type RowMetrics struct {
	data map[string]any
}

func NewRowMetrics() *RowMetrics {
	return &RowMetrics{data: make(map[string]any)}
}

// Start opens a named timing block. The returned func closes it, recording
// wall time in milliseconds and an ok flag.
func (r *RowMetrics) Start(name string) func(ok bool) {
	t0 := time.Now()
	return func(ok bool) {
		base := fmt.Sprintf("m.%s", name)
		r.data[base+".wall_ms"] = float64(time.Since(t0).Microseconds()) / 1000.0
		r.data[base+".ok"] = ok
	}
}

// Flat returns the collected metrics map.
func (r *RowMetrics) Flat() map[string]any {
	out := make(map[string]any, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}
