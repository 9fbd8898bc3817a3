// Package analyze performs the offline inference pass: physics bounds,
// claim falsification, grid-search origin estimation, calibration and
// baseline comparison. It is pure over its inputs; nothing in here
// touches the network or holds file handles.
package analyze

import (
	"sort"

	"github.com/svdrecbd/LATTICE/internal/metrics"
	"github.com/svdrecbd/LATTICE/internal/record"
)

// MinJitterMs is the floor for the estimator's inverse-jitter weights.
const MinJitterMs = 1.0

// EndpointStats summarizes all samples for one endpoint key across a
// record window. Quantile fields are meaningful only when Count > 0.
type EndpointStats struct {
	Count    int
	MinMs    float64
	P05Ms    float64
	P50Ms    float64
	P95Ms    float64
	JitterMs float64
}

// BuildStats pools samples per endpoint key and computes the window
// quantiles: p05 at floor(0.05*(n-1)), p50 as the upper median, p95 at
// ceil(0.95*(n-1)). Jitter is p95-p05.
func BuildStats(records []record.BurstRecord) map[string]EndpointStats {
	samples := make(map[string][]float64)
	for _, rec := range records {
		if rec.EndpointID == "" {
			continue
		}
		for _, v := range rec.SamplesMs {
			if v >= 0 && isFinite(v) {
				samples[rec.EndpointID] = append(samples[rec.EndpointID], v)
			}
		}
	}

	out := make(map[string]EndpointStats, len(samples))
	for id, vals := range samples {
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		p05, _ := metrics.QuantileFloor(vals, 0.05)
		p50, _ := metrics.UpperMedian(vals)
		p95, _ := metrics.QuantileCeil(vals, 0.95)
		out[id] = EndpointStats{
			Count:    len(vals),
			MinMs:    vals[0],
			P05Ms:    p05,
			P50Ms:    p50,
			P95Ms:    p95,
			JitterMs: p95 - p05,
		}
	}
	return out
}
