package analyze

import (
	"math"
	"sort"

	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/geo"
	"github.com/svdrecbd/LATTICE/internal/metrics"
)

// DefaultDriftWarnMs is the live-vs-stored bias delta that raises the
// drift warning.
const DefaultDriftWarnMs = 5.0

const driftWorstCount = 3

// DriftEntry is one endpoint's live bias divergence from the pack.
type DriftEntry struct {
	ID      string  `json:"id"`
	DeltaMs float64 `json:"deltaMs"`
}

// Drift summarizes how far the loaded calibration has decayed.
type Drift struct {
	Count       int          `json:"count"`
	MedianAbsMs float64      `json:"medianAbsMs"`
	MaxAbsMs    float64      `json:"maxAbsMs"`
	Worst       []DriftEntry `json:"worst"`
	Warn        bool         `json:"warn"`
}

// BuildDrift recomputes each endpoint's bias over the current window
// against the calibration location and compares it with the stored
// bias. Returns nil when nothing is comparable.
func BuildDrift(stats map[string]EndpointStats, endpoints []config.Endpoint, cal *Calibration, effSpeedKmS, warnMs float64) *Drift {
	if cal == nil || len(cal.Entries) == 0 {
		return nil
	}
	if warnMs <= 0 {
		warnMs = DefaultDriftWarnMs
	}

	byID := config.EndpointsByID(endpoints)
	var deltas []DriftEntry
	for _, id := range sortedKeys(stats) {
		st := stats[id]
		entry, ok := cal.Entry(id)
		if !ok || st.Count == 0 {
			continue
		}
		ep, ok := config.ResolveEndpoint(byID, id)
		if !ok || ep.Lat == nil || ep.Lon == nil {
			continue
		}
		distKm := geo.HaversineKm(cal.CalibrationLat, cal.CalibrationLon, *ep.Lat, *ep.Lon)
		expected := geo.ExpectedRTTMs(distKm, effSpeedKmS)
		liveBias := st.P50Ms - expected
		if liveBias < 0 {
			liveBias = 0
		}
		deltas = append(deltas, DriftEntry{ID: id, DeltaMs: liveBias - entry.BiasMs})
	}
	if len(deltas) == 0 {
		return nil
	}

	absVals := make([]float64, len(deltas))
	maxAbs := 0.0
	for i, d := range deltas {
		absVals[i] = math.Abs(d.DeltaMs)
		if absVals[i] > maxAbs {
			maxAbs = absVals[i]
		}
	}
	sort.Float64s(absVals)
	medianAbs, _ := metrics.Median(absVals)

	sort.Slice(deltas, func(i, j int) bool {
		return math.Abs(deltas[i].DeltaMs) > math.Abs(deltas[j].DeltaMs)
	})
	worst := deltas
	if len(worst) > driftWorstCount {
		worst = worst[:driftWorstCount]
	}

	return &Drift{
		Count:       len(deltas),
		MedianAbsMs: medianAbs,
		MaxAbsMs:    maxAbs,
		Worst:       worst,
		Warn:        medianAbs >= warnMs,
	}
}
