// Package health tracks endpoint completeness, log-file resets and
// config hygiene for the dashboard.
package health

import (
	"math"
	"sort"

	"github.com/svdrecbd/LATTICE/internal/record"
)

// EndpointHealth is the per-endpoint completeness view of a window.
type EndpointHealth struct {
	ID              string  `json:"id"`
	BurstCount      int     `json:"burstCount"`
	SampleCount     int     `json:"sampleCount"`
	ExpectedSamples int     `json:"expectedSamples"`
	LossPct         float64 `json:"lossPct"`
	LastSeenMs      int64   `json:"lastSeenMs"`
}

// ExpectedSamples is how many samples a fully healthy endpoint would
// produce over the window.
func ExpectedSamples(windowMinutes, intervalSeconds, samplesPerEndpoint int) int {
	if windowMinutes <= 0 || intervalSeconds <= 0 || samplesPerEndpoint <= 0 {
		return 0
	}
	bursts := int(math.Ceil(float64(windowMinutes*60) / float64(intervalSeconds)))
	return bursts * samplesPerEndpoint
}

// BuildReports aggregates the window per endpoint. Loss is measured
// against the expectation implied by the window length, clamped to
// [0,100].
func BuildReports(records []record.BurstRecord, windowMinutes, intervalSeconds, samplesPerEndpoint int) []EndpointHealth {
	type meta struct {
		bursts   int
		samples  int
		lastSeen int64
	}
	byID := make(map[string]*meta)
	for _, rec := range records {
		m, ok := byID[rec.EndpointID]
		if !ok {
			m = &meta{}
			byID[rec.EndpointID] = m
		}
		m.bursts++
		m.samples += len(rec.SamplesMs)
		if rec.TsUnixMs > m.lastSeen {
			m.lastSeen = rec.TsUnixMs
		}
	}

	expected := ExpectedSamples(windowMinutes, intervalSeconds, samplesPerEndpoint)
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]EndpointHealth, 0, len(ids))
	for _, id := range ids {
		m := byID[id]
		h := EndpointHealth{
			ID:              id,
			BurstCount:      m.bursts,
			SampleCount:     m.samples,
			ExpectedSamples: expected,
			LastSeenMs:      m.lastSeen,
		}
		if expected > 0 {
			loss := (1.0 - float64(m.samples)/float64(expected)) * 100.0
			h.LossPct = math.Min(100, math.Max(0, loss))
		}
		out = append(out, h)
	}
	return out
}
