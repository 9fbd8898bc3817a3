package analyze

import (
	"math"
	"sort"

	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/geo"
)

// EndpointReport is the per-endpoint physics view of a window: raw and
// calibration-adjusted quantiles, plus the distance disks they induce.
// Pointer fields are nil when undefined.
type EndpointReport struct {
	ID             string   `json:"id"`
	Host           string   `json:"host"`
	Count          int      `json:"count"`
	P05Ms          *float64 `json:"p05Ms"`
	P50Ms          *float64 `json:"p50Ms"`
	P95Ms          *float64 `json:"p95Ms"`
	JitterMs       *float64 `json:"jitterMs"`
	P05AdjMs       *float64 `json:"p05AdjMs"`
	P95AdjMs       *float64 `json:"p95AdjMs"`
	MaxDistKmTight *float64 `json:"maxDistKmTight"`
	MaxDistKmLoose *float64 `json:"maxDistKmLoose"`
}

// BuildEndpointReports computes the physics budgets for every endpoint
// in the window. The tight budget comes from p05, the loose budget from
// p95; both have the calibration bias removed first.
func BuildEndpointReports(stats map[string]EndpointStats, endpoints []config.Endpoint, effSpeedKmS float64, cal *Calibration) []EndpointReport {
	byID := config.EndpointsByID(endpoints)
	out := make([]EndpointReport, 0, len(stats))
	for _, id := range sortedKeys(stats) {
		st := stats[id]
		host := "?"
		if ep, ok := config.ResolveEndpoint(byID, id); ok {
			host = ep.Host
		}

		r := EndpointReport{ID: id, Host: host, Count: st.Count}
		if st.Count == 0 {
			out = append(out, r)
			continue
		}
		r.P05Ms = ptr(st.P05Ms)
		r.P50Ms = ptr(st.P50Ms)
		r.P95Ms = ptr(st.P95Ms)
		r.JitterMs = ptr(st.JitterMs)

		p05Adj := cal.AdjustRTT(st.P05Ms, id)
		p95Adj := cal.AdjustRTT(st.P95Ms, id)
		r.P05AdjMs = ptr(p05Adj)
		r.P95AdjMs = ptr(p95Adj)

		if d, ok := geo.MaxDistanceKm(p05Adj, effSpeedKmS); ok {
			r.MaxDistKmTight = ptr(d)
		}
		if d, ok := geo.MaxDistanceKm(p95Adj, effSpeedKmS); ok {
			r.MaxDistKmLoose = ptr(d)
		}
		out = append(out, r)
	}
	return out
}

// ClaimCheck tests one endpoint's disk against a claimed location.
type ClaimCheck struct {
	ID           string   `json:"id"`
	DistKm       float64  `json:"distKm"`
	MaxTightKm   *float64 `json:"maxTightKm"`
	MaxLooseKm   *float64 `json:"maxLooseKm"`
	FalsifyTight *bool    `json:"falsifyTight"`
	FalsifyLoose *bool    `json:"falsifyLoose"`
}

// ClaimVerdict aggregates the per-endpoint checks. The claim is
// falsified when any endpoint's tight disk excludes it, strongly
// falsified when more than one does.
type ClaimVerdict struct {
	Checks            []ClaimCheck `json:"checks"`
	Falsified         bool         `json:"falsified"`
	StronglyFalsified bool         `json:"stronglyFalsified"`
}

// CheckClaim evaluates a claimed lat/lon against every endpoint with
// coordinates and samples.
func CheckClaim(stats map[string]EndpointStats, endpoints []config.Endpoint, claimLat, claimLon, effSpeedKmS float64, cal *Calibration) ClaimVerdict {
	byID := config.EndpointsByID(endpoints)
	var verdict ClaimVerdict
	tightHits := 0
	for _, id := range sortedKeys(stats) {
		st := stats[id]
		ep, ok := config.ResolveEndpoint(byID, id)
		if !ok || ep.Lat == nil || ep.Lon == nil || st.Count == 0 {
			continue
		}
		distKm := geo.HaversineKm(claimLat, claimLon, *ep.Lat, *ep.Lon)
		check := ClaimCheck{ID: id, DistKm: distKm}

		if d, ok := geo.MaxDistanceKm(cal.AdjustRTT(st.P05Ms, id), effSpeedKmS); ok {
			check.MaxTightKm = ptr(d)
			check.FalsifyTight = ptr(distKm > d)
			if distKm > d {
				tightHits++
			}
		}
		if d, ok := geo.MaxDistanceKm(cal.AdjustRTT(st.P95Ms, id), effSpeedKmS); ok {
			check.MaxLooseKm = ptr(d)
			check.FalsifyLoose = ptr(distKm > d)
		}
		verdict.Checks = append(verdict.Checks, check)
	}
	verdict.Falsified = tightHits >= 1
	verdict.StronglyFalsified = tightHits > 1
	return verdict
}

func sortedKeys(m map[string]EndpointStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ptr[T any](v T) *T { return &v }

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
