package analyze

import (
	"errors"

	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/geo"
	"github.com/svdrecbd/LATTICE/internal/record"
)

// ErrInsufficientData marks a window that cannot support an estimate.
var ErrInsufficientData = errors.New("insufficient endpoint data")

// Options carries every analyzer knob; zero values fall back to the
// documented defaults.
type Options struct {
	SpeedKmS    float64
	PathStretch float64
	Estimate    EstimateOptions
	DriftWarnMs float64

	ClaimLat *float64
	ClaimLon *float64
}

// DefaultOptions returns the analyzer defaults.
func DefaultOptions() Options {
	return Options{
		SpeedKmS:    geo.DefaultSpeedKmS,
		PathStretch: geo.DefaultPathStretch,
		Estimate:    DefaultEstimateOptions(),
		DriftWarnMs: DefaultDriftWarnMs,
	}
}

func (o *Options) normalize() {
	if o.SpeedKmS <= 0 {
		o.SpeedKmS = geo.DefaultSpeedKmS
	}
	if o.PathStretch <= 0 {
		o.PathStretch = geo.DefaultPathStretch
	} else if o.PathStretch < geo.MinPathStretch {
		o.PathStretch = geo.MinPathStretch
	}
	d := DefaultEstimateOptions()
	if o.Estimate.GridDeg <= 0 {
		o.Estimate.GridDeg = d.GridDeg
	}
	if o.Estimate.RefineDeg <= 0 {
		o.Estimate.RefineDeg = d.RefineDeg
	}
	if o.Estimate.BandFactorTight <= 0 {
		o.Estimate.BandFactorTight = d.BandFactorTight
	}
	if o.Estimate.BandFactorLoose <= 0 {
		o.Estimate.BandFactorLoose = d.BandFactorLoose
	}
	if o.Estimate.BandWindowDeg <= 0 {
		o.Estimate.BandWindowDeg = d.BandWindowDeg
	}
	if o.DriftWarnMs <= 0 {
		o.DriftWarnMs = DefaultDriftWarnMs
	}
}

// Params echoes the resolved knobs into the output document.
type Params struct {
	SpeedKmS        float64 `json:"speedKmS"`
	EffectiveSpeed  float64 `json:"effectiveSpeedKmS"`
	PathStretch     float64 `json:"pathStretch"`
	GridDeg         float64 `json:"gridDeg"`
	RefineDeg       float64 `json:"refineDeg"`
	BandFactorTight float64 `json:"bandFactorTight"`
	BandFactorLoose float64 `json:"bandFactorLoose"`
	BandWindowDeg   float64 `json:"bandWindowDeg"`
}

// SessionOutput is the analysis of one record window.
type SessionOutput struct {
	Label         string           `json:"label"`
	Records       int              `json:"records"`
	EndpointStats []EndpointReport `json:"endpointStats"`
	Estimate      *Estimate        `json:"estimate"`
}

// Output is the whole analysis document.
type Output struct {
	Params               Params         `json:"params"`
	Session              SessionOutput  `json:"session"`
	Baseline             *SessionOutput `json:"baseline,omitempty"`
	Claim                *ClaimVerdict  `json:"claimChecks,omitempty"`
	Deltas               []Delta        `json:"deltas,omitempty"`
	Drift                *Drift         `json:"calibrationDrift,omitempty"`
	EstimateSeparationKm *float64       `json:"estimateSeparationKm,omitempty"`
}

// Run performs one full analysis pass. The calibration may be nil. The
// baseline record set may be nil.
func Run(cfg config.Config, session, baseline []record.BurstRecord, cal *Calibration, opts Options) Output {
	opts.normalize()
	effSpeed := geo.EffectiveSpeed(opts.SpeedKmS, opts.PathStretch)

	sessionStats := BuildStats(session)
	out := Output{
		Params: Params{
			SpeedKmS:        opts.SpeedKmS,
			EffectiveSpeed:  effSpeed,
			PathStretch:     opts.PathStretch,
			GridDeg:         opts.Estimate.GridDeg,
			RefineDeg:       opts.Estimate.RefineDeg,
			BandFactorTight: opts.Estimate.BandFactorTight,
			BandFactorLoose: opts.Estimate.BandFactorLoose,
			BandWindowDeg:   opts.Estimate.BandWindowDeg,
		},
		Session: SessionOutput{
			Label:         "session",
			Records:       len(session),
			EndpointStats: BuildEndpointReports(sessionStats, cfg.Endpoints, effSpeed, cal),
			Estimate:      EstimateLocation(sessionStats, cfg.Endpoints, effSpeed, opts.Estimate, cal),
		},
	}

	if opts.ClaimLat != nil && opts.ClaimLon != nil {
		verdict := CheckClaim(sessionStats, cfg.Endpoints, *opts.ClaimLat, *opts.ClaimLon, effSpeed, cal)
		out.Claim = &verdict
	}

	if baseline != nil {
		baselineStats := BuildStats(baseline)
		out.Baseline = &SessionOutput{
			Label:         "baseline",
			Records:       len(baseline),
			EndpointStats: BuildEndpointReports(baselineStats, cfg.Endpoints, effSpeed, cal),
			Estimate:      EstimateLocation(baselineStats, cfg.Endpoints, effSpeed, opts.Estimate, cal),
		}
		out.Deltas = BuildDeltas(baselineStats, sessionStats)

		if out.Baseline.Estimate != nil && out.Session.Estimate != nil {
			sep := geo.HaversineKm(
				out.Baseline.Estimate.Lat, out.Baseline.Estimate.Lon,
				out.Session.Estimate.Lat, out.Session.Estimate.Lon,
			)
			out.EstimateSeparationKm = &sep
		}
	}

	out.Drift = BuildDrift(sessionStats, cfg.Endpoints, cal, effSpeed, opts.DriftWarnMs)
	return out
}
