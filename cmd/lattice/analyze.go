package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/svdrecbd/LATTICE/internal/analyze"
	"github.com/svdrecbd/LATTICE/internal/geo"
	"github.com/svdrecbd/LATTICE/internal/record"
)

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	sessionPath := fs.String("session", "", "session JSONL log")
	baselinePath := fs.String("baseline", "", "baseline JSONL log")
	claimLat := fs.Float64("claim-lat", math.NaN(), "claimed egress latitude")
	claimLon := fs.Float64("claim-lon", math.NaN(), "claimed egress longitude")
	calibPath := fs.String("calibration", "", "calibration pack to apply")
	calibOut := fs.String("calibration-out", "", "write a calibration pack here")
	calibLat := fs.Float64("calib-lat", math.NaN(), "known latitude for calibration")
	calibLon := fs.Float64("calib-lon", math.NaN(), "known longitude for calibration")
	gridDeg := fs.Float64("grid", analyze.DefaultGridDeg, "coarse grid step in degrees")
	refineDeg := fs.Float64("refine", analyze.DefaultRefineDeg, "refinement grid step in degrees")
	speedKmS := fs.Float64("speed-km-s", geo.DefaultSpeedKmS, "signal speed in km/s")
	pathStretch := fs.Float64("path-stretch", geo.DefaultPathStretch, "routing stretch factor (>=1)")
	bandFactor := fs.Float64("band-factor", analyze.DefaultBandFactorLoose, "loose band SSE factor")
	bandWindowDeg := fs.Float64("band-window-deg", analyze.DefaultBandWindowDeg, "band scan window in degrees")
	asJSON := fs.Bool("json", false, "emit the analysis as JSON")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *sessionPath == "" {
		fatal(fmt.Errorf("--session is required"))
	}

	session, err := record.ReadFile(*sessionPath)
	if err != nil {
		fatal(fmt.Errorf("session log: %w", err))
	}

	var baseline []record.BurstRecord
	if *baselinePath != "" {
		baseline, err = record.ReadFile(*baselinePath)
		if err != nil {
			fatal(fmt.Errorf("baseline log: %w", err))
		}
	}

	var cal *analyze.Calibration
	if *calibPath != "" {
		loaded, err := analyze.LoadCalibration(*calibPath)
		if err != nil {
			fatal(err)
		}
		cal = &loaded
	}

	opts := analyze.Options{
		SpeedKmS:    *speedKmS,
		PathStretch: *pathStretch,
		Estimate: analyze.EstimateOptions{
			GridDeg:         *gridDeg,
			RefineDeg:       *refineDeg,
			BandFactorTight: analyze.DefaultBandFactorTight,
			BandFactorLoose: *bandFactor,
			BandWindowDeg:   *bandWindowDeg,
		},
	}
	if !math.IsNaN(*claimLat) && !math.IsNaN(*claimLon) {
		opts.ClaimLat = claimLat
		opts.ClaimLon = claimLon
	}

	// Generating a pack uses the baseline window when given, else the
	// session window, measured at the known origin.
	if *calibOut != "" {
		if math.IsNaN(*calibLat) || math.IsNaN(*calibLon) {
			fatal(fmt.Errorf("--calibration-out requires --calib-lat and --calib-lon"))
		}
		source := session
		if baseline != nil {
			source = baseline
		}
		effSpeed := geo.EffectiveSpeed(*speedKmS, *pathStretch)
		built := analyze.BuildCalibration(cfg.Endpoints, analyze.BuildStats(source), *calibLat, *calibLon, effSpeed)
		if err := analyze.SaveCalibration(*calibOut, built); err != nil {
			fatal(err)
		}
		cal = &built
	}

	out := analyze.Run(cfg, session, baseline, cal, opts)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fatal(err)
		}
		return
	}
	printAnalysis(out)
}

func printAnalysis(out analyze.Output) {
	fmt.Printf("Session: %d records\n", out.Session.Records)
	printReports("session", out.Session.EndpointStats)

	if out.Claim != nil {
		fmt.Println("\nClaim check:")
		for _, c := range out.Claim.Checks {
			fmt.Printf("- %s dist=%.1fkm max_tight=%s max_loose=%s falsify_tight=%v falsify_loose=%v\n",
				c.ID, c.DistKm, fmtKm(c.MaxTightKm), fmtKm(c.MaxLooseKm),
				boolOrNil(c.FalsifyTight), boolOrNil(c.FalsifyLoose))
		}
		switch {
		case out.Claim.StronglyFalsified:
			fmt.Println("Verdict: claim STRONGLY FALSIFIED (multiple endpoints exclude it)")
		case out.Claim.Falsified:
			fmt.Println("Verdict: claim falsified")
		default:
			fmt.Println("Verdict: claim not excluded by physics")
		}
	}

	if est := out.Session.Estimate; est != nil {
		fmt.Println("\nSession estimate (treats RTTs as direct path; for VPN this approximates exit):")
		printEstimate(est)
	} else {
		fmt.Println("\nSession estimate: insufficient endpoint data (need lat/lon + RTTs).")
	}

	if out.Baseline != nil {
		fmt.Printf("\nBaseline: %d records\n", out.Baseline.Records)
		printReports("baseline", out.Baseline.EndpointStats)
		if est := out.Baseline.Estimate; est != nil {
			fmt.Println("\nBaseline estimate:")
			printEstimate(est)
		}

		fmt.Println("\nBaseline vs session deltas (p05):")
		for _, d := range out.Deltas {
			fmt.Printf("- %s delta_p05=%.2fms (baseline %.2f -> session %.2f)\n",
				d.ID, d.DeltaP05Ms, d.BaselineP05Ms, d.SessionP05Ms)
		}
		if out.EstimateSeparationKm != nil {
			fmt.Printf("\nEstimate separation: %.1f km (VPN on often shifts toward exit)\n", *out.EstimateSeparationKm)
		}
	}

	if out.Drift != nil {
		fmt.Printf("\nCalibration drift: median_abs=%.2fms max_abs=%.2fms warn=%v\n",
			out.Drift.MedianAbsMs, out.Drift.MaxAbsMs, out.Drift.Warn)
	}
}

func printReports(label string, reports []analyze.EndpointReport) {
	fmt.Printf("\n%s endpoint stats (p05/p50/p95 in ms):\n", label)
	for _, r := range reports {
		fmt.Printf("- %s (%s) count=%d p05=%s p50=%s p95=%s jitter=%s\n",
			r.ID, r.Host, r.Count, fmtMs(r.P05Ms), fmtMs(r.P50Ms), fmtMs(r.P95Ms), fmtMs(r.JitterMs))
		if r.MaxDistKmTight != nil && r.MaxDistKmLoose != nil {
			fmt.Printf("  max_dist_km tight=%.1f loose=%.1f\n", *r.MaxDistKmTight, *r.MaxDistKmLoose)
		}
	}
}

func printEstimate(est *analyze.Estimate) {
	fmt.Printf("- lat=%.4f, lon=%.4f, bias=%.2fms, sse=%.2f, endpoints_used=%d\n",
		est.Lat, est.Lon, est.BiasMs, est.SSE, est.Points)
	for _, b := range []struct {
		name string
		band *analyze.Band
	}{{"tight", est.BandTight}, {"loose", est.BandLoose}} {
		if b.band == nil {
			continue
		}
		fmt.Printf("  band_%s: radius=%.1fkm points=%d lat[%.2f,%.2f] lon[%.2f,%.2f]\n",
			b.name, b.band.RadiusKm, b.band.Points,
			b.band.MinLat, b.band.MaxLat, b.band.MinLon, b.band.MaxLon)
		if b.band.Ellipse != nil {
			fmt.Printf("  band_%s ellipse: major=%.1fkm minor=%.1fkm angle=%.1fdeg\n",
				b.name, b.band.Ellipse.MajorKm, b.band.Ellipse.MinorKm, b.band.Ellipse.AngleDeg)
		}
	}
}

func fmtMs(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtKm(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fkm", *v)
}

func boolOrNil(v *bool) any {
	if v == nil {
		return "-"
	}
	return *v
}
