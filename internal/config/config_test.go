package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func f64(v float64) *float64 { return &v }

func validConfig() Config {
	cfg := Config{
		SecretHex: "00112233445566778899aabbccddeeff",
		Endpoints: []Endpoint{
			{ID: "nyc", Host: "probe-nyc.example.net", Port: 9000, RegionHint: "us-east", Lat: f64(40.71), Lon: f64(-74.0)},
		},
	}
	ApplyDefaults(&cfg)
	return cfg
}

func TestLoadSave_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lattice.yaml")
	cfg := validConfig()
	cfg.ProbePaths = []ProbePath{{ID: "vpn", BindInterface: "wg0"}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Endpoints) != 1 || got.Endpoints[0].ID != "nyc" {
		t.Fatalf("endpoints=%+v", got.Endpoints)
	}
	if got.ProbePaths[0].BindInterface != "wg0" {
		t.Fatalf("probePaths=%+v", got.ProbePaths)
	}
	if got.SamplesPerEndpoint != DefaultSamplesPerEndpoint {
		t.Fatalf("samplesPerEndpoint=%d", got.SamplesPerEndpoint)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Endpoints: []Endpoint{{ID: "a", Host: "h"}}}
	ApplyDefaults(&cfg)
	if cfg.Endpoints[0].Port != DefaultPort {
		t.Fatalf("port=%d", cfg.Endpoints[0].Port)
	}
	if cfg.TimeoutMs != DefaultTimeoutMs || cfg.IntervalSeconds != DefaultIntervalSeconds {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.PhysicsMismatchThresholdMs != DefaultPhysicsThresholdMs {
		t.Fatalf("threshold=%v", cfg.PhysicsMismatchThresholdMs)
	}
}

func TestValidate_AggregatesFieldErrors(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Endpoints: []Endpoint{
			{ID: "a", Host: "", Port: 0, Lat: f64(1)},
			{ID: "a", Host: "h", Port: 70000},
		},
		ProbePaths:         []ProbePath{{ID: "p"}, {ID: "p"}},
		SamplesPerEndpoint: 0,
		TimeoutMs:          0,
		IntervalSeconds:    0,
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"missing host", "duplicate id", "out of range", "lat and lon", "samplesPerEndpoint", "timeoutMs", "intervalSeconds", "outputPath"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error missing %q: %s", want, msg)
		}
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()

	if err := Validate(validConfig()); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestResolveEndpoint_PathKey(t *testing.T) {
	t.Parallel()

	byID := EndpointsByID([]Endpoint{{ID: "nyc", Host: "h"}})
	if _, ok := ResolveEndpoint(byID, "nyc"); !ok {
		t.Fatal("bare id not resolved")
	}
	if ep, ok := ResolveEndpoint(byID, "nyc@vpn"); !ok || ep.ID != "nyc" {
		t.Fatalf("path key not resolved: %+v ok=%v", ep, ok)
	}
	if _, ok := ResolveEndpoint(byID, "sfo@vpn"); ok {
		t.Fatal("unknown id resolved")
	}
}
