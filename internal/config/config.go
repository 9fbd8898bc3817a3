package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort                = 9000
	DefaultSamplesPerEndpoint  = 10
	DefaultSpacingMs           = 10
	DefaultTimeoutMs           = 500
	DefaultIntervalSeconds     = 30
	DefaultPacingSpinUs        = 200
	DefaultOutputPath          = "lattice.jsonl"
	DefaultPhysicsThresholdMs  = 30.0
	DefaultAutoBaselineMinutes = 5
	DefaultWindowMinutes       = 30
	DefaultPathID              = "default"
)

// Endpoint is one geographically tagged echo target. Immutable once
// loaded; a config reload produces a new set.
type Endpoint struct {
	ID         string   `yaml:"id" json:"id"`
	Host       string   `yaml:"host" json:"host"`
	Port       int      `yaml:"port" json:"port"`
	RegionHint string   `yaml:"regionHint,omitempty" json:"regionHint,omitempty"`
	Lat        *float64 `yaml:"lat,omitempty" json:"lat,omitempty"`
	Lon        *float64 `yaml:"lon,omitempty" json:"lon,omitempty"`
}

// ProbePath is a local binding used to duplicate probes across routes.
type ProbePath struct {
	ID            string `yaml:"id" json:"id"`
	BindInterface string `yaml:"bindInterface,omitempty" json:"bindInterface,omitempty"`
	BindIP        string `yaml:"bindIp,omitempty" json:"bindIp,omitempty"`
}

// Config is the probe client configuration document.
type Config struct {
	SecretHex                  string      `yaml:"secretHex" json:"secretHex"`
	Endpoints                  []Endpoint  `yaml:"endpoints" json:"endpoints"`
	ProbePaths                 []ProbePath `yaml:"probePaths,omitempty" json:"probePaths,omitempty"`
	SamplesPerEndpoint         int         `yaml:"samplesPerEndpoint" json:"samplesPerEndpoint"`
	SpacingMs                  int         `yaml:"spacingMs" json:"spacingMs"`
	TimeoutMs                  int         `yaml:"timeoutMs" json:"timeoutMs"`
	IntervalSeconds            int         `yaml:"intervalSeconds" json:"intervalSeconds"`
	PacingSpinUs               int         `yaml:"pacingSpinUs" json:"pacingSpinUs"`
	OutputPath                 string      `yaml:"outputPath" json:"outputPath"`
	ClaimedEgressRegion        string      `yaml:"claimedEgressRegion,omitempty" json:"claimedEgressRegion,omitempty"`
	PhysicsMismatchThresholdMs float64     `yaml:"physicsMismatchThresholdMs" json:"physicsMismatchThresholdMs"`
}

// Load reads and parses a YAML config file and applies defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse: %w", err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.SamplesPerEndpoint == 0 {
		cfg.SamplesPerEndpoint = DefaultSamplesPerEndpoint
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = DefaultTimeoutMs
	}
	if cfg.IntervalSeconds == 0 {
		cfg.IntervalSeconds = DefaultIntervalSeconds
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = DefaultOutputPath
	}
	if cfg.PhysicsMismatchThresholdMs == 0 {
		cfg.PhysicsMismatchThresholdMs = DefaultPhysicsThresholdMs
	}
	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].Port == 0 {
			cfg.Endpoints[i].Port = DefaultPort
		}
	}
}

// Validate checks the document field by field and aggregates every
// problem into one error so startup prints a single message.
func Validate(cfg Config) error {
	var err error

	if len(cfg.Endpoints) == 0 {
		err = multierr.Append(err, fmt.Errorf("endpoints: must not be empty"))
	}
	seen := map[string]bool{}
	for i, ep := range cfg.Endpoints {
		if strings.TrimSpace(ep.ID) == "" {
			err = multierr.Append(err, fmt.Errorf("endpoints[%d]: missing id", i))
			continue
		}
		if seen[ep.ID] {
			err = multierr.Append(err, fmt.Errorf("endpoints[%d]: duplicate id %q", i, ep.ID))
		}
		seen[ep.ID] = true
		if strings.TrimSpace(ep.Host) == "" {
			err = multierr.Append(err, fmt.Errorf("endpoints[%d] %s: missing host", i, ep.ID))
		}
		if ep.Port <= 0 || ep.Port > 65535 {
			err = multierr.Append(err, fmt.Errorf("endpoints[%d] %s: port %d out of range", i, ep.ID, ep.Port))
		}
		if (ep.Lat == nil) != (ep.Lon == nil) {
			err = multierr.Append(err, fmt.Errorf("endpoints[%d] %s: lat and lon must both be set or both be absent", i, ep.ID))
		}
	}

	seenPath := map[string]bool{}
	for i, p := range cfg.ProbePaths {
		if strings.TrimSpace(p.ID) == "" {
			err = multierr.Append(err, fmt.Errorf("probePaths[%d]: missing id", i))
			continue
		}
		if seenPath[p.ID] {
			err = multierr.Append(err, fmt.Errorf("probePaths[%d]: duplicate id %q", i, p.ID))
		}
		seenPath[p.ID] = true
	}

	if cfg.SamplesPerEndpoint <= 0 {
		err = multierr.Append(err, fmt.Errorf("samplesPerEndpoint: must be > 0"))
	}
	if cfg.SpacingMs < 0 {
		err = multierr.Append(err, fmt.Errorf("spacingMs: must be >= 0"))
	}
	if cfg.TimeoutMs <= 0 {
		err = multierr.Append(err, fmt.Errorf("timeoutMs: must be > 0"))
	}
	if cfg.IntervalSeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("intervalSeconds: must be > 0"))
	}
	if cfg.PacingSpinUs < 0 {
		err = multierr.Append(err, fmt.Errorf("pacingSpinUs: must be >= 0"))
	}
	if strings.TrimSpace(cfg.OutputPath) == "" {
		err = multierr.Append(err, fmt.Errorf("outputPath: must not be empty"))
	}

	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	return nil
}

// EndpointsByID indexes endpoints for lookup by id.
func EndpointsByID(endpoints []Endpoint) map[string]Endpoint {
	out := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		out[ep.ID] = ep
	}
	return out
}

// ResolveEndpoint looks up a per-path key ("<endpointId>@<pathId>") or a
// bare endpoint id.
func ResolveEndpoint(byID map[string]Endpoint, id string) (Endpoint, bool) {
	if ep, ok := byID[id]; ok {
		return ep, true
	}
	if base, _, found := strings.Cut(id, "@"); found {
		ep, ok := byID[base]
		return ep, ok
	}
	return Endpoint{}, false
}
