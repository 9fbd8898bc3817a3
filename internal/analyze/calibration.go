package analyze

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/geo"
	"github.com/svdrecbd/LATTICE/internal/record"
)

// EndpointCalibration is one entry of a calibration pack.
type EndpointCalibration struct {
	ID          string  `json:"id"`
	BiasMs      float64 `json:"biasMs"`
	Scale       float64 `json:"scale"`
	SampleCount int     `json:"sampleCount"`
}

// Calibration is a pack built from a known-origin window. It is
// immutable once built; consumers share it by value or behind an
// atomically replaced handle.
type Calibration struct {
	CalibrationLat float64               `json:"calibrationLat"`
	CalibrationLon float64               `json:"calibrationLon"`
	SampleCount    int                   `json:"sampleCount"`
	BuildMs        int64                 `json:"buildMs"`
	Entries        []EndpointCalibration `json:"entries"`

	index map[string]int
}

// BuildCalibration derives per-endpoint bias from a window measured at
// a known lat/lon: bias = median RTT - expected physics RTT, clamped at
// zero. Scale is reserved and fixed at 1.0.
func BuildCalibration(endpoints []config.Endpoint, stats map[string]EndpointStats, lat, lon, effSpeedKmS float64) Calibration {
	byID := config.EndpointsByID(endpoints)
	cal := Calibration{
		CalibrationLat: lat,
		CalibrationLon: lon,
		BuildMs:        record.NowUnixMs(),
	}
	for _, id := range sortedKeys(stats) {
		st := stats[id]
		ep, ok := config.ResolveEndpoint(byID, id)
		if !ok || ep.Lat == nil || ep.Lon == nil {
			continue
		}
		rtt := st.P50Ms
		if st.Count == 0 || rtt <= 0 {
			continue
		}
		distKm := geo.HaversineKm(lat, lon, *ep.Lat, *ep.Lon)
		expected := geo.ExpectedRTTMs(distKm, effSpeedKmS)
		bias := rtt - expected
		if bias < 0 {
			bias = 0
		}
		cal.Entries = append(cal.Entries, EndpointCalibration{
			ID:          id,
			BiasMs:      bias,
			Scale:       1.0,
			SampleCount: st.Count,
		})
		cal.SampleCount += st.Count
	}
	cal.buildIndex()
	return cal
}

// Entry resolves a per-path key ("<endpointId>@<pathId>") to its pack
// entry, falling back to the base endpoint id.
func (c *Calibration) Entry(endpointID string) (EndpointCalibration, bool) {
	if c == nil {
		return EndpointCalibration{}, false
	}
	if c.index == nil {
		c.buildIndex()
	}
	if i, ok := c.index[endpointID]; ok {
		return c.Entries[i], true
	}
	if base, _, found := strings.Cut(endpointID, "@"); found {
		if i, ok := c.index[base]; ok {
			return c.Entries[i], true
		}
	}
	return EndpointCalibration{}, false
}

// AdjustRTT removes the calibrated bias (and reserved scale) from an
// observed RTT, clamped at zero. Without a matching entry the RTT is
// returned unchanged.
func (c *Calibration) AdjustRTT(rttMs float64, endpointID string) float64 {
	entry, ok := c.Entry(endpointID)
	if !ok {
		return rttMs
	}
	scale := entry.Scale
	if scale <= 0 {
		// The pack format reserves scale; tolerate junk on load.
		scale = 1.0
	}
	adj := (rttMs - entry.BiasMs) / scale
	if adj < 0 {
		return 0
	}
	return adj
}

func (c *Calibration) buildIndex() {
	c.index = make(map[string]int, len(c.Entries))
	for i, e := range c.Entries {
		c.index[e.ID] = i
	}
}

// LoadCalibration reads a calibration pack document.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, err
	}
	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return Calibration{}, fmt.Errorf("calibration parse: %w", err)
	}
	cal.buildIndex()
	return cal, nil
}

// SaveCalibration writes a calibration pack document.
func SaveCalibration(path string, cal Calibration) error {
	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
