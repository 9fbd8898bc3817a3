// Package dash hosts the dashboard-facing state: a live window over
// the probe log, the calibration lifecycle, child process control and
// the HTTP API the UI consumes.
package dash

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/svdrecbd/LATTICE/internal/analyze"
	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/health"
	"github.com/svdrecbd/LATTICE/internal/record"
)

const msPerMin = 60_000

// AutoBaseline describes the implicit baseline captured from the head
// of the log.
type AutoBaseline struct {
	Enabled  bool  `json:"enabled"`
	Minutes  int   `json:"minutes"`
	StartMs  int64 `json:"startMs,omitempty"`
	Complete bool  `json:"complete"`
}

// CalibrationMeta is the loaded pack's summary shown in state.
type CalibrationMeta struct {
	Path           string  `json:"path,omitempty"`
	BuildMs        int64   `json:"buildMs"`
	CalibrationLat float64 `json:"calibrationLat"`
	CalibrationLon float64 `json:"calibrationLon"`
	Entries        int     `json:"entries"`
	SampleCount    int     `json:"sampleCount"`
}

// State is the full document served to the UI on every refresh.
type State struct {
	NowMs            int64                    `json:"nowMs"`
	Records          int                      `json:"records"`
	EndpointStats    []analyze.EndpointReport `json:"endpointStats"`
	Estimate         *analyze.Estimate        `json:"estimate"`
	BaselineEstimate *analyze.Estimate        `json:"baselineEstimate,omitempty"`
	Deltas           []analyze.Delta          `json:"deltas,omitempty"`
	Drift            *analyze.Drift           `json:"calibrationDrift,omitempty"`
	Health           []health.EndpointHealth  `json:"health"`
	Hygiene          health.Hygiene           `json:"hygiene"`
	Log              health.LogStatus         `json:"log"`
	SessionMarkMs    int64                    `json:"sessionMarkMs,omitempty"`
	AutoBaseline     AutoBaseline             `json:"autoBaseline"`
	Calibration      *CalibrationMeta         `json:"calibration,omitempty"`
	PublicAddr       string                   `json:"publicAddr,omitempty"`
}

// StateManagerOptions tune the live window.
type StateManagerOptions struct {
	WindowMinutes       int
	AutoBaselineMinutes int
	Analyze             analyze.Options
}

// StateManager tails the probe log and assembles dashboard state. All
// methods are safe for concurrent use.
type StateManager struct {
	mu sync.Mutex

	cfg     config.Config
	cfgPath string
	opts    StateManagerOptions
	log     *slog.Logger

	watcher    *health.LogWatcher
	readOffset int64
	window     []record.BurstRecord
	lastReset  health.LogStatus

	sessionMarkMs int64

	abEnabled  bool
	abStartMs  int64
	abEndMs    int64
	abComplete bool
	abRecords  []record.BurstRecord

	calibration *analyze.Calibration
	calibPath   string

	publicAddr string
}

// NewStateManager builds a manager over the config's output log.
func NewStateManager(cfg config.Config, cfgPath string, opts StateManagerOptions, logger *slog.Logger) *StateManager {
	if opts.WindowMinutes <= 0 {
		opts.WindowMinutes = config.DefaultWindowMinutes
	}
	if opts.AutoBaselineMinutes == 0 {
		opts.AutoBaselineMinutes = config.DefaultAutoBaselineMinutes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateManager{
		cfg:       cfg,
		cfgPath:   cfgPath,
		opts:      opts,
		log:       logger,
		watcher:   health.NewLogWatcher(cfg.OutputPath),
		abEnabled: opts.AutoBaselineMinutes > 0,
	}
}

// Config returns the loaded configuration.
func (m *StateManager) Config() config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// MarkSession stamps "now" as the session boundary; windowed views
// start from the most recent mark.
func (m *StateManager) MarkSession() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionMarkMs = time.Now().UnixMilli()
	return m.sessionMarkMs
}

// SetCalibration installs (or replaces) the shared calibration handle.
func (m *StateManager) SetCalibration(cal *analyze.Calibration, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibration = cal
	m.calibPath = path
}

// ClearCalibration drops the loaded pack.
func (m *StateManager) ClearCalibration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibration = nil
	m.calibPath = ""
}

// Calibration returns the currently loaded pack (may be nil).
func (m *StateManager) Calibration() *analyze.Calibration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calibration
}

// SetPublicAddr records the STUN-discovered egress address.
func (m *StateManager) SetPublicAddr(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicAddr = addr
}

// WindowStats exposes the analyzer stats of the current window; the
// calibration worker builds packs from it.
func (m *StateManager) WindowStats() map[string]analyze.EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	return analyze.BuildStats(m.sessionWindowLocked())
}

// ClearState forgets the in-memory window, the session mark and the
// auto-baseline; with truncate it also empties the log file.
func (m *StateManager) ClearState(truncate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = nil
	m.readOffset = 0
	m.sessionMarkMs = 0
	m.abStartMs = 0
	m.abEndMs = 0
	m.abComplete = false
	m.abRecords = nil
	m.lastReset = health.LogStatus{}
	m.watcher = health.NewLogWatcher(m.cfg.OutputPath)

	if truncate {
		if err := os.Truncate(m.cfg.OutputPath, 0); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	// Without truncation the log keeps its history but the view starts
	// over from the current end of file.
	if info, err := os.Stat(m.cfg.OutputPath); err == nil {
		m.readOffset = info.Size()
		m.watcher.Check()
	}
	return nil
}

// GetState refreshes the window and assembles the document.
func (m *StateManager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMs := time.Now().UnixMilli()
	status := m.refreshLocked()

	session := m.sessionWindowLocked()

	opts := m.opts.Analyze
	out := analyze.Run(m.cfg, session, m.baselineRecordsLocked(), m.calibration, opts)

	st := State{
		NowMs:         nowMs,
		Records:       len(session),
		EndpointStats: out.Session.EndpointStats,
		Estimate:      out.Session.Estimate,
		Deltas:        out.Deltas,
		Drift:         out.Drift,
		Health:        health.BuildReports(session, m.opts.WindowMinutes, m.cfg.IntervalSeconds, m.cfg.SamplesPerEndpoint),
		Hygiene:       health.BuildHygiene(m.cfg.Endpoints),
		Log:           status,
		SessionMarkMs: m.sessionMarkMs,
		AutoBaseline: AutoBaseline{
			Enabled:  m.abEnabled,
			Minutes:  m.opts.AutoBaselineMinutes,
			StartMs:  m.abStartMs,
			Complete: m.abComplete,
		},
		PublicAddr: m.publicAddr,
	}
	if out.Baseline != nil {
		st.BaselineEstimate = out.Baseline.Estimate
	}
	if m.calibration != nil {
		st.Calibration = &CalibrationMeta{
			Path:           m.calibPath,
			BuildMs:        m.calibration.BuildMs,
			CalibrationLat: m.calibration.CalibrationLat,
			CalibrationLon: m.calibration.CalibrationLon,
			Entries:        len(m.calibration.Entries),
			SampleCount:    m.calibration.SampleCount,
		}
	}
	return st
}

// refreshLocked tails new lines from the log, handling rotation and
// truncation by re-seeding from the start of the new file.
func (m *StateManager) refreshLocked() health.LogStatus {
	status, reset := m.watcher.Check()
	if status.Missing {
		return status
	}
	if reset {
		m.window = nil
		m.readOffset = 0
		m.lastReset = status
	} else if m.lastReset.ResetReason != "" {
		// Keep showing the last reset reason until a fresh reset or a
		// clear; the UI decides how long to surface it.
		status.ResetReason = m.lastReset.ResetReason
		status.ResetMs = m.lastReset.ResetMs
	}

	file, err := os.Open(m.cfg.OutputPath)
	if err != nil {
		m.log.Warn("log open failed", "err", err)
		return status
	}
	defer file.Close()

	if _, err := file.Seek(m.readOffset, io.SeekStart); err != nil {
		m.log.Warn("log seek failed", "err", err)
		return status
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial trailing line is left for the next refresh.
			break
		}
		m.readOffset += int64(len(line))
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec record.BurstRecord
		if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr != nil {
			continue
		}
		m.ingestLocked(rec)
	}

	m.trimLocked(time.Now().UnixMilli())
	m.maybeFinalizeBaselineLocked(time.Now().UnixMilli())
	return status
}

func (m *StateManager) ingestLocked(rec record.BurstRecord) {
	m.window = append(m.window, rec)

	if m.abEnabled && !m.abComplete {
		if m.abStartMs == 0 {
			m.abStartMs = rec.TsUnixMs
			m.abEndMs = rec.TsUnixMs + int64(m.opts.AutoBaselineMinutes)*msPerMin
		}
		if rec.TsUnixMs <= m.abEndMs {
			m.abRecords = append(m.abRecords, rec)
		}
	}
}

func (m *StateManager) trimLocked(nowMs int64) {
	cutoff := nowMs - int64(m.opts.WindowMinutes)*msPerMin
	i := 0
	for i < len(m.window) && m.window[i].TsUnixMs < cutoff {
		i++
	}
	if i > 0 {
		m.window = append([]record.BurstRecord(nil), m.window[i:]...)
	}
}

// maybeFinalizeBaselineLocked locks the auto-baseline once its capture
// window has elapsed.
func (m *StateManager) maybeFinalizeBaselineLocked(nowMs int64) {
	if !m.abEnabled || m.abComplete || m.abEndMs == 0 {
		return
	}
	if nowMs < m.abEndMs {
		return
	}
	m.abComplete = true
}

func (m *StateManager) baselineRecordsLocked() []record.BurstRecord {
	if !m.abComplete || len(m.abRecords) == 0 {
		return nil
	}
	return m.abRecords
}

// sessionWindowLocked applies the session marker to the live window.
func (m *StateManager) sessionWindowLocked() []record.BurstRecord {
	if m.sessionMarkMs == 0 {
		return m.window
	}
	var out []record.BurstRecord
	for _, rec := range m.window {
		if rec.TsUnixMs >= m.sessionMarkMs {
			out = append(out, rec)
		}
	}
	return out
}
