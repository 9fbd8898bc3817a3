package dash

import (
	"errors"
	"sync"
	"time"

	"github.com/svdrecbd/LATTICE/internal/analyze"
	"github.com/svdrecbd/LATTICE/internal/geo"
)

// ErrCalibrationRunning rejects a second calibration job while one is
// in flight.
var ErrCalibrationRunning = errors.New("calibration task already running")

// CalibStatus is the pollable job view. The UI pauses its refresh while
// Running so a generate never races the state file writes.
type CalibStatus struct {
	Running    bool   `json:"running"`
	Kind       string `json:"kind,omitempty"`
	StartedAt  int64  `json:"startedAt,omitempty"`
	FinishedAt int64  `json:"finishedAt,omitempty"`
	Error      string `json:"error,omitempty"`
	Result     any    `json:"result,omitempty"`
}

// CalibWorker serializes calibration generate/load/clear on a
// background goroutine.
type CalibWorker struct {
	mu     sync.Mutex
	status CalibStatus
	mgr    *StateManager
}

// NewCalibWorker binds a worker to the state manager holding the
// calibration handle.
func NewCalibWorker(mgr *StateManager) *CalibWorker {
	return &CalibWorker{mgr: mgr}
}

// Status returns the current job view.
func (w *CalibWorker) Status() CalibStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Generate builds a pack from the current window at a known origin and
// writes it to outputPath.
func (w *CalibWorker) Generate(lat, lon float64, outputPath string) error {
	return w.start("generate", func() (any, error) {
		stats := w.mgr.WindowStats()
		cfg := w.mgr.Config()
		opts := w.mgr.opts.Analyze
		if opts.SpeedKmS <= 0 {
			opts.SpeedKmS = geo.DefaultSpeedKmS
		}
		if opts.PathStretch < geo.MinPathStretch {
			opts.PathStretch = geo.DefaultPathStretch
		}
		effSpeed := geo.EffectiveSpeed(opts.SpeedKmS, opts.PathStretch)

		cal := analyze.BuildCalibration(cfg.Endpoints, stats, lat, lon, effSpeed)
		if len(cal.Entries) == 0 {
			return nil, errors.New("no endpoints with coordinates and samples in window")
		}
		if outputPath != "" {
			if err := analyze.SaveCalibration(outputPath, cal); err != nil {
				return nil, err
			}
		}
		w.mgr.SetCalibration(&cal, outputPath)
		return map[string]any{"entries": len(cal.Entries), "path": outputPath}, nil
	})
}

// Load reads a pack from disk and installs it.
func (w *CalibWorker) Load(path string) error {
	return w.start("load", func() (any, error) {
		cal, err := analyze.LoadCalibration(path)
		if err != nil {
			return nil, err
		}
		w.mgr.SetCalibration(&cal, path)
		return map[string]any{"entries": len(cal.Entries), "path": path}, nil
	})
}

// Clear drops the loaded pack.
func (w *CalibWorker) Clear() error {
	return w.start("clear", func() (any, error) {
		w.mgr.ClearCalibration()
		return nil, nil
	})
}

func (w *CalibWorker) start(kind string, fn func() (any, error)) error {
	w.mu.Lock()
	if w.status.Running {
		w.mu.Unlock()
		return ErrCalibrationRunning
	}
	w.status = CalibStatus{
		Running:   true,
		Kind:      kind,
		StartedAt: time.Now().UnixMilli(),
	}
	w.mu.Unlock()

	go func() {
		result, err := fn()

		w.mu.Lock()
		defer w.mu.Unlock()
		w.status.Running = false
		w.status.FinishedAt = time.Now().UnixMilli()
		w.status.Result = result
		if err != nil {
			w.status.Error = err.Error()
		}
	}()
	return nil
}
