package dash

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/svdrecbd/LATTICE/internal/config"
)

// Server bundles the dashboard API over the state manager, the
// calibration worker and the child process runners.
type Server struct {
	mgr    *StateManager
	calib  *CalibWorker
	client *ProcRunner
	echo   *ProcRunner

	exportDir string
}

// NewServer wires the API host.
func NewServer(mgr *StateManager, calib *CalibWorker, client, echo *ProcRunner, exportDir string) *Server {
	if exportDir == "" {
		exportDir = "."
	}
	return &Server{mgr: mgr, calib: calib, client: client, echo: echo, exportDir: exportDir}
}

// Router builds the typed HTTP surface consumed by the UI.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config/parts", s.handleSetConfigParts)

		r.Post("/client/start", s.handleProcStart(s.client))
		r.Post("/client/stop", s.handleProcStop(s.client))
		r.Post("/server/start", s.handleProcStart(s.echo))
		r.Post("/server/stop", s.handleProcStop(s.echo))

		r.Post("/session/mark", s.handleMarkSession)
		r.Post("/state/clear", s.handleClearState)
		r.Post("/export", s.handleExport)

		r.Route("/calibration", func(r chi.Router) {
			r.Get("/status", s.handleCalibStatus)
			r.Post("/generate", s.handleCalibGenerate)
			r.Post("/load", s.handleCalibLoad)
			r.Post("/clear", s.handleCalibClear)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind string, err error) {
	writeJSON(w, code, map[string]string{"error": kind, "message": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.GetState())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Config())
}

// SetConfigPartsRequest carries the editable config fragments as YAML
// text, the way the UI edits them.
type SetConfigPartsRequest struct {
	EndpointsText  string `json:"endpointsText"`
	ProbePathsText string `json:"probePathsText"`
}

func (s *Server) handleSetConfigParts(w http.ResponseWriter, r *http.Request) {
	var req SetConfigPartsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	cfg, err := s.mgr.SetConfigParts(req.EndpointsText, req.ProbePathsText)
	if err != nil {
		writeError(w, http.StatusBadRequest, "config_invalid", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleProcStart(p *ProcRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Start(); err != nil {
			writeError(w, http.StatusConflict, "start_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, p.Status())
	}
}

func (s *Server) handleProcStop(p *ProcRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Stop(); err != nil {
			writeError(w, http.StatusInternalServerError, "stop_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, p.Status())
	}
}

func (s *Server) handleMarkSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"sessionMarkMs": s.mgr.MarkSession()})
}

// ClearStateRequest optionally truncates the log alongside the
// in-memory window.
type ClearStateRequest struct {
	TruncateLog bool `json:"truncateLog"`
}

func (s *Server) handleClearState(w http.ResponseWriter, r *http.Request) {
	var req ClearStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := s.mgr.ClearState(req.TruncateLog); err != nil {
		writeError(w, http.StatusInternalServerError, "clear_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// ExportRequest selects which artifacts to write.
type ExportRequest struct {
	State  bool   `json:"state"`
	MapSvg string `json:"mapSvg,omitempty"`
}

// ExportResponse lists the written artifact paths.
type ExportResponse struct {
	StatePath string `json:"statePath,omitempty"`
	SvgPath   string `json:"svgPath,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	id := uuid.NewString()
	var resp ExportResponse
	if req.State {
		data, err := json.MarshalIndent(s.mgr.GetState(), "", "  ")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "export_failed", err)
			return
		}
		path := filepath.Join(s.exportDir, fmt.Sprintf("lattice-state-%s.json", id))
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, "export_failed", err)
			return
		}
		resp.StatePath = path
	}
	if req.MapSvg != "" {
		path := filepath.Join(s.exportDir, fmt.Sprintf("lattice-map-%s.svg", id))
		if err := os.WriteFile(path, []byte(req.MapSvg), 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, "export_failed", err)
			return
		}
		resp.SvgPath = path
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCalibStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.calib.Status())
}

// GenerateCalibrationRequest names the known origin and the pack
// destination.
type GenerateCalibrationRequest struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	OutputPath string  `json:"outputPath,omitempty"`
}

func (s *Server) handleCalibGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateCalibrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := s.calib.Generate(req.Lat, req.Lon, req.OutputPath); err != nil {
		writeError(w, http.StatusConflict, "calibration_running", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.calib.Status())
}

// LoadCalibrationRequest points at a pack on disk.
type LoadCalibrationRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleCalibLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadCalibrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := s.calib.Load(req.Path); err != nil {
		writeError(w, http.StatusConflict, "calibration_running", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.calib.Status())
}

func (s *Server) handleCalibClear(w http.ResponseWriter, r *http.Request) {
	if err := s.calib.Clear(); err != nil {
		writeError(w, http.StatusConflict, "calibration_running", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.calib.Status())
}

// SetConfigParts replaces the endpoints and probe paths from YAML
// fragments, validates the result and persists it. The updated set
// takes effect on the next client start.
func (m *StateManager) SetConfigParts(endpointsText, probePathsText string) (config.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg
	if strings.TrimSpace(endpointsText) != "" {
		var endpoints []config.Endpoint
		if err := yaml.Unmarshal([]byte(endpointsText), &endpoints); err != nil {
			return config.Config{}, fmt.Errorf("endpoints parse: %w", err)
		}
		next.Endpoints = endpoints
	}
	if strings.TrimSpace(probePathsText) != "" {
		var paths []config.ProbePath
		if err := yaml.Unmarshal([]byte(probePathsText), &paths); err != nil {
			return config.Config{}, fmt.Errorf("probePaths parse: %w", err)
		}
		next.ProbePaths = paths
	}

	config.ApplyDefaults(&next)
	if err := config.Validate(next); err != nil {
		return config.Config{}, err
	}
	if m.cfgPath != "" {
		if err := config.Save(m.cfgPath, next); err != nil {
			return config.Config{}, err
		}
	}
	m.cfg = next
	return next, nil
}
