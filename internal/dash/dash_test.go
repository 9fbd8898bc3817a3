package dash

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/svdrecbd/LATTICE/internal/analyze"
	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/record"
)

func f64(v float64) *float64 { return &v }

func testConfig(t *testing.T) (config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		SecretHex: "00112233445566778899aabbccddeeff",
		Endpoints: []config.Endpoint{
			{ID: "a", Host: "a.example.net", Port: 9000, RegionHint: "us-east", Lat: f64(40.7), Lon: f64(-74.0)},
			{ID: "b", Host: "b.example.net", Port: 9000, Lat: f64(51.5), Lon: f64(-0.1)},
			{ID: "c", Host: "c.example.net", Port: 9000, Lat: f64(35.7), Lon: f64(139.7)},
		},
		OutputPath: filepath.Join(dir, "lattice.jsonl"),
	}
	config.ApplyDefaults(&cfg)
	return cfg, filepath.Join(dir, "lattice.yaml")
}

func appendRecord(t *testing.T, path string, rec record.BurstRecord) {
	t.Helper()
	sink, err := record.NewSink(path)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	if err := sink.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func burst(id string, tsMs int64, rtts ...float64) record.BurstRecord {
	return record.BurstRecord{
		TsUnixMs:   tsMs,
		EndpointID: id,
		Host:       id + ".example.net",
		Port:       9000,
		SamplesMs:  rtts,
		Iface:      record.IfaceOther,
		Notes:      []string{},
	}
}

func TestStateManager_TailsLog(t *testing.T) {
	t.Parallel()

	cfg, cfgPath := testConfig(t)
	mgr := NewStateManager(cfg, cfgPath, StateManagerOptions{}, nil)

	now := time.Now().UnixMilli()
	appendRecord(t, cfg.OutputPath, burst("a", now, 10, 12, 14))

	st := mgr.GetState()
	if st.Records != 1 {
		t.Fatalf("records=%d", st.Records)
	}
	if len(st.EndpointStats) != 1 || st.EndpointStats[0].ID != "a" {
		t.Fatalf("stats=%+v", st.EndpointStats)
	}
	if len(st.Health) != 1 || st.Health[0].SampleCount != 3 {
		t.Fatalf("health=%+v", st.Health)
	}

	// Incremental tail: a second record shows up on the next refresh.
	appendRecord(t, cfg.OutputPath, burst("b", now+1, 30))
	st = mgr.GetState()
	if st.Records != 2 {
		t.Fatalf("records=%d", st.Records)
	}
}

func TestStateManager_LogResetReseeds(t *testing.T) {
	t.Parallel()

	cfg, cfgPath := testConfig(t)
	mgr := NewStateManager(cfg, cfgPath, StateManagerOptions{}, nil)

	now := time.Now().UnixMilli()
	appendRecord(t, cfg.OutputPath, burst("a", now, 10))
	appendRecord(t, cfg.OutputPath, burst("a", now, 11))
	if st := mgr.GetState(); st.Records != 2 {
		t.Fatalf("records=%d", st.Records)
	}

	// Truncate and write fresh content: the window re-seeds.
	if err := os.Truncate(cfg.OutputPath, 0); err != nil {
		t.Fatal(err)
	}
	appendRecord(t, cfg.OutputPath, burst("b", now+10, 20))

	st := mgr.GetState()
	if st.Log.ResetReason == "" {
		t.Fatalf("log status=%+v", st.Log)
	}
	if st.Records != 1 || st.EndpointStats[0].ID != "b" {
		t.Fatalf("state after reset: records=%d stats=%+v", st.Records, st.EndpointStats)
	}
}

func TestStateManager_SessionMarkFiltersWindow(t *testing.T) {
	t.Parallel()

	cfg, cfgPath := testConfig(t)
	mgr := NewStateManager(cfg, cfgPath, StateManagerOptions{}, nil)

	old := time.Now().UnixMilli() - 60_000
	appendRecord(t, cfg.OutputPath, burst("a", old, 10))
	mgr.GetState()

	mark := mgr.MarkSession()
	appendRecord(t, cfg.OutputPath, burst("a", mark+1, 20))

	st := mgr.GetState()
	if st.Records != 1 {
		t.Fatalf("records=%d", st.Records)
	}
	if st.SessionMarkMs != mark {
		t.Fatalf("mark=%d", st.SessionMarkMs)
	}
}

func TestStateManager_ClearStateTruncates(t *testing.T) {
	t.Parallel()

	cfg, cfgPath := testConfig(t)
	mgr := NewStateManager(cfg, cfgPath, StateManagerOptions{}, nil)
	appendRecord(t, cfg.OutputPath, burst("a", time.Now().UnixMilli(), 10))
	mgr.GetState()

	if err := mgr.ClearState(true); err != nil {
		t.Fatalf("ClearState: %v", err)
	}
	info, err := os.Stat(cfg.OutputPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("size=%d", info.Size())
	}
	if st := mgr.GetState(); st.Records != 0 {
		t.Fatalf("records=%d", st.Records)
	}
}

func TestStateManager_AutoBaselineLocks(t *testing.T) {
	t.Parallel()

	cfg, cfgPath := testConfig(t)
	mgr := NewStateManager(cfg, cfgPath, StateManagerOptions{WindowMinutes: 1, AutoBaselineMinutes: 1}, nil)

	// The first record seeds the capture window two minutes in the
	// past, so the baseline is already complete and the live window
	// has moved past it.
	start := time.Now().UnixMilli() - 2*msPerMin
	appendRecord(t, cfg.OutputPath, burst("a", start, 20))
	appendRecord(t, cfg.OutputPath, burst("a", time.Now().UnixMilli(), 80))

	st := mgr.GetState()
	if !st.AutoBaseline.Enabled || !st.AutoBaseline.Complete {
		t.Fatalf("autoBaseline=%+v", st.AutoBaseline)
	}
	if st.AutoBaseline.StartMs != start {
		t.Fatalf("startMs=%d want %d", st.AutoBaseline.StartMs, start)
	}
	if len(st.Deltas) != 1 || st.Deltas[0].DeltaP05Ms != 60 {
		t.Fatalf("deltas=%+v", st.Deltas)
	}
}

func TestCalibWorker_GenerateAndStatus(t *testing.T) {
	t.Parallel()

	cfg, cfgPath := testConfig(t)
	mgr := NewStateManager(cfg, cfgPath, StateManagerOptions{}, nil)
	now := time.Now().UnixMilli()
	appendRecord(t, cfg.OutputPath, burst("a", now, 50, 50, 50))

	w := NewCalibWorker(mgr)
	out := filepath.Join(t.TempDir(), "cal.json")
	if err := w.Generate(40.7, -74.0, out); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := w.Status(); !st.Running {
			if st.Error != "" {
				t.Fatalf("status=%+v", st)
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if mgr.Calibration() == nil {
		t.Fatal("calibration not installed")
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("pack not written: %v", err)
	}

	cal, err := analyze.LoadCalibration(out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cal.Entries) != 1 || cal.Entries[0].ID != "a" {
		t.Fatalf("entries=%+v", cal.Entries)
	}
}

func TestCalibWorker_RejectsConcurrentJobs(t *testing.T) {
	t.Parallel()

	w := &CalibWorker{}
	w.status.Running = true
	if err := w.Clear(); err != ErrCalibrationRunning {
		t.Fatalf("err=%v", err)
	}
}

func newTestServer(t *testing.T) (*Server, *StateManager) {
	t.Helper()
	cfg, cfgPath := testConfig(t)
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	mgr := NewStateManager(cfg, cfgPath, StateManagerOptions{}, nil)
	calib := NewCalibWorker(mgr)
	client := NewProcRunner("client", "/bin/false")
	echo := NewProcRunner("server", "/bin/false")
	return NewServer(mgr, calib, client, echo, t.TempDir()), mgr
}

func TestAPI_StateAndConfig(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.NowMs == 0 {
		t.Fatalf("state=%+v", st)
	}

	resp2, err := http.Get(ts.URL + "/v1/config")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	defer resp2.Body.Close()
	var cfg config.Config
	if err := json.NewDecoder(resp2.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.Endpoints) != 3 {
		t.Fatalf("endpoints=%+v", cfg.Endpoints)
	}
}

func TestAPI_SetConfigParts(t *testing.T) {
	t.Parallel()

	srv, mgr := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"endpointsText": "- id: solo\n  host: solo.example.net\n  port: 9001\n"}`
	resp, err := http.Post(ts.URL+"/v1/config/parts", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got := mgr.Config().Endpoints; len(got) != 1 || got[0].ID != "solo" {
		t.Fatalf("endpoints=%+v", got)
	}
}

func TestAPI_SetConfigParts_InvalidRejected(t *testing.T) {
	t.Parallel()

	srv, mgr := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"endpointsText": "- id: ''\n  host: ''\n"}`
	resp, err := http.Post(ts.URL+"/v1/config/parts", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got := mgr.Config().Endpoints; len(got) != 3 {
		t.Fatalf("config mutated on invalid input: %+v", got)
	}
}

func TestAPI_CalibrationStatusAndClear(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/calibration/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var st CalibStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Running {
		t.Fatalf("status=%+v", st)
	}

	resp2, err := http.Post(ts.URL+"/v1/calibration/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d", resp2.StatusCode)
	}
}

func TestAPI_Export(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"state": true, "mapSvg": "<svg></svg>"}`
	resp, err := http.Post(ts.URL+"/v1/export", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out ExportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.StatePath == "" || out.SvgPath == "" {
		t.Fatalf("resp=%+v", out)
	}
	if _, err := os.Stat(out.StatePath); err != nil {
		t.Fatalf("state artifact: %v", err)
	}
	if data, err := os.ReadFile(out.SvgPath); err != nil || string(data) != "<svg></svg>" {
		t.Fatalf("svg artifact: %v %q", err, data)
	}
}
