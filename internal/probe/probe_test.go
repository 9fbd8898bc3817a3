package probe

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/pathmon"
	"github.com/svdrecbd/LATTICE/internal/record"
	"github.com/svdrecbd/LATTICE/internal/responder"
)

var testSecret = []byte("sixteen-byte-key")

type memSink struct {
	mu   sync.Mutex
	recs []record.BurstRecord
}

func (s *memSink) Append(rec record.BurstRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSink) records() []record.BurstRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record.BurstRecord(nil), s.recs...)
}

func startResponder(t *testing.T) (host string, port int) {
	t.Helper()
	r, err := responder.Start("127.0.0.1:0", testSecret, nil)
	if err != nil {
		t.Fatalf("responder: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	h, p, err := net.SplitHostPort(r.LocalAddr())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, _ = strconv.Atoi(p)
	return h, port
}

func TestExpandTargets(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Endpoints: []config.Endpoint{
			{ID: "a", Host: "h1", Port: 9000},
			{ID: "b", Host: "h2", Port: 9000},
		},
		ProbePaths: []config.ProbePath{
			{ID: "default"},
			{ID: "vpn"},
		},
	}
	targets, err := ExpandTargets(cfg)
	if err != nil {
		t.Fatalf("ExpandTargets: %v", err)
	}
	if len(targets) != 4 {
		t.Fatalf("targets=%d", len(targets))
	}
	keys := map[string]bool{}
	for _, tgt := range targets {
		keys[tgt.Key()] = true
	}
	for _, want := range []string{"a", "b", "a@vpn", "b@vpn"} {
		if !keys[want] {
			t.Fatalf("missing key %s in %v", want, keys)
		}
	}
}

func TestExpandTargets_NoPathsGetsDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Endpoints: []config.Endpoint{{ID: "a", Host: "h", Port: 9000}}}
	targets, err := ExpandTargets(cfg)
	if err != nil {
		t.Fatalf("ExpandTargets: %v", err)
	}
	if len(targets) != 1 || targets[0].Key() != "a" {
		t.Fatalf("targets=%+v", targets)
	}
}

func TestExpandTargets_BadBindIP(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Endpoints:  []config.Endpoint{{ID: "a", Host: "h", Port: 9000}},
		ProbePaths: []config.ProbePath{{ID: "p", BindIP: "not-an-ip"}},
	}
	if _, err := ExpandTargets(cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestBurst_HappyPath(t *testing.T) {
	t.Parallel()

	host, port := startResponder(t)
	cfg := config.Config{
		Endpoints:          []config.Endpoint{{ID: "local", Host: host, Port: port}},
		SamplesPerEndpoint: 5,
		SpacingMs:          10,
		TimeoutMs:          200,
		IntervalSeconds:    60,
	}
	config.ApplyDefaults(&cfg)

	mon := pathmon.NewMonitor(time.Second)
	defer mon.Close()
	sink := &memSink{}
	eng := NewEngine(cfg, testSecret, sink, mon, slog.Default())

	p, err := NewProber(host, port, nil)
	if err != nil {
		t.Fatalf("NewProber: %v", err)
	}
	defer p.Close()

	var seq uint32
	samples := eng.burst(context.Background(), p, Target{Endpoint: cfg.Endpoints[0], PathID: "default"}, eng.params(), &seq)
	if len(samples) != 5 {
		t.Fatalf("samples=%v", samples)
	}
	for _, s := range samples {
		if s < 0 || s > 200 {
			t.Fatalf("rtt out of range: %v", s)
		}
	}
	if seq != 5 {
		t.Fatalf("seq=%d", seq)
	}
}

func TestBurst_TimeoutYieldsEmpty(t *testing.T) {
	t.Parallel()

	// A socket nobody answers on.
	dead, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer dead.Close()
	host, portStr, _ := net.SplitHostPort(dead.LocalAddr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Config{
		Endpoints:          []config.Endpoint{{ID: "dead", Host: host, Port: port}},
		SamplesPerEndpoint: 2,
		TimeoutMs:          50,
		IntervalSeconds:    60,
	}
	config.ApplyDefaults(&cfg)

	mon := pathmon.NewMonitor(time.Second)
	defer mon.Close()
	eng := NewEngine(cfg, testSecret, &memSink{}, mon, slog.Default())

	p, err := NewProber(host, port, nil)
	if err != nil {
		t.Fatalf("NewProber: %v", err)
	}
	defer p.Close()

	var seq uint32
	samples := eng.burst(context.Background(), p, Target{Endpoint: cfg.Endpoints[0], PathID: "default"}, eng.params(), &seq)
	if len(samples) != 0 {
		t.Fatalf("samples=%v", samples)
	}
}

func TestEngine_EmitsRecordPerBurst(t *testing.T) {
	t.Parallel()

	host, port := startResponder(t)
	cfg := config.Config{
		Endpoints:          []config.Endpoint{{ID: "local", Host: host, Port: port, RegionHint: "loopback-lab"}},
		SamplesPerEndpoint: 3,
		SpacingMs:          1,
		TimeoutMs:          200,
		IntervalSeconds:    3600,
	}
	config.ApplyDefaults(&cfg)

	mon := pathmon.NewMonitor(time.Second)
	defer mon.Close()
	sink := &memSink{}
	eng := NewEngine(cfg, testSecret, sink, mon, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.records()) >= 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	recs := sink.records()
	if len(recs) == 0 {
		t.Fatal("no records emitted")
	}
	rec := recs[0]
	if rec.EndpointID != "local" || rec.Host != host {
		t.Fatalf("rec=%+v", rec)
	}
	if len(rec.SamplesMs) != 3 {
		t.Fatalf("samples=%v", rec.SamplesMs)
	}
	if rec.MinMs == nil || rec.P05Ms == nil || rec.MedianMs == nil {
		t.Fatal("summary undefined")
	}
	if *rec.MinMs > *rec.P05Ms || *rec.P05Ms > *rec.MedianMs {
		t.Fatalf("ordering: %v %v %v", *rec.MinMs, *rec.P05Ms, *rec.MedianMs)
	}
	if !rec.DestIsLoopback || rec.Iface != pathmon.ClassLoopback {
		t.Fatalf("loopback not detected: %+v", rec)
	}
}

func TestPhysicsNotes(t *testing.T) {
	t.Parallel()

	min := 80.0
	notes := PhysicsNotes("us-east", "US-EAST-1", &min, 30)
	if len(notes) != 1 {
		t.Fatalf("notes=%v", notes)
	}

	if notes := PhysicsNotes("eu-west", "us-east", &min, 30); len(notes) != 0 {
		t.Fatalf("region mismatch should not flag: %v", notes)
	}
	low := 10.0
	if notes := PhysicsNotes("us-east", "us-east", &low, 30); len(notes) != 0 {
		t.Fatalf("below threshold should not flag: %v", notes)
	}
	if notes := PhysicsNotes("us-east", "us-east", nil, 30); len(notes) != 0 {
		t.Fatalf("no samples should not flag: %v", notes)
	}
}

func TestSleepUntil_ReachesTarget(t *testing.T) {
	t.Parallel()

	target := time.Now().Add(20 * time.Millisecond)
	sleepUntil(target, 200*time.Microsecond)
	if time.Now().Before(target) {
		t.Fatal("woke early")
	}
}
