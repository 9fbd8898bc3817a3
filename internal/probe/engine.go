package probe

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/metrics"
	"github.com/svdrecbd/LATTICE/internal/pathmon"
	"github.com/svdrecbd/LATTICE/internal/record"
	"github.com/svdrecbd/LATTICE/internal/wire"
)

// Socket refresh policy: reconnect after this many consecutive empty
// bursts (route may have moved under us), and unconditionally every
// reconnectIntervalBursts so a long-lived flow cannot pin a stale path.
const (
	reconnectEmptyBursts    = 2
	reconnectIntervalBursts = 6
)

// Sink is where finished burst records go.
type Sink interface {
	Append(record.BurstRecord) error
}

// Engine fans bursts out to every (path, endpoint) target on a fixed
// interval.
type Engine struct {
	cfg    config.Config
	secret []byte
	sink   Sink
	mon    *pathmon.Monitor
	log    *slog.Logger
}

// NewEngine wires a probe engine. The monitor may be shared with other
// components; the engine does not close it.
func NewEngine(cfg config.Config, secret []byte, sink Sink, mon *pathmon.Monitor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, secret: secret, sink: sink, mon: mon, log: logger}
}

// Run probes until ctx is cancelled. One worker per target; a failing
// target never affects the others.
func (e *Engine) Run(ctx context.Context) error {
	targets, err := ExpandTargets(e.cfg)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			e.worker(ctx, t)
		}(target)
	}
	wg.Wait()
	return ctx.Err()
}

type burstParams struct {
	count   int
	spacing time.Duration
	timeout time.Duration
	spin    time.Duration
}

func (e *Engine) params() burstParams {
	return burstParams{
		count:   e.cfg.SamplesPerEndpoint,
		spacing: time.Duration(e.cfg.SpacingMs) * time.Millisecond,
		timeout: time.Duration(e.cfg.TimeoutMs) * time.Millisecond,
		spin:    time.Duration(e.cfg.PacingSpinUs) * time.Microsecond,
	}
}

func (e *Engine) worker(ctx context.Context, target Target) {
	interval := time.Duration(e.cfg.IntervalSeconds) * time.Second
	params := e.params()

	var prober *Prober
	defer func() {
		if prober != nil {
			_ = prober.Close()
		}
	}()

	var (
		seq              uint32
		lastTunnelActive *bool
		burstsSinceDial  int
		emptyStreak      int
	)

	nextTick := time.Now().Add(interval)
	for {
		if ctx.Err() != nil {
			return
		}

		tunnel := e.mon.Snapshot()
		if lastTunnelActive != nil && *lastTunnelActive != tunnel.Active {
			e.closeProber(&prober)
			burstsSinceDial = 0
			emptyStreak = 0
		}
		if burstsSinceDial >= reconnectIntervalBursts {
			e.closeProber(&prober)
			burstsSinceDial = 0
		}

		if prober == nil {
			p, err := NewProber(target.Endpoint.Host, target.Endpoint.Port, target.BindIP)
			if err != nil {
				e.log.Error("probe init failed", "endpoint", target.Key(), "err", err)
				e.emit(target, nil, tunnel, "", "bind_failed: "+err.Error())
				active := tunnel.Active
				lastTunnelActive = &active
				if !e.waitTick(ctx, &nextTick, interval) {
					return
				}
				continue
			}
			prober = p
		}

		samples := e.burst(ctx, prober, target, params, &seq)
		if len(samples) == 0 {
			emptyStreak++
		} else {
			emptyStreak = 0
		}

		localAddr := ""
		if prober != nil {
			localAddr = prober.LocalAddr().String()
		}
		e.emit(target, samples, tunnel, localAddr)

		if emptyStreak >= reconnectEmptyBursts {
			e.closeProber(&prober)
			burstsSinceDial = 0
		} else {
			burstsSinceDial++
		}
		active := tunnel.Active
		lastTunnelActive = &active

		if !e.waitTick(ctx, &nextTick, interval) {
			return
		}
	}
}

// burst sends count paced probes and collects matching echoes. Samples
// come back in send order.
func (e *Engine) burst(ctx context.Context, p *Prober, target Target, params burstParams, seq *uint32) []float64 {
	samples := make([]float64, 0, params.count)
	nextSend := time.Now()

	for i := 0; i < params.count; i++ {
		if ctx.Err() != nil {
			return samples
		}
		if i > 0 {
			nextSend = nextSend.Add(params.spacing)
			sleepUntil(nextSend, params.spin)
		}

		pkt := wire.Encode(*seq, monoNowNs(), randomNonce(), e.secret)
		*seq++

		rtt, ok, err := p.SendAndReceive(pkt[:], params.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return samples
			}
			e.log.Warn("probe send/recv failed", "endpoint", target.Key(), "err", err)
			continue
		}
		if ok {
			samples = append(samples, rtt)
		}
	}
	return samples
}

// emit summarizes a burst and appends the record; it never fails the
// worker.
func (e *Engine) emit(target Target, samples []float64, tunnel pathmon.TunnelSnapshot, localAddr string, extraNotes ...string) {
	summary := metrics.Summarize(samples)

	notes := append([]string{}, extraNotes...)
	notes = append(notes, PhysicsNotes(
		target.Endpoint.RegionHint,
		e.cfg.ClaimedEgressRegion,
		summary.MinMs,
		e.cfg.PhysicsMismatchThresholdMs,
	)...)

	destLoopback := isLoopbackHost(target.Endpoint.Host)
	ifaceName := ""
	ifaceClass := pathmon.ClassOther
	if localAddr != "" {
		if host, _, err := net.SplitHostPort(localAddr); err == nil {
			if ip := net.ParseIP(host); ip != nil {
				if ip.IsLoopback() {
					destLoopback = true
				}
				if name, ok := pathmon.IfaceNameForIP(ip); ok {
					ifaceName = name
				}
			}
		}
	}
	if destLoopback {
		ifaceClass = pathmon.ClassLoopback
	} else if ifaceName != "" {
		ifaceClass = pathmon.Classify(ifaceName)
	}

	tunnels := make([]record.TunnelInterface, 0, len(tunnel.Interfaces))
	for _, ifc := range tunnel.Interfaces {
		tunnels = append(tunnels, record.TunnelInterface{
			Name:               ifc.Name,
			Flags:              ifc.Flags,
			FlagsDecoded:       pathmon.DecodeFlags(ifc.Flags),
			HasNonLoopbackAddr: ifc.HasNonLoopbackAddr,
		})
	}

	bindIP := ""
	if target.BindIP != nil {
		bindIP = target.BindIP.String()
	}

	rec := record.BurstRecord{
		TsUnixMs:            record.NowUnixMs(),
		EndpointID:          target.Key(),
		Host:                target.Endpoint.Host,
		Port:                target.Endpoint.Port,
		ProbePath:           target.PathID,
		ProbeBindIface:      target.BindIface,
		ProbeBindIP:         bindIP,
		LocalAddr:           localAddr,
		RegionHint:          target.Endpoint.RegionHint,
		SamplesMs:           samples,
		MinMs:               summary.MinMs,
		P05Ms:               summary.P05Ms,
		MedianMs:            summary.MedianMs,
		Iface:               ifaceClass,
		IfaceName:           ifaceName,
		IfaceIsTunnel:       pathmon.IsTunnelName(ifaceName),
		UtunPresent:         tunnel.Present,
		UtunActive:          tunnel.Active,
		UtunInterfaces:      tunnels,
		DestIsLoopback:      destLoopback,
		ClaimedEgressRegion: e.cfg.ClaimedEgressRegion,
		Notes:               notes,
	}
	if rec.SamplesMs == nil {
		rec.SamplesMs = []float64{}
	}

	if err := e.sink.Append(rec); err != nil {
		e.log.Error("record append failed", "endpoint", target.Key(), "err", err)
	}
}

// waitTick sleeps until the next interval tick, rebasing instead of
// drifting when a burst overran. Returns false on cancellation.
func (e *Engine) waitTick(ctx context.Context, nextTick *time.Time, interval time.Duration) bool {
	now := time.Now()
	if now.Before(*nextTick) {
		timer := time.NewTimer(nextTick.Sub(now))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
		*nextTick = nextTick.Add(interval)
	} else {
		*nextTick = now.Add(interval)
	}
	return ctx.Err() == nil
}

func (e *Engine) closeProber(p **Prober) {
	if *p != nil {
		_ = (*p).Close()
		*p = nil
	}
}

func randomNonce() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is unrecoverable; a zero nonce still
		// carries the HMAC so the probe stays authenticated.
		return 0
	}
	return binary.BigEndian.Uint64(buf[:])
}
