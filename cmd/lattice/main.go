package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/dash"
	"github.com/svdrecbd/LATTICE/internal/pathmon"
	"github.com/svdrecbd/LATTICE/internal/probe"
	"github.com/svdrecbd/LATTICE/internal/record"
	"github.com/svdrecbd/LATTICE/internal/responder"
	"github.com/svdrecbd/LATTICE/internal/stunutil"
	"github.com/svdrecbd/LATTICE/internal/wire"
)

const usage = `lattice - consent-based latency measurement and origin inference

Usage:
  lattice client --config <path>
  lattice server [--listen :9000]
  lattice analyze --config <path> --session <log> [flags]
  lattice dash --config <path> [--listen 127.0.0.1:8787]

The shared secret is read from LATTICE_SECRET_HEX (hex, preferred) or
LATTICE_SECRET (raw bytes); minimum 16 bytes.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "client":
		runClient(os.Args[2:])
	case "server":
		runServer(os.Args[2:])
	case "analyze":
		runAnalyze(os.Args[2:])
	case "dash":
		runDash(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func fatal(err error) {
	if err == nil {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "lattice: %v\n", err)
	os.Exit(1)
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// secret prefers the config's secretHex and falls back to the
// environment.
func secret(cfg config.Config) ([]byte, error) {
	if cfg.SecretHex != "" {
		return wire.ParseSecret(cfg.SecretHex)
	}
	return wire.SecretFromEnv()
}

func runClient(args []string) {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	sec, err := secret(cfg)
	if err != nil {
		fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("lattice client starting",
		"endpoints", len(cfg.Endpoints),
		"intervalSeconds", cfg.IntervalSeconds,
		"output", cfg.OutputPath)

	sink, err := record.NewSink(cfg.OutputPath)
	if err != nil {
		fatal(err)
	}
	defer sink.Close()

	mon := pathmon.NewMonitor(5 * time.Second)
	defer mon.Close()

	eng := probe.NewEngine(cfg, sec, sink, mon, logger)
	if err := eng.Run(signalContext()); err != nil && err != context.Canceled {
		fatal(err)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	listen := fs.String("listen", responder.DefaultListenAddr, "UDP listen address")
	_ = fs.Parse(args)

	sec, err := wire.SecretFromEnv()
	if err != nil {
		fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	resp, err := responder.Start(*listen, sec, logger)
	if err != nil {
		fatal(err)
	}
	defer resp.Close()
	logger.Info("lattice echo responder listening", "addr", resp.LocalAddr())

	<-signalContext().Done()
	c := resp.Counters()
	logger.Info("responder stopping",
		"echoed", c.Echoed,
		"tagMismatch", c.TagMismatch,
		"rateLimited", c.RateLimited)
}

func runDash(args []string) {
	fs := flag.NewFlagSet("dash", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "127.0.0.1:8787", "HTTP listen address")
	exportDir := fs.String("export-dir", ".", "directory for exported artifacts")
	windowMinutes := fs.Int("window-minutes", config.DefaultWindowMinutes, "live window length")
	baselineMinutes := fs.Int("auto-baseline-minutes", config.DefaultAutoBaselineMinutes, "auto-baseline capture length (0 disables)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	// The state manager reads 0 as "use the default"; a negative value
	// is what disables capture there.
	if *baselineMinutes == 0 {
		*baselineMinutes = -1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	mgr := dash.NewStateManager(cfg, *configPath, dash.StateManagerOptions{
		WindowMinutes:       *windowMinutes,
		AutoBaselineMinutes: *baselineMinutes,
	}, logger)

	// Egress address discovery runs once at startup and then on a slow
	// tick; address flips show up in state next refresh.
	go func() {
		ctx := context.Background()
		for {
			if addr, err := stunutil.PublicAddr(ctx, nil, 3*time.Second); err == nil {
				mgr.SetPublicAddr(addr)
			}
			time.Sleep(60 * time.Second)
		}
	}()

	self, err := os.Executable()
	if err != nil {
		self = "lattice"
	}
	client := dash.NewProcRunner("client", self, "client", "--config", *configPath)
	echo := dash.NewProcRunner("server", self, "server")
	calib := dash.NewCalibWorker(mgr)

	srv := dash.NewServer(mgr, calib, client, echo, *exportDir)
	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("dashboard API listening", "addr", *listen)
	fatal(httpSrv.ListenAndServe())
}
