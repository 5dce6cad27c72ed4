package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/underwatersim/vaosim/internal/config"
	"github.com/underwatersim/vaosim/internal/metrics"
	"github.com/underwatersim/vaosim/internal/propagation"
	"github.com/underwatersim/vaosim/internal/sim"
)

func main() {
	cfg, showVersion, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("vaosim-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	l := setupLogger(cfg)

	scenario, err := config.LoadScenario(cfg.ScenarioPath)
	if err != nil {
		l.Error("scenario_load_error", "error", err)
		os.Exit(1)
	}

	s := sim.New(propagation.FreeSpaceModel{}, scenario.SimOptions()...)
	if err := scenario.AddNodesTo(s); err != nil {
		l.Error("scenario_add_node_error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.LogMetricsEvery, l, &wg)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- s.Run(ctx) }()

	// Give the daemons a moment to bind before mDNS/readiness declare success;
	// the simulation has no single listener to block on the way the teacher's
	// single-port TCP server does (each node binds its own sockets).
	readyAt := time.Now().Add(200 * time.Millisecond)
	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil && time.Now().After(readyAt) })

	if cfg.MDNSEnable {
		go func() {
			time.Sleep(250 * time.Millisecond)
			for _, n := range scenario.Nodes {
				if n.Port == 0 {
					continue
				}
				cleanup, err := startMDNS(ctx, cfg, n.Port)
				if err != nil {
					l.Warn("mdns_start_failed", "node", n.ID, "error", err)
					continue
				}
				l.Info("mdns_started", "service", mdnsServiceType, "node", n.ID, "port", n.Port)
				go func() { <-ctx.Done(); cleanup() }()
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sg := <-sigCh:
		l.Info("shutdown_signal", "signal", sg.String())
	case err := <-runErrCh:
		if err != nil {
			l.Error("simulation_run_error", "error", err)
		}
	}
	cancel()
	if err := s.Close(); err != nil {
		l.Error("simulation_close_error", "error", err)
	}
	wg.Wait()
}
