package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/underwatersim/vaosim/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"adc_frames", snap.FramesStreamed,
					"transmits", snap.Transmits,
					"bad_commands", snap.BadCommands,
					"bad_packets", snap.BadPackets,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
