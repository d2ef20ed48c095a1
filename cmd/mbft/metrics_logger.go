package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mbft/internal/metrics"
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
					"packets_tx", snap.PacketsTx,
					"bytes_tx", snap.BytesTx,
					"retransmits", snap.Retransmits,
					"faults", snap.Faults,
					"rx_lines", snap.RxLines,
					"malformed", snap.Malformed,
					"blocks", snap.Blocks,
					"reconnects", snap.Reconnects,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
