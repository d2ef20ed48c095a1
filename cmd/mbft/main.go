package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"mbft/internal/echo"
	"mbft/internal/filetransfer"
	"mbft/internal/metrics"
	"mbft/internal/transport"
)

// Exit codes of the transfer tool.
const (
	exitOK             = 0
	exitConnectionLost = 1
	exitPeerFatal      = 2
	exitProtocolError  = 3
	exitLocalIO        = 4
)

func main() { os.Exit(run()) }

func run() int {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("mbft %s (commit %s, built %s)\n", version, commit, date)
		return exitOK
	}
	if cfg == nil {
		return exitLocalIO
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	defer wg.Wait()

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	l.Info("build_info", "version", version, "commit", commit, "date", date)
	tr, err := transport.New(cfg.device, cfg.baud, cfg.blockSize, cfg.timeout, cfg.simerr)
	if err != nil {
		l.Error("serial_open_error", "device", cfg.device, "error", err)
		return exitLocalIO
	}
	defer tr.Shutdown()
	metrics.SetReadinessFunc(tr.Synchronized)

	echo.New(tr, l)
	ft := filetransfer.New(tr, cfg.timeout)

	if err := tr.Connect(); err != nil {
		l.Error("connect_error", "error", err)
		return exitCode(err)
	}
	if err := ft.Copy(cfg.source, cfg.dest, cfg.compression, cfg.dummy); err != nil {
		l.Error("transfer_error", "error", err)
		_ = tr.Disconnect()
		return exitCode(err)
	}
	if err := tr.Disconnect(); err != nil {
		l.Warn("disconnect_error", "error", err)
	}
	return exitOK
}

// exitCode classifies sentinel errors into the documented exit codes.
func exitCode(err error) int {
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, transport.ErrConnectionLost):
		return exitConnectionLost
	case errors.Is(err, transport.ErrFatal):
		return exitPeerFatal
	case errors.Is(err, transport.ErrPayloadOverflow),
		errors.Is(err, transport.ErrSynchronization),
		errors.Is(err, transport.ErrReadTimeout),
		errors.Is(err, filetransfer.ErrOpenFailed),
		errors.Is(err, filetransfer.ErrHandshake):
		return exitProtocolError
	case errors.As(err, &pathErr):
		return exitLocalIO
	default:
		return exitLocalIO
	}
}
