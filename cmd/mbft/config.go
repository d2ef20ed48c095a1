package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	source          string
	dest            string
	device          string
	baud            int
	blockSize       int
	timeout         time.Duration
	compression     bool
	dummy           bool
	simerr          float64
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	device := flag.String("device", "/dev/ttyUSB0", "Serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	blockSize := flag.Int("block-size", 512, "Requested payload bytes per packet (capped by the firmware)")
	timeout := flag.Duration("timeout", time.Second, "Response timeout per transmit attempt")
	compression := flag.Bool("compression", false, "Compress the payload when the firmware supports it")
	dummy := flag.Bool("dummy", false, "Dummy transfer: firmware discards payload (throughput test)")
	simerr := flag.Float64("simerr", 0, "Fraction of transmits to corrupt, 0..1 (resend-path test)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.device = *device
	cfg.baud = *baud
	cfg.blockSize = *blockSize
	cfg.timeout = *timeout
	cfg.compression = *compression
	cfg.dummy = *dummy
	cfg.simerr = *simerr
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if args := flag.Args(); len(args) == 2 {
		cfg.source = args[0]
		cfg.dest = args[1]
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open the device – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.source == "" || c.dest == "" {
		return errors.New("usage: mbft [flags] <source-path> <dest-path>")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.blockSize <= 0 {
		return fmt.Errorf("block-size must be > 0 (got %d)", c.blockSize)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.simerr < 0 || c.simerr > 1 {
		return fmt.Errorf("simerr must be within [0,1] (got %g)", c.simerr)
	}
	return nil
}

// applyEnvOverrides maps MBFT_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["device"]; !ok {
		if v, ok := get("MBFT_DEVICE"); ok && v != "" {
			c.device = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("MBFT_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MBFT_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["block-size"]; !ok {
		if v, ok := get("MBFT_BLOCK_SIZE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.blockSize = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MBFT_BLOCK_SIZE: %w", err)
			}
		}
	}
	if _, ok := set["timeout"]; !ok {
		if v, ok := get("MBFT_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.timeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MBFT_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["simerr"]; !ok {
		if v, ok := get("MBFT_SIMERR"); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.simerr = f
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid MBFT_SIMERR: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("MBFT_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("MBFT_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("MBFT_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("MBFT_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MBFT_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
