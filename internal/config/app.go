package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ErrConfig marks a configuration error (spec §7).
var ErrConfig = errors.New("config")

// AppConfig is the daemon process's own configuration: scenario file plus
// the ambient logging/metrics/mDNS surface the teacher binary carries
// regardless of domain (spec expansion: ambient stack).
type AppConfig struct {
	ScenarioPath    string
	LogFormat       string
	LogLevel        string
	LogFile         string
	MetricsAddr     string
	LogMetricsEvery time.Duration
	MDNSEnable      bool
	MDNSName        string
}

// ParseFlags parses args (pflag-style POSIX flags) and applies VAOSIM_*
// environment overrides to anything not explicitly set on the command line.
// Returns (cfg, showVersion, err).
func ParseFlags(args []string) (*AppConfig, bool, error) {
	fs := pflag.NewFlagSet("vaosim-server", pflag.ContinueOnError)

	scenario := fs.StringP("scenario", "s", "", "Path to the scenario YAML file")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	logFile := fs.String("log-file", "", "Log file path (rotated); empty logs to stderr only")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := fs.Bool("mdns-enable", false, "Enable mDNS advertisement of the control-plane port")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default vaosim-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	cfg := &AppConfig{
		ScenarioPath:    *scenario,
		LogFormat:       *logFormat,
		LogLevel:        *logLevel,
		LogFile:         *logFile,
		MetricsAddr:     *metricsAddr,
		LogMetricsEvery: *logMetricsEvery,
		MDNSEnable:      *mdnsEnable,
		MDNSName:        *mdnsName,
	}

	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = true })
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, *showVersion, err
	}
	if *showVersion {
		return cfg, true, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// Validate performs basic semantic validation; it does not touch the
// filesystem or network.
func (c *AppConfig) Validate() error {
	if c.ScenarioPath == "" {
		return fmt.Errorf("%w: --scenario is required", ErrConfig)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: invalid log-format %q", ErrConfig, c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid log-level %q", ErrConfig, c.LogLevel)
	}
	if c.LogMetricsEvery < 0 {
		return fmt.Errorf("%w: log-metrics-interval must be >= 0", ErrConfig)
	}
	return nil
}

// applyEnvOverrides maps VAOSIM_* environment variables onto cfg, skipping
// anything the caller already set explicitly via a flag.
func applyEnvOverrides(c *AppConfig, set map[string]bool) error {
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	var firstErr error

	if !set["scenario"] {
		if v, ok := get("VAOSIM_SCENARIO"); ok && v != "" {
			c.ScenarioPath = v
		}
	}
	if !set["log-format"] {
		if v, ok := get("VAOSIM_LOG_FORMAT"); ok && v != "" {
			c.LogFormat = v
		}
	}
	if !set["log-level"] {
		if v, ok := get("VAOSIM_LOG_LEVEL"); ok && v != "" {
			c.LogLevel = v
		}
	}
	if !set["log-file"] {
		if v, ok := get("VAOSIM_LOG_FILE"); ok {
			c.LogFile = v
		}
	}
	if !set["metrics-addr"] {
		if v, ok := get("VAOSIM_METRICS"); ok {
			c.MetricsAddr = v
		}
	}
	if !set["log-metrics-interval"] {
		if v, ok := get("VAOSIM_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.LogMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid VAOSIM_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if !set["mdns-enable"] {
		if v, ok := get("VAOSIM_MDNS_ENABLE"); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.MDNSEnable = b
			}
		}
	}
	if !set["mdns-name"] {
		if v, ok := get("VAOSIM_MDNS_NAME"); ok && v != "" {
			c.MDNSName = v
		}
	}
	return firstErr
}
