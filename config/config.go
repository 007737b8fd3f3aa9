// Package config loads drainkit settings from TOML files in standard
// locations.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

// FileName is the config file name searched in standard locations.
const FileName = "drainkit.toml"

// Duration is a time.Duration written as a string ("30s", "1m30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full drainkit configuration.
type Config struct {
	Shutdown  ShutdownConfig  `toml:"shutdown"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Bus       BusConfig       `toml:"bus"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// ShutdownConfig configures the coordinator.
type ShutdownConfig struct {
	DefaultTimeout     Duration `toml:"default_timeout"`
	FinalizeTimeout    Duration `toml:"finalize_timeout"`
	ReportUnknownHooks bool     `toml:"report_unknown_hooks"`

	// Signals that request exit. Empty means SIGINT and SIGTERM.
	Signals []string `toml:"signals"`
}

// LoggingConfig configures the console logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures trace events and OpenTelemetry export.
type TelemetryConfig struct {
	// TraceProtocol is "file", "http" or "noop"; TraceEndpoint is the
	// path or URL it writes to.
	TraceProtocol string `toml:"trace_protocol"`
	TraceEndpoint string `toml:"trace_endpoint"`

	// OTLP span export. Disabled when OTLPEndpoint is empty.
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Protocol     string `toml:"protocol"`
	Insecure     bool   `toml:"insecure"`
	ServiceName  string `toml:"service_name"`
}

// BusConfig configures lifecycle notices. Disabled when URL is empty.
type BusConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	ClientName    string `toml:"client_name"`
}

// MetricsConfig configures the Prometheus collector. Metrics are served
// only when Listen is set.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
	Listen    string `toml:"listen"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Shutdown: ShutdownConfig{
			DefaultTimeout:  Duration{shutdown.DefaultConfig().DefaultTimeout},
			FinalizeTimeout: Duration{shutdown.DefaultConfig().FinalizeTimeout},
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			TraceProtocol: "noop",
			Protocol:      "grpc",
		},
		Bus: BusConfig{
			SubjectPrefix: "drainkit",
		},
		Metrics: MetricsConfig{
			Namespace: "drainkit",
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{FileName}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "drainkit", FileName))
	}

	return paths
}

// Load loads the first config file found in StandardPaths. If none exists
// it returns Default() and an empty path.
func Load() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return cfg, path, nil
		}
	}
	return Default(), "", nil
}

// LoadFile loads and validates a config file. Unset keys keep their
// defaults.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates TOML from r. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, errors.InvalidConfig("malformed config", errors.WithCause(err))
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, errors.InvalidConfig("unknown config keys: " + strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if c.Shutdown.DefaultTimeout.Duration < 0 {
		return errors.InvalidConfig("shutdown.default_timeout must not be negative")
	}
	if c.Shutdown.FinalizeTimeout.Duration < 0 {
		return errors.InvalidConfig("shutdown.finalize_timeout must not be negative")
	}
	if _, err := c.Signals(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errors.InvalidConfig("logging.level", errors.WithCause(err))
	}
	switch c.Telemetry.TraceProtocol {
	case "", "noop", "file", "http":
	default:
		return errors.InvalidConfig("telemetry.trace_protocol must be file, http or noop",
			errors.WithMetadata("value", c.Telemetry.TraceProtocol))
	}
	if c.Telemetry.TraceProtocol == "file" || c.Telemetry.TraceProtocol == "http" {
		if c.Telemetry.TraceEndpoint == "" {
			return errors.InvalidConfig("telemetry.trace_endpoint is required for " + c.Telemetry.TraceProtocol)
		}
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return errors.InvalidConfig("telemetry.protocol must be grpc or http",
			errors.WithMetadata("value", c.Telemetry.Protocol))
	}
	if c.Bus.URL != "" && c.Bus.SubjectPrefix == "" {
		return errors.InvalidConfig("bus.subject_prefix is required when bus.url is set")
	}
	return nil
}

// Signals resolves the configured signal names. Empty means the
// coordinator's default set.
func (c *Config) Signals() ([]os.Signal, error) {
	var sigs []os.Signal
	for _, name := range c.Shutdown.Signals {
		sig, err := shutdown.ParseSignal(name)
		if err != nil {
			return nil, errors.InvalidConfig("shutdown.signals", errors.WithCause(err),
				errors.WithMetadata("value", name))
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// Logger builds a console logger at the configured level.
func (c *Config) Logger() *logging.Logger {
	logger := logging.New()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// CoordinatorConfig converts the [shutdown] section. Observers and the
// terminator are left for the caller.
func (c *Config) CoordinatorConfig(logger *logging.Logger) shutdown.Config {
	return shutdown.Config{
		DefaultTimeout:     c.Shutdown.DefaultTimeout.Duration,
		FinalizeTimeout:    c.Shutdown.FinalizeTimeout.Duration,
		ReportUnknownHooks: c.Shutdown.ReportUnknownHooks,
		Logger:             logger,
	}
}
