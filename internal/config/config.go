// Package config loads the macsched YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/mac"
	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/timectrl"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// McsConfig selects the MCS policy. Per-UE tables win over the constants
// when both are set.
type McsConfig struct {
	Uplink        int   `yaml:"uplink"`
	Downlink      int   `yaml:"downlink"`
	PerUEUplink   []int `yaml:"per_ue_uplink,omitempty"`
	PerUEDownlink []int `yaml:"per_ue_downlink,omitempty"`
}

// FallbackConfig selects what is scheduled when CSI misses its deadline.
type FallbackConfig struct {
	// Policy is "repeat" (default) or "fixed".
	Policy string `yaml:"policy"`
	Action int    `yaml:"action"`
}

// SchedulerConfig mirrors mac.Config.
type SchedulerConfig struct {
	UEs            int            `yaml:"ues"`
	SpatialStreams int            `yaml:"spatial_streams"`
	Subcarriers    int            `yaml:"subcarriers"`
	FairnessWeight float64        `yaml:"fairness_weight"`
	DefaultAction  int            `yaml:"default_action"`
	FrameWindow    int            `yaml:"frame_window"`
	MaxBufferBytes uint64         `yaml:"max_buffer_bytes"`
	Mcs            McsConfig      `yaml:"mcs"`
	Fallback       FallbackConfig `yaml:"fallback"`
}

// RunConfig drives the frame clock and pipeline.
type RunConfig struct {
	// Frames to run; 0 runs until interrupted.
	Frames      uint64        `yaml:"frames"`
	StartFrame  uint64        `yaml:"start_frame"`
	FramePeriod time.Duration `yaml:"frame_period"`
	// Mode is "realtime" or "accelerated".
	Mode        string        `yaml:"mode"`
	CSIDeadline time.Duration `yaml:"csi_deadline"`
	// Workers fan control messages out over subcarrier chunks.
	Workers int `yaml:"workers"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	FrameEvery  uint64  `yaml:"frame_every"`
}

type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Domain   string `yaml:"domain"`
}

// Config is the full file layout.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Run       RunConfig       `yaml:"run"`
	CSI       csi.Config      `yaml:"csi"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// Default returns a runnable configuration: four users, two streams, a
// seeded fading channel and a 1ms accelerated frame clock.
func Default() Config {
	m := mac.DefaultConfig()
	return Config{
		Scheduler: SchedulerConfig{
			UEs:            m.UEs,
			SpatialStreams: m.SpatialStreams,
			Subcarriers:    m.Subcarriers,
			FairnessWeight: m.FairnessWeight,
			DefaultAction:  m.DefaultAction,
			FrameWindow:    m.FrameWindow,
			MaxBufferBytes: m.MaxBufferBytes,
			Mcs:            McsConfig{Uplink: m.UplinkMcs, Downlink: m.DownlinkMcs},
			Fallback:       FallbackConfig{Policy: "repeat"},
		},
		Run: RunConfig{
			Frames:      1000,
			FramePeriod: time.Millisecond,
			Mode:        "accelerated",
			CSIDeadline: 500 * time.Microsecond,
			Workers:     4,
		},
		CSI: csi.Config{
			Kind:      csi.KindFading,
			MeanSNRdB: []float64{15},
			Seed:      1,
		},
		Logging: LoggingConfig{Level: "info", Format: "pretty"},
		Metrics: MetricsConfig{Enabled: true},
		HTTP:    HTTPConfig{Addr: ":9090"},
		GRPC:    GRPCConfig{Addr: ":50051"},
		Tracing: TracingConfig{
			ServiceName: "macsched",
			Exporter:    "stdout",
			SampleRatio: 1,
			FrameEvery:  1,
		},
		Discovery: DiscoveryConfig{Instance: "macsched", Domain: "local"},
	}
}

// Load reads path over Default and validates the result. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.MacConfig().ApplyDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: scheduler: %w", ErrInvalid, err)
	}
	if _, err := c.McsPolicy(); err != nil {
		return fmt.Errorf("%w: scheduler.mcs: %w", ErrInvalid, err)
	}
	switch strings.ToLower(c.Scheduler.Fallback.Policy) {
	case "", "repeat", "fixed":
	default:
		return fmt.Errorf("%w: scheduler.fallback.policy %q", ErrInvalid, c.Scheduler.Fallback.Policy)
	}
	if c.Run.FramePeriod <= 0 {
		return fmt.Errorf("%w: run.frame_period must be positive", ErrInvalid)
	}
	if _, err := c.ClockMode(); err != nil {
		return err
	}
	if c.Run.CSIDeadline < 0 {
		return fmt.Errorf("%w: run.csi_deadline is negative", ErrInvalid)
	}
	if c.Run.Workers < 0 {
		return fmt.Errorf("%w: run.workers is negative", ErrInvalid)
	}
	if err := c.CSI.Validate(); err != nil {
		return fmt.Errorf("%w: csi: %w", ErrInvalid, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text", "pretty", "console":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalid, c.Logging.Format)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio %v outside [0, 1]", ErrInvalid, c.Tracing.SampleRatio)
	}
	return nil
}

// MacConfig converts the scheduler section.
func (c Config) MacConfig() mac.Config {
	s := c.Scheduler
	return mac.Config{
		UEs:            s.UEs,
		SpatialStreams: s.SpatialStreams,
		Subcarriers:    s.Subcarriers,
		FairnessWeight: s.FairnessWeight,
		DefaultAction:  s.DefaultAction,
		FrameWindow:    s.FrameWindow,
		MaxBufferBytes: s.MaxBufferBytes,
		UplinkMcs:      s.Mcs.Uplink,
		DownlinkMcs:    s.Mcs.Downlink,
	}
}

// McsPolicy returns the per-UE table when configured, else FixedMcs.
func (c Config) McsPolicy() (mac.McsPolicy, error) {
	m := c.Scheduler.Mcs
	if len(m.PerUEUplink) == 0 && len(m.PerUEDownlink) == 0 {
		return mac.FixedMcs{Uplink: m.Uplink, Downlink: m.Downlink}, nil
	}
	p, err := mac.NewPerUserMcs(m.PerUEUplink, m.PerUEDownlink)
	if err != nil {
		return nil, err
	}
	if p.Len() != c.Scheduler.UEs {
		return nil, fmt.Errorf("%w: per-ue mcs covers %d ues, want %d", mac.ErrConfig, p.Len(), c.Scheduler.UEs)
	}
	return p, nil
}

// FallbackPolicy returns the configured missing-CSI policy.
func (c Config) FallbackPolicy() mac.FallbackPolicy {
	if strings.EqualFold(c.Scheduler.Fallback.Policy, "fixed") {
		return mac.FixedAction(c.Scheduler.Fallback.Action)
	}
	return mac.RepeatPrevious{Default: c.Scheduler.DefaultAction}
}

// ClockMode parses run.mode.
func (c Config) ClockMode() (timectrl.Mode, error) {
	switch strings.ToLower(c.Run.Mode) {
	case "", "accelerated":
		return timectrl.Accelerated, nil
	case "realtime", "real-time":
		return timectrl.RealTime, nil
	default:
		return 0, fmt.Errorf("%w: run.mode %q", ErrInvalid, c.Run.Mode)
	}
}

// LoggerConfig converts the logging section.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.AddSource,
	}
}

// TracingOptions converts the tracing section.
func (c Config) TracingOptions() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
		FrameEvery:  c.Tracing.FrameEvery,
	}
}
