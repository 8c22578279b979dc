// Package csi supplies per-frame channel quality (spectral efficiency per
// user) to the scheduling pipeline.
package csi

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable means no estimate exists for the requested frame. The
	// pipeline treats it as a missed deadline.
	ErrUnavailable = errors.New("csi unavailable")
	// ErrConfig reports an invalid source configuration.
	ErrConfig = errors.New("invalid csi config")
)

// Source produces channel quality for a frame. Estimate writes one value per
// user into dst and must honour ctx cancellation.
type Source interface {
	Estimate(ctx context.Context, frame uint64, dst []float64) error
}

// Kind names a Source implementation in configuration.
type Kind string

const (
	KindStatic Kind = "static"
	KindFading Kind = "fading"
	KindTrace  Kind = "trace"
	KindPush   Kind = "push"
)

// Config selects and parameterises a Source.
type Config struct {
	Kind Kind `yaml:"kind"`
	// Values are the per-user estimates of a static source.
	Values []float64 `yaml:"values,omitempty"`
	// TracePath points at a YAML trace file.
	TracePath string `yaml:"trace_path,omitempty"`
	// MeanSNRdB is the per-user average SNR of the fading source. A single
	// entry applies to every user.
	MeanSNRdB []float64 `yaml:"mean_snr_db,omitempty"`
	Seed      uint64    `yaml:"seed,omitempty"`
	// DropRate is the probability that a fading estimate misses its frame.
	DropRate float64 `yaml:"drop_rate,omitempty"`
}

// Validate checks the fields the selected kind needs.
func (c Config) Validate() error {
	switch Kind(strings.ToLower(string(c.Kind))) {
	case KindStatic:
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: static source needs values", ErrConfig)
		}
	case KindFading:
		if len(c.MeanSNRdB) == 0 {
			return fmt.Errorf("%w: fading source needs mean_snr_db", ErrConfig)
		}
		if c.DropRate < 0 || c.DropRate >= 1 {
			return fmt.Errorf("%w: drop_rate %v outside [0, 1)", ErrConfig, c.DropRate)
		}
	case KindTrace:
		if c.TracePath == "" {
			return fmt.Errorf("%w: trace source needs trace_path", ErrConfig)
		}
	case KindPush:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrConfig, c.Kind)
	}
	return nil
}

// New builds the Source described by cfg for ues users.
func New(cfg Config, ues int) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch Kind(strings.ToLower(string(cfg.Kind))) {
	case KindStatic:
		return NewStatic(cfg.Values, ues)
	case KindFading:
		return NewFading(ues, cfg.MeanSNRdB, cfg.Seed, cfg.DropRate)
	case KindTrace:
		tr, err := LoadTrace(cfg.TracePath)
		if err != nil {
			return nil, err
		}
		if tr.UEs != ues {
			return nil, fmt.Errorf("%w: trace has %d ues, scheduler has %d", ErrConfig, tr.UEs, ues)
		}
		return tr, nil
	default:
		return NewStore(ues), nil
	}
}

func checkDst(dst []float64, ues int) error {
	if len(dst) != ues {
		return fmt.Errorf("%w: destination holds %d values for %d ues", ErrConfig, len(dst), ues)
	}
	return nil
}

// Static returns the same estimate for every frame.
type Static struct {
	values []float64
}

// NewStatic copies values. A single value is repeated for every user.
func NewStatic(values []float64, ues int) (*Static, error) {
	switch len(values) {
	case ues:
		return &Static{values: append([]float64(nil), values...)}, nil
	case 1:
		v := make([]float64, ues)
		for i := range v {
			v[i] = values[0]
		}
		return &Static{values: v}, nil
	default:
		return nil, fmt.Errorf("%w: %d static values for %d ues", ErrConfig, len(values), ues)
	}
}

func (s *Static) Estimate(ctx context.Context, _ uint64, dst []float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := checkDst(dst, len(s.values)); err != nil {
		return err
	}
	copy(dst, s.values)
	return nil
}
