package csi

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Trace replays recorded channel quality, one row per frame:
//
//	ues: 2
//	loop: true
//	frames:
//	  - [1.2, 0.4]
//	  - [0.9, 0.7]
type Trace struct {
	UEs    int         `yaml:"ues"`
	Loop   bool        `yaml:"loop"`
	Frames [][]float64 `yaml:"frames"`
}

// LoadTrace reads and validates a trace file.
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", path, err)
	}
	tr, err := ParseTrace(data)
	if err != nil {
		return nil, fmt.Errorf("trace %s: %w", path, err)
	}
	return tr, nil
}

// ParseTrace decodes a YAML trace. Unknown keys are rejected.
func ParseTrace(data []byte) (*Trace, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var tr Trace
	if err := dec.Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if tr.UEs <= 0 {
		return nil, fmt.Errorf("%w: trace ues must be positive", ErrConfig)
	}
	if len(tr.Frames) == 0 {
		return nil, fmt.Errorf("%w: trace has no frames", ErrConfig)
	}
	for f, row := range tr.Frames {
		if len(row) != tr.UEs {
			return nil, fmt.Errorf("%w: frame %d has %d values, want %d", ErrConfig, f, len(row), tr.UEs)
		}
		for u, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return nil, fmt.Errorf("%w: frame %d ue %d has value %v", ErrConfig, f, u, v)
			}
		}
	}
	return &tr, nil
}

// Len returns the number of recorded frames.
func (t *Trace) Len() int { return len(t.Frames) }

func (t *Trace) Estimate(ctx context.Context, frame uint64, dst []float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := checkDst(dst, t.UEs); err != nil {
		return err
	}
	n := uint64(len(t.Frames))
	if frame >= n {
		if !t.Loop {
			return fmt.Errorf("%w: trace ends at frame %d", ErrUnavailable, n-1)
		}
		frame %= n
	}
	copy(dst, t.Frames[frame])
	return nil
}
