package mac

import (
	"fmt"
	"math"
)

const (
	// DefaultFairnessWeight is λ, the blend between historical credit and the
	// last granted channel quality.
	DefaultFairnessWeight = 0.5
	// DefaultFrameWindow is the number of committed frames kept queryable.
	DefaultFrameWindow = 40
	// DefaultMaxBufferBytes bounds the bitmap and index tables together.
	DefaultMaxBufferBytes uint64 = 256 << 20
	// InitialHistory seeds every user's PF credit so the first metric never
	// divides by zero.
	InitialHistory = 0.01

	// actionBits is the width of the action id inside a published frame
	// record; the remaining bits hold frame+1.
	actionBits = 24
	// MaxActions is the largest action universe a scheduler accepts.
	MaxActions = 1 << actionBits
	// MaxFrame is one past the largest frame id AdvanceFrame accepts.
	MaxFrame uint64 = 1<<(64-actionBits) - 1
)

// Config is the static scheduler configuration. It is consumed once by New
// and never re-read.
type Config struct {
	// UEs is the number of user terminals (ues_num).
	UEs int
	// SpatialStreams is the number of users granted per frame.
	SpatialStreams int
	// Subcarriers is the number of OFDM data subcarriers.
	Subcarriers int
	// FairnessWeight is λ in [0, 1].
	FairnessWeight float64
	// DefaultAction is used on frame 0 and when no previous decision exists
	// to repeat.
	DefaultAction int
	// FrameWindow is how many recent committed frames stay queryable.
	FrameWindow int
	// MaxBufferBytes caps the combined size of the schedule tables.
	MaxBufferBytes uint64
	// UplinkMcs and DownlinkMcs seed the default FixedMcs policy.
	UplinkMcs   int
	DownlinkMcs int
}

// DefaultConfig returns a small 4-user, 2-stream configuration.
func DefaultConfig() Config {
	return Config{
		UEs:            4,
		SpatialStreams: 2,
		Subcarriers:    1200,
		FairnessWeight: DefaultFairnessWeight,
		FrameWindow:    DefaultFrameWindow,
		MaxBufferBytes: DefaultMaxBufferBytes,
		UplinkMcs:      10,
		DownlinkMcs:    10,
	}
}

// ApplyDefaults fills zero-valued sizing fields. FairnessWeight is left
// untouched because zero is a legal weight.
func (c Config) ApplyDefaults() Config {
	if c.FrameWindow <= 0 {
		c.FrameWindow = DefaultFrameWindow
	}
	if c.MaxBufferBytes == 0 {
		c.MaxBufferBytes = DefaultMaxBufferBytes
	}
	return c
}

// Validate checks the counts and weights that do not depend on the action
// universe. The default action is checked by New once actions_num is known.
func (c Config) Validate() error {
	if c.UEs <= 0 {
		return fmt.Errorf("%w: ues must be positive, got %d", ErrConfig, c.UEs)
	}
	if c.SpatialStreams <= 0 {
		return fmt.Errorf("%w: spatial streams must be positive, got %d", ErrConfig, c.SpatialStreams)
	}
	if c.SpatialStreams > c.UEs {
		return fmt.Errorf("%w: spatial streams (%d) exceed ues (%d)", ErrConfig, c.SpatialStreams, c.UEs)
	}
	if c.Subcarriers <= 0 {
		return fmt.Errorf("%w: subcarriers must be positive, got %d", ErrConfig, c.Subcarriers)
	}
	if math.IsNaN(c.FairnessWeight) || c.FairnessWeight < 0 || c.FairnessWeight > 1 {
		return fmt.Errorf("%w: fairness weight %v outside [0, 1]", ErrConfig, c.FairnessWeight)
	}
	if c.DefaultAction < 0 {
		return fmt.Errorf("%w: default action %d is negative", ErrConfig, c.DefaultAction)
	}
	if c.FrameWindow <= 0 {
		return fmt.Errorf("%w: frame window must be positive, got %d", ErrConfig, c.FrameWindow)
	}
	if c.UplinkMcs < 0 || c.DownlinkMcs < 0 {
		return fmt.Errorf("%w: mcs indices must be non-negative", ErrConfig)
	}
	return nil
}
