package mac

import (
	"fmt"
	"strings"
)

// Direction selects the uplink or downlink MCS.
type Direction int

const (
	Uplink Direction = iota
	Downlink
)

func (d Direction) String() string {
	switch d {
	case Uplink:
		return "uplink"
	case Downlink:
		return "downlink"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "uplink"/"ul" and "downlink"/"dl".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uplink", "ul":
		return Uplink, nil
	case "downlink", "dl":
		return Downlink, nil
	default:
		return 0, fmt.Errorf("%w: unknown direction %q", ErrOutOfRange, s)
	}
}

// McsPolicy assigns modulation and coding indices. The scheduler only
// exposes the slot; it never derives MCS itself. Implementations must be
// safe for concurrent reads.
type McsPolicy interface {
	Mcs(frame uint64, ue int, dir Direction) int
}

// FixedMcs gives every user the same index per direction.
type FixedMcs struct {
	Uplink   int
	Downlink int
}

func (m FixedMcs) Mcs(_ uint64, _ int, dir Direction) int {
	if dir == Downlink {
		return m.Downlink
	}
	return m.Uplink
}

// PerUserMcs holds one index per user and direction.
type PerUserMcs struct {
	uplink   []int
	downlink []int
}

// NewPerUserMcs copies the per-user tables. Both must have the same length.
func NewPerUserMcs(uplink, downlink []int) (*PerUserMcs, error) {
	if len(uplink) != len(downlink) {
		return nil, fmt.Errorf("%w: %d uplink and %d downlink mcs entries", ErrConfig, len(uplink), len(downlink))
	}
	for i := range uplink {
		if uplink[i] < 0 || downlink[i] < 0 {
			return nil, fmt.Errorf("%w: negative mcs for ue %d", ErrConfig, i)
		}
	}
	return &PerUserMcs{
		uplink:   append([]int(nil), uplink...),
		downlink: append([]int(nil), downlink...),
	}, nil
}

// Len returns the number of users covered.
func (m *PerUserMcs) Len() int { return len(m.uplink) }

func (m *PerUserMcs) Mcs(_ uint64, ue int, dir Direction) int {
	if dir == Downlink {
		return m.downlink[ue]
	}
	return m.uplink[ue]
}
