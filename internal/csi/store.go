package csi

import (
	"context"
	"fmt"
	"sync"
)

// Publisher accepts externally estimated CSI for a frame.
type Publisher interface {
	Publish(frame uint64, values []float64) error
}

var _ Publisher = (*Store)(nil)

// Store is a push source: an external estimator publishes per-frame CSI and
// the pipeline waits for it until its decision deadline.
type Store struct {
	mu      sync.Mutex
	ues     int
	frame   uint64
	has     bool
	values  []float64
	updated chan struct{}
}

// NewStore returns an empty store for ues users.
func NewStore(ues int) *Store {
	return &Store{
		ues:     ues,
		values:  make([]float64, ues),
		updated: make(chan struct{}),
	}
}

// Publish records the estimate for frame and wakes waiting readers. Frames
// older than the newest published one are rejected.
func (s *Store) Publish(frame uint64, values []float64) error {
	if len(values) != s.ues {
		return fmt.Errorf("%w: got %d values for %d ues", ErrConfig, len(values), s.ues)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.has && frame < s.frame {
		return fmt.Errorf("%w: frame %d older than published frame %d", ErrUnavailable, frame, s.frame)
	}
	copy(s.values, values)
	s.frame = frame
	s.has = true
	close(s.updated)
	s.updated = make(chan struct{})
	return nil
}

// Latest returns the newest published frame.
func (s *Store) Latest() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.has
}

// Estimate blocks until frame is published or ctx ends. If a newer frame
// arrives first the requested one was skipped and ErrUnavailable is returned.
func (s *Store) Estimate(ctx context.Context, frame uint64, dst []float64) error {
	if err := checkDst(dst, s.ues); err != nil {
		return err
	}
	for {
		s.mu.Lock()
		if s.has && s.frame == frame {
			copy(dst, s.values)
			s.mu.Unlock()
			return nil
		}
		if s.has && s.frame > frame {
			latest := s.frame
			s.mu.Unlock()
			return fmt.Errorf("%w: frame %d superseded by %d", ErrUnavailable, frame, latest)
		}
		wait := s.updated
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: frame %d: %v", ErrUnavailable, frame, ctx.Err())
		case <-wait:
		}
	}
}
