package mac

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/macsched/internal/logging"
)

// DecisionRecorder receives one call per committed frame. Implementations
// sit on the hot path and should not allocate.
type DecisionRecorder interface {
	RecordDecision(frame uint64, action int, users []int32, elapsed time.Duration, fallback bool)
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLogger attaches a logger. Only construction logs; the frame path
// never does.
func WithLogger(log logging.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDecisionRecorder attaches a metrics sink for committed frames.
func WithDecisionRecorder(rec DecisionRecorder) Option {
	return func(s *Scheduler) { s.recorder = rec }
}

// WithMcsPolicy replaces the default FixedMcs built from Config.
func WithMcsPolicy(p McsPolicy) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.mcs = p
		}
	}
}

// WithFallbackPolicy replaces the default RepeatPrevious policy used when a
// frame has no CSI.
func WithFallbackPolicy(p FallbackPolicy) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.fallback = p
		}
	}
}

// Scheduler is the per-frame MU-MIMO scheduler. AdvanceFrame is the only
// mutating call and must be driven from a single goroutine. Queries read the
// immutable buffers plus a ring of committed frame records published with
// atomic stores, so any number of goroutines may query committed frames
// without locking.
type Scheduler struct {
	cfg      Config
	actions  *ActionSet
	buffers  *Buffers
	pf       *ProportionalFairness
	state    *PFState
	mcs      McsPolicy
	fallback FallbackPolicy
	recorder DecisionRecorder
	log      logging.Logger

	// window[f % len(window)] holds pack(f, action) for committed frame f.
	window []atomic.Uint64
	// latest holds pack(f, action) for the newest committed frame.
	latest atomic.Uint64

	lastFrame uint64
	hasLast   bool
}

// New validates cfg, enumerates the action universe and builds the schedule
// tables. The memory ceiling is checked before any table is allocated.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	count, err := Binomial(cfg.UEs, cfg.SpatialStreams)
	if err != nil {
		return nil, err
	}
	if count > MaxActions {
		return nil, fmt.Errorf("%w: %d actions exceed limit %d", ErrResourceExhausted, count, MaxActions)
	}
	if cfg.DefaultAction >= count {
		return nil, fmt.Errorf("%w: default action %d outside [0, %d)", ErrConfig, cfg.DefaultAction, count)
	}
	if _, err := CheckFootprint(count, cfg.UEs, cfg.SpatialStreams, cfg.Subcarriers, cfg.MaxBufferBytes); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:      cfg,
		mcs:      FixedMcs{Uplink: cfg.UplinkMcs, Downlink: cfg.DownlinkMcs},
		fallback: RepeatPrevious{Default: cfg.DefaultAction},
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if sized, ok := s.mcs.(interface{ Len() int }); ok && sized.Len() != cfg.UEs {
		return nil, fmt.Errorf("%w: mcs policy covers %d ues, want %d", ErrConfig, sized.Len(), cfg.UEs)
	}
	if fixed, ok := s.fallback.(FixedAction); ok && (int(fixed) < 0 || int(fixed) >= count) {
		return nil, fmt.Errorf("%w: fallback action %d outside [0, %d)", ErrConfig, int(fixed), count)
	}

	s.actions, err = Enumerate(cfg.UEs, cfg.SpatialStreams)
	if err != nil {
		return nil, err
	}
	s.buffers, err = BuildBuffers(s.actions, cfg.Subcarriers, cfg.MaxBufferBytes)
	if err != nil {
		return nil, err
	}
	s.pf = NewProportionalFairness(s.actions, cfg.FairnessWeight, cfg.DefaultAction)
	s.state = NewPFState(cfg.UEs)
	s.window = make([]atomic.Uint64, cfg.FrameWindow)

	s.log.Info(context.Background(), "schedule tables built",
		logging.Int("ues", cfg.UEs),
		logging.Int("spatial_streams", cfg.SpatialStreams),
		logging.Int("subcarriers", cfg.Subcarriers),
		logging.Int("actions", s.actions.Len()),
		logging.Uint64("buffer_bytes", s.buffers.Bytes()),
	)
	return s, nil
}

func pack(frame uint64, action int) uint64 {
	return (frame+1)<<actionBits | uint64(action)
}

func unpack(v uint64) (frame uint64, action int, ok bool) {
	if v == 0 {
		return 0, 0, false
	}
	return (v >> actionBits) - 1, int(v & (MaxActions - 1)), true
}

// AdvanceFrame decides and commits the schedule for frame. A nil csi means
// channel quality missed the deadline: the fallback policy picks the action
// and fairness history is left untouched. Frames must strictly increase.
func (s *Scheduler) AdvanceFrame(frame uint64, csi []float64) (int, error) {
	start := time.Now()
	if frame >= MaxFrame {
		return 0, fmt.Errorf("%w: frame %d exceeds limit %d", ErrOutOfRange, frame, MaxFrame-1)
	}
	if s.hasLast && frame <= s.lastFrame {
		return 0, fmt.Errorf("%w: frame %d already committed (last %d)", ErrOutOfRange, frame, s.lastFrame)
	}

	var action int
	fallback := csi == nil
	if fallback {
		action = s.fallback.FallbackAction(frame, s.state.Selected, s.state.HasSelection)
		if action < 0 || action >= s.actions.Len() {
			return 0, fmt.Errorf("%w: fallback action %d outside [0, %d)", ErrOutOfRange, action, s.actions.Len())
		}
		s.pf.Hold(s.state, action)
	} else {
		var err error
		action, err = s.pf.Decide(s.state, frame, csi)
		if err != nil {
			return 0, err
		}
		if err := s.pf.Commit(s.state, csi); err != nil {
			return 0, err
		}
	}

	rec := pack(frame, action)
	s.window[frame%uint64(len(s.window))].Store(rec)
	s.latest.Store(rec)
	s.lastFrame = frame
	s.hasLast = true

	if s.recorder != nil {
		s.recorder.RecordDecision(frame, action, s.actions.Users(action), time.Since(start), fallback)
	}
	return action, nil
}

// ActionFor returns the action committed for frame.
func (s *Scheduler) ActionFor(frame uint64) (int, error) {
	latestFrame, _, ok := unpack(s.latest.Load())
	if !ok || frame > latestFrame {
		return 0, fmt.Errorf("%w: frame %d", ErrScheduleNotReady, frame)
	}
	w := uint64(len(s.window))
	if latestFrame-frame >= w {
		return 0, fmt.Errorf("%w: frame %d is older than the %d-frame window", ErrOutOfRange, frame, w)
	}
	f, action, ok := unpack(s.window[frame%w].Load())
	switch {
	case ok && f == frame:
		return action, nil
	case ok && f > frame:
		return 0, fmt.Errorf("%w: frame %d is older than the %d-frame window", ErrOutOfRange, frame, w)
	default:
		return 0, fmt.Errorf("%w: no decision for frame %d", ErrScheduleNotReady, frame)
	}
}

func (s *Scheduler) checkSubcarrier(sc int) error {
	if sc < 0 || sc >= s.cfg.Subcarriers {
		return fmt.Errorf("%w: subcarrier %d outside [0, %d)", ErrOutOfRange, sc, s.cfg.Subcarriers)
	}
	return nil
}

func (s *Scheduler) checkUE(ue int) error {
	if ue < 0 || ue >= s.cfg.UEs {
		return fmt.Errorf("%w: ue %d outside [0, %d)", ErrOutOfRange, ue, s.cfg.UEs)
	}
	return nil
}

// ScheduledUsers returns the user in each stream slot on subcarrier sc. The
// slice aliases the schedule table and must not be modified.
func (s *Scheduler) ScheduledUsers(frame uint64, sc int) ([]int32, error) {
	if err := s.checkSubcarrier(sc); err != nil {
		return nil, err
	}
	action, err := s.ActionFor(frame)
	if err != nil {
		return nil, err
	}
	return s.buffers.Index(action, sc), nil
}

// ScheduledMap returns the per-user membership bitmap on subcarrier sc. The
// slice aliases the schedule table and must not be modified.
func (s *Scheduler) ScheduledMap(frame uint64, sc int) ([]uint8, error) {
	if err := s.checkSubcarrier(sc); err != nil {
		return nil, err
	}
	action, err := s.ActionFor(frame)
	if err != nil {
		return nil, err
	}
	return s.buffers.Map(action, sc), nil
}

// IsScheduled reports whether ue holds a stream on subcarrier sc.
func (s *Scheduler) IsScheduled(frame uint64, sc, ue int) (bool, error) {
	if err := s.checkSubcarrier(sc); err != nil {
		return false, err
	}
	if err := s.checkUE(ue); err != nil {
		return false, err
	}
	action, err := s.ActionFor(frame)
	if err != nil {
		return false, err
	}
	return s.buffers.Member(action, sc, ue), nil
}

// StreamSlotUser returns the user occupying stream slot on subcarrier sc.
func (s *Scheduler) StreamSlotUser(frame uint64, sc, slot int) (int, error) {
	if err := s.checkSubcarrier(sc); err != nil {
		return 0, err
	}
	if slot < 0 || slot >= s.cfg.SpatialStreams {
		return 0, fmt.Errorf("%w: stream slot %d outside [0, %d)", ErrOutOfRange, slot, s.cfg.SpatialStreams)
	}
	action, err := s.ActionFor(frame)
	if err != nil {
		return 0, err
	}
	return int(s.buffers.Index(action, sc)[slot]), nil
}

// McsFor returns the MCS index the policy assigns ue for frame.
func (s *Scheduler) McsFor(frame uint64, ue int, dir Direction) (int, error) {
	if err := s.checkUE(ue); err != nil {
		return 0, err
	}
	if dir != Uplink && dir != Downlink {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, dir)
	}
	if _, err := s.ActionFor(frame); err != nil {
		return 0, err
	}
	return s.mcs.Mcs(frame, ue, dir), nil
}

// LatestFrame returns the newest committed frame.
func (s *Scheduler) LatestFrame() (uint64, bool) {
	f, _, ok := unpack(s.latest.Load())
	return f, ok
}

// Actions returns the enumerated action universe.
func (s *Scheduler) Actions() *ActionSet { return s.actions }

// Config returns the configuration the scheduler was built with.
func (s *Scheduler) Config() Config { return s.cfg }

// BufferBytes returns the memory held by the schedule tables.
func (s *Scheduler) BufferBytes() uint64 { return s.buffers.Bytes() }

// PFState returns a copy of the fairness state. Like AdvanceFrame it must be
// called from the control path.
func (s *Scheduler) PFState() PFState { return s.state.Clone() }

// PFHistory copies the per-user fairness credit into dst, growing it if
// needed. Control path only.
func (s *Scheduler) PFHistory(dst []float64) []float64 {
	if cap(dst) < len(s.state.History) {
		dst = make([]float64, len(s.state.History))
	}
	dst = dst[:len(s.state.History)]
	copy(dst, s.state.History)
	return dst
}

// Metric returns the PF metric the last decision computed for action.
// Control path only.
func (s *Scheduler) Metric(action int) float64 { return s.pf.Metric(action) }
