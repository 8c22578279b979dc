// Package pipeline drives a mac.Scheduler once per frame: it collects CSI
// within a deadline, commits the decision, fans the grant out over
// subcarrier chunks and publishes a control message and run statistics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/mac"
	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/timectrl"
)

// ControlMessage is the per-frame broadcast telling each user whether it
// holds a stream. UEMap[u] is 1 for scheduled users.
type ControlMessage struct {
	Frame uint64
	UEMap []uint8
}

// ControlSink receives control messages. It is called on the frame
// goroutine and must not retain msg.UEMap after returning.
type ControlSink func(ctx context.Context, msg ControlMessage) error

// FrameReport describes one committed frame.
type FrameReport struct {
	Frame    uint64
	Action   int
	Users    []int32
	Fallback bool
	// Subcarriers is the number of subcarriers granted to each user.
	Subcarriers []int
	Elapsed     time.Duration
}

// Status is a point-in-time view of the scheduler, safe to hand to other
// goroutines.
type Status struct {
	LatestFrame uint64
	HasFrame    bool
	Action      int
	Users       []int32
	Frames      uint64
	Fallbacks   uint64
	History     []float64
	LastSE      []float64
	Scheduled   []bool
	Fairness    float64
}

// Summary aggregates a run.
type Summary struct {
	Frames    uint64
	Fallbacks uint64
	// Grants counts frames in which each user held a stream.
	Grants []uint64
	// GrantedSE sums the channel quality each user was granted.
	GrantedSE []float64
	// Subcarriers sums subcarrier grants per user.
	Subcarriers []uint64
	History     []float64
	// Fairness is Jain's index over GrantedSE.
	Fairness float64
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the base logger; each frame logs through a child tagged
// with the frame number.
func WithLogger(log logging.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics publishes per-UE history and the fairness index.
func WithMetrics(c *observability.SchedulerCollector) Option {
	return func(r *Runner) { r.metrics = c }
}

// WithCSIDeadline bounds how long a frame waits for CSI. Zero waits for the
// frame context only.
func WithCSIDeadline(d time.Duration) Option {
	return func(r *Runner) { r.deadline = d }
}

// WithWorkers sets how many goroutines share the subcarrier fan-out.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithControlSink delivers each frame's control message.
func WithControlSink(sink ControlSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// Runner owns the control path of a Scheduler. Step must be called from a
// single goroutine; Status and Summary may be called from any goroutine.
type Runner struct {
	sched    *mac.Scheduler
	src      csi.Source
	log      logging.Logger
	metrics  *observability.SchedulerCollector
	sink     ControlSink
	deadline time.Duration
	workers  int

	ues         int
	subcarriers int
	csi         []float64
	history     []float64
	chunks      [][]int
	control     []uint8

	mu     sync.RWMutex
	status Status
	sum    Summary
}

// NewRunner wires sched to src.
func NewRunner(sched *mac.Scheduler, src csi.Source, opts ...Option) (*Runner, error) {
	if sched == nil {
		return nil, fmt.Errorf("%w: nil scheduler", mac.ErrConfig)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil csi source", mac.ErrConfig)
	}
	cfg := sched.Config()
	r := &Runner{
		sched:       sched,
		src:         src,
		log:         logging.Noop(),
		workers:     1,
		ues:         cfg.UEs,
		subcarriers: cfg.Subcarriers,
		csi:         make([]float64, cfg.UEs),
		history:     make([]float64, cfg.UEs),
		control:     make([]uint8, cfg.UEs),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers > r.subcarriers {
		r.workers = r.subcarriers
	}
	r.chunks = make([][]int, r.workers)
	for w := range r.chunks {
		r.chunks[w] = make([]int, cfg.UEs)
	}
	r.sum = Summary{
		Grants:      make([]uint64, cfg.UEs),
		GrantedSE:   make([]float64, cfg.UEs),
		Subcarriers: make([]uint64, cfg.UEs),
	}
	return r, nil
}

// Step runs one frame.
func (r *Runner) Step(ctx context.Context, frame uint64) (FrameReport, error) {
	start := time.Now()
	ctx, span := observability.StartFrame(ctx, frame)
	defer span.End()
	ctx, log := logging.WithFrameLogger(ctx, r.log, frame)

	values, err := r.collect(ctx, frame)
	if err != nil {
		log.Warn(ctx, "csi missed deadline, using fallback", logging.Err(err))
		span.AddEvent("csi.missing")
	}

	action, err := r.sched.AdvanceFrame(frame, values)
	if errors.Is(err, mac.ErrInvalidCSI) {
		log.Warn(ctx, "invalid csi, using fallback", logging.Err(err))
		span.AddEvent("csi.invalid")
		values = nil
		action, err = r.sched.AdvanceFrame(frame, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FrameReport{}, err
	}
	fallback := values == nil
	users := r.sched.Actions().Users(action)
	span.SetAttributes(
		attribute.Int("action", action),
		attribute.Bool("fallback", fallback),
	)

	perUE, err := r.allocate(ctx, frame)
	if err != nil {
		span.RecordError(err)
		return FrameReport{}, err
	}

	if r.sink != nil {
		ueMap, err := r.sched.ScheduledMap(frame, 0)
		if err != nil {
			return FrameReport{}, err
		}
		copy(r.control, ueMap)
		if err := r.sink(ctx, ControlMessage{Frame: frame, UEMap: r.control}); err != nil {
			log.Warn(ctx, "control message not delivered", logging.Err(err))
		}
	}

	r.history = r.sched.PFHistory(r.history)
	r.publish(frame, action, users, values, perUE)

	report := FrameReport{
		Frame:       frame,
		Action:      action,
		Users:       users,
		Fallback:    fallback,
		Subcarriers: perUE,
		Elapsed:     time.Since(start),
	}
	log.Debug(ctx, "frame scheduled",
		logging.Int("action", action),
		logging.Bool("fallback", fallback),
		logging.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (r *Runner) collect(ctx context.Context, frame uint64) ([]float64, error) {
	if r.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deadline)
		defer cancel()
	}
	if err := r.src.Estimate(ctx, frame, r.csi); err != nil {
		return nil, err
	}
	return r.csi, nil
}

// allocate reads the committed frame back through the query API, one
// subcarrier chunk per worker, and counts subcarriers per user.
func (r *Runner) allocate(ctx context.Context, frame uint64) ([]int, error) {
	g, gctx := errgroup.WithContext(ctx)
	per := (r.subcarriers + r.workers - 1) / r.workers
	for w := 0; w < r.workers; w++ {
		lo, hi := w*per, min((w+1)*per, r.subcarriers)
		counts := r.chunks[w]
		clear(counts)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for sc := lo; sc < hi; sc++ {
				users, err := r.sched.ScheduledUsers(frame, sc)
				if err != nil {
					return err
				}
				for _, u := range users {
					counts[u]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	total := make([]int, r.ues)
	for _, counts := range r.chunks {
		for u, n := range counts {
			total[u] += n
		}
	}
	return total, nil
}

func (r *Runner) publish(frame uint64, action int, users []int32, values []float64, perUE []int) {
	st := r.sched.PFState()

	r.mu.Lock()
	r.sum.Frames++
	if values == nil {
		r.sum.Fallbacks++
	}
	for _, u := range users {
		r.sum.Grants[u]++
		if values != nil {
			r.sum.GrantedSE[u] += values[u]
		}
	}
	for u, n := range perUE {
		r.sum.Subcarriers[u] += uint64(n)
	}
	fairness := JainIndex(r.sum.GrantedSE)
	r.sum.Fairness = fairness
	r.status = Status{
		LatestFrame: frame,
		HasFrame:    true,
		Action:      action,
		Users:       append([]int32(nil), users...),
		Frames:      r.sum.Frames,
		Fallbacks:   r.sum.Fallbacks,
		History:     st.History,
		LastSE:      st.LastSE,
		Scheduled:   st.Scheduled,
		Fairness:    fairness,
	}
	r.mu.Unlock()

	r.metrics.SetHistory(r.history)
	r.metrics.SetFairness(fairness)
}

// Listener adapts Step to a FrameClock.
func (r *Runner) Listener() timectrl.FrameListener {
	return func(ctx context.Context, frame uint64) error {
		_, err := r.Step(ctx, frame)
		return err
	}
}

// Run registers the runner on clock and drives frames through it.
func (r *Runner) Run(ctx context.Context, clock *timectrl.FrameClock, frames uint64) error {
	clock.AddListener(r.Listener())
	r.log.Info(ctx, "frame loop starting",
		logging.Uint64("start_frame", clock.StartFrame),
		logging.Uint64("frames", frames),
		logging.String("mode", clock.Mode.String()),
	)
	err := clock.Run(ctx, frames)
	s := r.Summary()
	r.log.Info(ctx, "frame loop stopped",
		logging.Uint64("frames", s.Frames),
		logging.Uint64("fallbacks", s.Fallbacks),
		logging.Float64("fairness", s.Fairness),
	)
	return err
}

// Status returns a copy of the latest frame state.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.status
	s.Users = append([]int32(nil), s.Users...)
	s.History = append([]float64(nil), s.History...)
	s.LastSE = append([]float64(nil), s.LastSE...)
	s.Scheduled = append([]bool(nil), s.Scheduled...)
	return s
}

// Summary returns a copy of the run totals.
func (r *Runner) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.sum
	s.Grants = append([]uint64(nil), s.Grants...)
	s.GrantedSE = append([]float64(nil), s.GrantedSE...)
	s.Subcarriers = append([]uint64(nil), s.Subcarriers...)
	s.History = append([]float64(nil), r.status.History...)
	return s
}

// JainIndex returns (Σx)² / (n·Σx²). It is 1 when every entry is equal and
// 1/n when a single entry holds everything. An all-zero input yields 0.
func JainIndex(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum, sq float64
	for _, v := range x {
		sum += v
		sq += v * v
	}
	if sq == 0 {
		return 0
	}
	return sum * sum / (float64(len(x)) * sq)
}
