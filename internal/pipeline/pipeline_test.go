package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/mac"
	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/timectrl"
)

type flakySource struct {
	inner csi.Source
	// drop reports whether a frame's estimate goes missing.
	drop func(frame uint64) bool
}

func (f flakySource) Estimate(ctx context.Context, frame uint64, dst []float64) error {
	if f.drop(frame) {
		return csi.ErrUnavailable
	}
	return f.inner.Estimate(ctx, frame, dst)
}

func newScheduler(t *testing.T, opts ...mac.Option) *mac.Scheduler {
	t.Helper()
	cfg := mac.DefaultConfig()
	cfg.Subcarriers = 48
	s, err := mac.New(cfg, opts...)
	require.NoError(t, err)
	return s
}

func staticSource(t *testing.T, values ...float64) csi.Source {
	t.Helper()
	src, err := csi.NewStatic(values, 4)
	require.NoError(t, err)
	return src
}

func TestStepAccountsGrants(t *testing.T) {
	sched := newScheduler(t)
	r, err := NewRunner(sched, staticSource(t, 2.0, 1.0, 0.5, 1.5), WithWorkers(5))
	require.NoError(t, err)

	const frames = 30
	for f := uint64(0); f < frames; f++ {
		rep, err := r.Step(context.Background(), f)
		require.NoError(t, err)
		require.False(t, rep.Fallback)
		require.Len(t, rep.Users, 2)
		for _, u := range rep.Users {
			require.Equal(t, 48, rep.Subcarriers[u])
		}
	}

	sum := r.Summary()
	assert.Equal(t, uint64(frames), sum.Frames)
	assert.Zero(t, sum.Fallbacks)
	var grants uint64
	for u, g := range sum.Grants {
		grants += g
		assert.Equal(t, g*48, sum.Subcarriers[u])
		assert.Positive(t, g, "ue %d starved", u)
	}
	assert.Equal(t, uint64(2*frames), grants)
	assert.Greater(t, sum.Fairness, 0.5)
	assert.LessOrEqual(t, sum.Fairness, 1.0)
	assert.Len(t, sum.History, 4)
}

func TestStepFallsBackWhenCSIMissing(t *testing.T) {
	sched := newScheduler(t)
	src := flakySource{
		inner: staticSource(t, 1),
		drop:  func(f uint64) bool { return f%3 == 2 },
	}
	r, err := NewRunner(sched, src)
	require.NoError(t, err)

	var prev int
	for f := uint64(0); f < 9; f++ {
		rep, err := r.Step(context.Background(), f)
		require.NoError(t, err)
		if f%3 == 2 {
			assert.True(t, rep.Fallback, "frame %d", f)
			assert.Equal(t, prev, rep.Action, "fallback repeats the previous action")
		}
		prev = rep.Action
	}
	assert.Equal(t, uint64(3), r.Summary().Fallbacks)
}

func TestStepFallsBackOnInvalidCSI(t *testing.T) {
	sched := newScheduler(t)
	r, err := NewRunner(sched, staticSource(t, 1, math.NaN(), 1, 1))
	require.NoError(t, err)

	rep, err := r.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, rep.Fallback)
	assert.Equal(t, 0, rep.Action)
}

func TestStepHonoursCSIDeadline(t *testing.T) {
	sched := newScheduler(t)
	store := csi.NewStore(4)
	r, err := NewRunner(sched, store, WithCSIDeadline(10*time.Millisecond))
	require.NoError(t, err)

	begin := time.Now()
	rep, err := r.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, rep.Fallback)
	assert.Less(t, time.Since(begin), time.Second)

	require.NoError(t, store.Publish(1, []float64{1, 1, 1, 1}))
	rep, err = r.Step(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, rep.Fallback)
}

func TestStepRejectsReplayedFrame(t *testing.T) {
	r, err := NewRunner(newScheduler(t), staticSource(t, 1))
	require.NoError(t, err)
	_, err = r.Step(context.Background(), 4)
	require.NoError(t, err)
	_, err = r.Step(context.Background(), 4)
	require.ErrorIs(t, err, mac.ErrOutOfRange)
}

func TestControlSinkSeesCommittedMap(t *testing.T) {
	sched := newScheduler(t)
	var got []ControlMessage
	sink := func(_ context.Context, msg ControlMessage) error {
		got = append(got, ControlMessage{Frame: msg.Frame, UEMap: append([]uint8(nil), msg.UEMap...)})
		return errors.New("radio busy")
	}
	r, err := NewRunner(sched, staticSource(t, 1, 2, 3, 4), WithControlSink(sink))
	require.NoError(t, err)

	for f := uint64(0); f < 3; f++ {
		_, err := r.Step(context.Background(), f)
		require.NoError(t, err, "sink errors do not fail the frame")
	}
	require.Len(t, got, 3)
	for _, msg := range got {
		want, err := sched.ScheduledMap(msg.Frame, 0)
		require.NoError(t, err)
		assert.Equal(t, want, msg.UEMap)
	}
}

func TestRunnerPublishesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewSchedulerCollector(reg, 4)
	require.NoError(t, err)

	sched := newScheduler(t, mac.WithDecisionRecorder(collector))
	r, err := NewRunner(sched, staticSource(t, 1), WithMetrics(collector))
	require.NoError(t, err)

	clock := timectrl.NewFrameClock(0, time.Millisecond, timectrl.Accelerated)
	require.NoError(t, r.Run(context.Background(), clock, 12))

	assert.Equal(t, 12.0, testutil.ToFloat64(collector.FramesTotal))
	assert.InDelta(t, r.Summary().Fairness, testutil.ToFloat64(collector.FairnessIndex), 1e-12)

	st := r.Status()
	assert.True(t, st.HasFrame)
	assert.Equal(t, uint64(11), st.LatestFrame)
	assert.Equal(t, uint64(12), st.Frames)
	assert.Len(t, st.Users, 2)
	n := 0
	for _, in := range st.Scheduled {
		if in {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestStatusIsACopy(t *testing.T) {
	r, err := NewRunner(newScheduler(t), staticSource(t, 1))
	require.NoError(t, err)
	_, err = r.Step(context.Background(), 0)
	require.NoError(t, err)

	st := r.Status()
	st.History[0] = -1
	st.Users[0] = 99
	again := r.Status()
	assert.NotEqual(t, -1.0, again.History[0])
	assert.NotEqual(t, int32(99), again.Users[0])
}

func TestNewRunnerRequiresInputs(t *testing.T) {
	_, err := NewRunner(nil, staticSource(t, 1))
	require.ErrorIs(t, err, mac.ErrConfig)
	_, err = NewRunner(newScheduler(t), nil)
	require.ErrorIs(t, err, mac.ErrConfig)
}

func TestJainIndex(t *testing.T) {
	assert.Equal(t, 0.0, JainIndex(nil))
	assert.Equal(t, 0.0, JainIndex([]float64{0, 0}))
	assert.InDelta(t, 1.0, JainIndex([]float64{3, 3, 3}), 1e-12)
	assert.InDelta(t, 0.25, JainIndex([]float64{5, 0, 0, 0}), 1e-12)
	assert.InDelta(t, 0.9, JainIndex([]float64{1, 2}), 1e-12)
}
