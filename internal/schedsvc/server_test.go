package schedsvc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/mac"
	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/internal/pipeline"
)

type queryEnv struct {
	sched  *mac.Scheduler
	runner *pipeline.Runner
	client *Client
	rpc    *observability.RPCCollector
}

func newQueryEnv(t *testing.T, frames uint64) *queryEnv {
	t.Helper()
	cfg := mac.DefaultConfig()
	cfg.Subcarriers = 16
	cfg.UplinkMcs, cfg.DownlinkMcs = 5, 9
	sched, err := mac.New(cfg)
	require.NoError(t, err)

	src, err := csi.NewStatic([]float64{1.2, 0.4, 2.0, 0.8}, cfg.UEs)
	require.NoError(t, err)
	runner, err := pipeline.NewRunner(sched, src)
	require.NoError(t, err)
	for f := uint64(0); f < frames; f++ {
		_, err := runner.Step(context.Background(), f)
		require.NoError(t, err)
	}

	rpc, err := observability.NewRPCCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	client := dial(t, NewServer(NewService(sched, runner, logging.Noop()), rpc, logging.Noop()))
	return &queryEnv{sched: sched, runner: runner, client: client, rpc: rpc}
}

// dial serves server over an in-memory listener and returns a client.
func dial(t *testing.T, server *grpc.Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.GracefulStop()
	})
	return NewClient(conn)
}

func TestGetScheduleMatchesScheduler(t *testing.T) {
	env := newQueryEnv(t, 5)
	ctx := context.Background()

	for f := uint64(0); f < 5; f++ {
		got, err := env.client.GetSchedule(ctx, f, 3)
		require.NoError(t, err)

		action, err := env.sched.ActionFor(f)
		require.NoError(t, err)
		users, err := env.sched.ScheduledUsers(f, 3)
		require.NoError(t, err)
		ueMap, err := env.sched.ScheduledMap(f, 3)
		require.NoError(t, err)

		assert.Equal(t, f, got.Frame)
		assert.Equal(t, action, got.Action)
		require.Len(t, got.Users, len(users))
		for i := range users {
			assert.Equal(t, int(users[i]), got.Users[i])
		}
		assert.Equal(t, ueMap, got.UEMap)
	}
}

func TestIsScheduledAndMcs(t *testing.T) {
	env := newQueryEnv(t, 2)
	ctx := context.Background()

	users, err := env.sched.ScheduledUsers(1, 0)
	require.NoError(t, err)
	ok, err := env.client.IsScheduled(ctx, 1, 0, int(users[0]))
	require.NoError(t, err)
	assert.True(t, ok)

	ul, err := env.client.GetMcs(ctx, 1, 2, mac.Uplink)
	require.NoError(t, err)
	dl, err := env.client.GetMcs(ctx, 1, 2, mac.Downlink)
	require.NoError(t, err)
	assert.Equal(t, 5, ul)
	assert.Equal(t, 9, dl)
}

func TestQueryErrorsCrossTheWire(t *testing.T) {
	env := newQueryEnv(t, 3)
	ctx := context.Background()

	_, err := env.client.GetSchedule(ctx, 7, 0)
	require.ErrorIs(t, err, mac.ErrScheduleNotReady)

	_, err = env.client.IsScheduled(ctx, 1, 0, 4)
	require.ErrorIs(t, err, mac.ErrOutOfRange)

	_, err = env.client.GetSchedule(ctx, 1, 16)
	require.ErrorIs(t, err, mac.ErrOutOfRange)

	_, err = env.client.GetMcs(ctx, 1, 0, mac.Direction(4))
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMalformedRequests(t *testing.T) {
	env := newQueryEnv(t, 1)
	ctx := context.Background()

	cases := map[string]map[string]any{
		"missing frame":  {},
		"string frame":   {"frame": "zero"},
		"fraction frame": {"frame": 0.5},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.client.invoke(ctx, getScheduleMethod, fields)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := env.client.invoke(ctx, isScheduledMethod, map[string]any{"frame": 0.0})
	require.ErrorIs(t, err, ErrInvalidRequest, "ue is required")

	_, err = env.client.invoke(ctx, getScheduleMethod, map[string]any{"frame": -1.0})
	require.ErrorIs(t, err, mac.ErrOutOfRange)
}

func TestGetStateReportsPipelineSnapshot(t *testing.T) {
	env := newQueryEnv(t, 6)
	st, err := env.client.GetState(context.Background())
	require.NoError(t, err)

	want := env.runner.Status()
	assert.Equal(t, want.LatestFrame, st.LatestFrame)
	assert.Equal(t, want.Action, st.Action)
	assert.Equal(t, uint64(6), st.Frames)
	assert.Equal(t, want.History, st.History)
	assert.Equal(t, want.Scheduled, st.Scheduled)
	assert.InDelta(t, want.Fairness, st.Fairness, 1e-12)
}

func TestGetStateBeforeFirstFrame(t *testing.T) {
	env := newQueryEnv(t, 0)
	_, err := env.client.GetState(context.Background())
	require.ErrorIs(t, err, mac.ErrScheduleNotReady)
}

func TestRequestIDFromMetadata(t *testing.T) {
	var seen string
	interceptor := RequestIDUnaryServerInterceptor(logging.Noop())
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "abc123"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: getStateMethod}, func(ctx context.Context, _ any) (any, error) {
		seen = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", seen)
}

func TestToStatusError(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{mac.ErrConfig, codes.InvalidArgument},
		{mac.ErrInvalidCSI, codes.InvalidArgument},
		{mac.ErrOutOfRange, codes.OutOfRange},
		{mac.ErrScheduleNotReady, codes.Unavailable},
		{mac.ErrResourceExhausted, codes.ResourceExhausted},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		st, ok := status.FromError(ToStatusError(tc.err))
		require.True(t, ok)
		assert.Equal(t, tc.code, st.Code(), tc.err.Error())
	}
	assert.NoError(t, ToStatusError(nil))

	already := status.Error(codes.Aborted, "x")
	assert.Equal(t, already, ToStatusError(already))
}

func TestServiceDescriptorNames(t *testing.T) {
	info := NewServer(NewService(nil, nil, nil), nil, nil).GetServiceInfo()
	svc, ok := info[ServiceName]
	require.True(t, ok)
	names := make([]string, 0, len(svc.Methods))
	for _, m := range svc.Methods {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{"GetSchedule", "IsScheduled", "GetMcs", "GetState", "PublishCSI"}, names)
}

func TestPublishCSIDrivesPushPipeline(t *testing.T) {
	cfg := mac.DefaultConfig()
	cfg.Subcarriers = 4
	sched, err := mac.New(cfg)
	require.NoError(t, err)
	store := csi.NewStore(cfg.UEs)
	runner, err := pipeline.NewRunner(sched, store, pipeline.WithCSIDeadline(time.Second))
	require.NoError(t, err)
	client := dial(t, NewServer(NewService(sched, runner, logging.Noop(), WithCSIPublisher(store)), nil, logging.Noop()))
	ctx := context.Background()

	// UE 3 carries a much stronger channel; the PF metric must still rotate
	// every user in once the estimates arrive over the wire.
	values := []float64{0.4, 0.5, 0.6, 3.0}
	served := make([]bool, cfg.UEs)
	for f := uint64(0); f < 12; f++ {
		require.NoError(t, client.PublishCSI(ctx, f, values))
		report, err := runner.Step(ctx, f)
		require.NoError(t, err)
		assert.False(t, report.Fallback, "frame %d fell back despite published csi", f)
		for _, u := range report.Users {
			served[u] = true
		}
	}
	assert.Equal(t, []bool{true, true, true, true}, served)
	assert.Zero(t, runner.Summary().Fallbacks)
}

func TestPublishCSIRejectsBadEstimates(t *testing.T) {
	cfg := mac.DefaultConfig()
	cfg.Subcarriers = 4
	sched, err := mac.New(cfg)
	require.NoError(t, err)
	store := csi.NewStore(cfg.UEs)
	client := dial(t, NewServer(NewService(sched, nil, logging.Noop(), WithCSIPublisher(store)), nil, logging.Noop()))
	ctx := context.Background()

	require.ErrorIs(t, client.PublishCSI(ctx, 1, []float64{1, 2}), ErrInvalidRequest, "wrong length")
	require.ErrorIs(t, client.PublishCSI(ctx, 1, []float64{1, -2, 1, 1}), ErrInvalidRequest, "negative value")
	_, err = client.invoke(ctx, publishCSIMethod, map[string]any{"frame": 1.0, "values": "high"})
	require.ErrorIs(t, err, ErrInvalidRequest, "values must be a list")
	_, err = client.invoke(ctx, publishCSIMethod, map[string]any{"frame": 1.0, "values": []any{1.0, "x", 1.0, 1.0}})
	require.ErrorIs(t, err, ErrInvalidRequest, "values must be numbers")

	require.NoError(t, client.PublishCSI(ctx, 5, []float64{1, 1, 1, 1}))
	require.ErrorIs(t, client.PublishCSI(ctx, 4, []float64{1, 1, 1, 1}), csi.ErrUnavailable, "older than the newest estimate")
	latest, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(5), latest)
}

func TestPublishCSIWithoutPushSource(t *testing.T) {
	env := newQueryEnv(t, 1)
	err := env.client.PublishCSI(context.Background(), 1, []float64{1, 1, 1, 1})
	require.ErrorIs(t, err, csi.ErrUnavailable)
	st, ok := status.FromError(ToStatusError(fmt.Errorf("%w: stale", csi.ErrUnavailable)))
	require.True(t, ok)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
}
