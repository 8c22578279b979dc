// Package schedsvc serves committed schedules and fairness state over gRPC
// as macsched.v1.ScheduleQuery.
package schedsvc

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/mac"
	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/internal/pipeline"
)

// StatusSource provides the control-path snapshot served by GetState.
type StatusSource interface {
	Status() pipeline.Status
}

// Service implements ScheduleQueryServer on top of a Scheduler. Schedule
// queries go straight to the lock-free query API; GetState reads the
// pipeline snapshot; PublishCSI feeds a push CSI source.
type Service struct {
	sched     *mac.Scheduler
	status    StatusSource
	publisher csi.Publisher
	log       logging.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithCSIPublisher routes PublishCSI requests into p, normally the
// *csi.Store the frame pipeline reads from.
func WithCSIPublisher(p csi.Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// NewService builds the query service. src may be nil, in which case
// GetState reports Unavailable. Without a publisher PublishCSI reports
// FailedPrecondition.
func NewService(sched *mac.Scheduler, src StatusSource, log logging.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = logging.Noop()
	}
	s := &Service{sched: sched, status: src, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServer returns a gRPC server with the request-id, tracing and metrics
// interceptors installed and the service registered.
func NewServer(svc *Service, rpc *observability.RPCCollector, log logging.Logger, opts ...grpc.ServerOption) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if rpc != nil {
		interceptors = append(interceptors, rpc.UnaryServerInterceptor())
	}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, opts...)
	server := grpc.NewServer(opts...)
	RegisterScheduleQueryServer(server, svc)
	return server
}

func (s *Service) GetSchedule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	frame, err := uintField(req, fieldFrame)
	if err != nil {
		return nil, ToStatusError(err)
	}
	sc, err := intField(req, fieldSubcarrier, 0)
	if err != nil {
		return nil, ToStatusError(err)
	}
	action, err := s.sched.ActionFor(frame)
	if err != nil {
		return nil, s.fail(ctx, "GetSchedule", err)
	}
	users, err := s.sched.ScheduledUsers(frame, sc)
	if err != nil {
		return nil, s.fail(ctx, "GetSchedule", err)
	}
	ueMap, err := s.sched.ScheduledMap(frame, sc)
	if err != nil {
		return nil, s.fail(ctx, "GetSchedule", err)
	}
	ueList := make([]any, len(ueMap))
	for u, v := range ueMap {
		ueList[u] = float64(v)
	}
	return newStruct(map[string]any{
		"frame":      float64(frame),
		"subcarrier": float64(sc),
		"action":     float64(action),
		"users":      int32List(users),
		"ue_map":     ueList,
	})
}

func (s *Service) IsScheduled(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	frame, err := uintField(req, fieldFrame)
	if err != nil {
		return nil, ToStatusError(err)
	}
	ue, err := intField(req, fieldUE, -1)
	if err != nil {
		return nil, ToStatusError(err)
	}
	sc, err := intField(req, fieldSubcarrier, 0)
	if err != nil {
		return nil, ToStatusError(err)
	}
	ok, err := s.sched.IsScheduled(frame, sc, ue)
	if err != nil {
		return nil, s.fail(ctx, "IsScheduled", err)
	}
	return newStruct(map[string]any{"scheduled": ok})
}

func (s *Service) GetMcs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	frame, err := uintField(req, fieldFrame)
	if err != nil {
		return nil, ToStatusError(err)
	}
	ue, err := intField(req, fieldUE, -1)
	if err != nil {
		return nil, ToStatusError(err)
	}
	dirName := "uplink"
	if v, ok := req.GetFields()["direction"]; ok {
		dirName = v.GetStringValue()
	}
	dir, err := mac.ParseDirection(dirName)
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	mcs, err := s.sched.McsFor(frame, ue, dir)
	if err != nil {
		return nil, s.fail(ctx, "GetMcs", err)
	}
	return newStruct(map[string]any{"mcs": float64(mcs), "direction": dir.String()})
}

func (s *Service) GetState(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.status == nil {
		return nil, ToStatusError(fmt.Errorf("%w: no frame pipeline attached", mac.ErrScheduleNotReady))
	}
	st := s.status.Status()
	if !st.HasFrame {
		return nil, s.fail(ctx, "GetState", fmt.Errorf("%w: no frame committed", mac.ErrScheduleNotReady))
	}
	scheduled := make([]any, len(st.Scheduled))
	for u, in := range st.Scheduled {
		scheduled[u] = in
	}
	return newStruct(map[string]any{
		"latest_frame": float64(st.LatestFrame),
		"action":       float64(st.Action),
		"users":        int32List(st.Users),
		"frames":       float64(st.Frames),
		"fallbacks":    float64(st.Fallbacks),
		"history":      floatList(st.History),
		"last_se":      floatList(st.LastSE),
		"scheduled":    scheduled,
		"fairness":     st.Fairness,
	})
}

// PublishCSI stores the per-user estimate for a frame so the pipeline can
// decide it before its CSI deadline.
func (s *Service) PublishCSI(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.publisher == nil {
		return nil, status.Error(codes.FailedPrecondition, "csi source does not accept pushed estimates")
	}
	frame, err := uintField(req, fieldFrame)
	if err != nil {
		return nil, ToStatusError(err)
	}
	values, err := floatsField(req, fieldValues)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := mac.ValidateCSI(values, s.sched.Config().UEs); err != nil {
		return nil, s.fail(ctx, "PublishCSI", err)
	}
	if err := s.publisher.Publish(frame, values); err != nil {
		return nil, s.fail(ctx, "PublishCSI", err)
	}
	logging.FromContext(ctx, s.log).Debug(ctx, "csi published", logging.Uint64("frame", frame))
	return newStruct(map[string]any{"frame": float64(frame), "accepted": true})
}

func (s *Service) fail(ctx context.Context, method string, err error) error {
	logging.FromContext(ctx, s.log).Debug(ctx, "query rejected",
		logging.String("rpc", method),
		logging.Err(err),
	)
	return ToStatusError(err)
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

func int32List(v []int32) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func floatList(v []float64) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func numberField(req *structpb.Struct, key string) (float64, bool, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, false, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return 0, true, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, key)
	}
	f := n.NumberValue
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, true, fmt.Errorf("%w: %s must be an integer", ErrInvalidRequest, key)
	}
	return f, true, nil
}

func floatsField(req *structpb.Struct, key string) ([]float64, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	list, isList := v.GetKind().(*structpb.Value_ListValue)
	if !isList {
		return nil, fmt.Errorf("%w: %s must be a list of numbers", ErrInvalidRequest, key)
	}
	vals := list.ListValue.GetValues()
	out := make([]float64, len(vals))
	for i, x := range vals {
		n, isNum := x.GetKind().(*structpb.Value_NumberValue)
		if !isNum {
			return nil, fmt.Errorf("%w: %s[%d] must be a number", ErrInvalidRequest, key, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func uintField(req *structpb.Struct, key string) (uint64, error) {
	f, ok, err := numberField(req, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	if f < 0 || f >= float64(mac.MaxFrame) {
		return 0, fmt.Errorf("%w: %s %v", mac.ErrOutOfRange, key, f)
	}
	return uint64(f), nil
}

// intField returns def when key is absent. A negative def marks the field
// required.
func intField(req *structpb.Struct, key string, def int) (int, error) {
	f, ok, err := numberField(req, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		if def < 0 {
			return 0, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
		}
		return def, nil
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s %v", mac.ErrOutOfRange, key, f)
	}
	return int(f), nil
}
