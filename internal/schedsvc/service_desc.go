package schedsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "macsched.v1.ScheduleQuery"

const (
	getScheduleMethod = "/" + ServiceName + "/GetSchedule"
	isScheduledMethod = "/" + ServiceName + "/IsScheduled"
	getMcsMethod      = "/" + ServiceName + "/GetMcs"
	getStateMethod    = "/" + ServiceName + "/GetState"
	publishCSIMethod  = "/" + ServiceName + "/PublishCSI"
)

// Request field names shared by server, client and interceptors.
const (
	fieldFrame      = "frame"
	fieldUE         = "ue"
	fieldSubcarrier = "subcarrier"
	fieldValues     = "values"
)

// ScheduleQueryServer is the server side of macsched.v1.ScheduleQuery.
// Requests and responses are google.protobuf.Struct messages.
type ScheduleQueryServer interface {
	GetSchedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IsScheduled(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMcs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PublishCSI(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterScheduleQueryServer attaches srv to s.
func RegisterScheduleQueryServer(s grpc.ServiceRegistrar, srv ScheduleQueryServer) {
	s.RegisterService(&scheduleQueryServiceDesc, srv)
}

type unaryMethod func(ScheduleQueryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ScheduleQueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ScheduleQueryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var scheduleQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScheduleQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSchedule", Handler: unaryHandler(getScheduleMethod, ScheduleQueryServer.GetSchedule)},
		{MethodName: "IsScheduled", Handler: unaryHandler(isScheduledMethod, ScheduleQueryServer.IsScheduled)},
		{MethodName: "GetMcs", Handler: unaryHandler(getMcsMethod, ScheduleQueryServer.GetMcs)},
		{MethodName: "GetState", Handler: unaryHandler(getStateMethod, ScheduleQueryServer.GetState)},
		{MethodName: "PublishCSI", Handler: unaryHandler(publishCSIMethod, ScheduleQueryServer.PublishCSI)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "macsched/v1/schedule_query.proto",
}
