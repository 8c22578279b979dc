package schedsvc

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/observability"
)

const (
	requestIDMetadataKey = "x-request-id"
	tracerName           = "github.com/signalsfoundry/macsched/internal/schedsvc"
)

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided, and attaches a
// per-request logger annotated with request_id and method.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
		}

		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, reqLog)

		return handler(ctx, req)
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// TracingUnaryServerInterceptor names the RPC span after the query method
// and tags it with the requested frame and UE. It opens a server span itself
// when no stats handler did.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		span := trace.SpanFromContext(ctx)
		owned := !span.SpanContext().IsValid()
		if owned {
			ctx, span = tracer.Start(ctx, service+"/"+method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(service + "/" + method)
		}

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)
		span.SetAttributes(queryAttributes(req)...)
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			span.SetAttributes(attribute.String("request_id", reqID))
		}

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, status.Code(err).String())
		}
		return resp, err
	}
}

// queryAttributes lifts the frame, ue and subcarrier fields of a query into
// span attributes.
func queryAttributes(req any) []attribute.KeyValue {
	in, ok := req.(*structpb.Struct)
	if !ok || in == nil {
		return nil
	}
	var attrs []attribute.KeyValue
	fields := in.GetFields()
	if v, ok := fields[fieldFrame]; ok {
		attrs = append(attrs, observability.FrameAttr.Int64(int64(v.GetNumberValue())))
	}
	if v, ok := fields[fieldUE]; ok {
		attrs = append(attrs, attribute.Int64("macsched.ue", int64(v.GetNumberValue())))
	}
	if v, ok := fields[fieldSubcarrier]; ok {
		attrs = append(attrs, attribute.Int64("macsched.subcarrier", int64(v.GetNumberValue())))
	}
	return attrs
}
