package schedsvc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/mac"
)

// ErrInvalidRequest reports a malformed request message.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps scheduler errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, mac.ErrConfig),
		errors.Is(err, mac.ErrInvalidCSI),
		errors.Is(err, csi.ErrConfig):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, csi.ErrUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, mac.ErrOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())

	case errors.Is(err, mac.ErrScheduleNotReady):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, mac.ErrResourceExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatusError recovers the scheduler sentinel carried by a status
// error returned to a client.
func FromStatusError(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = ErrInvalidRequest
	case codes.OutOfRange:
		sentinel = mac.ErrOutOfRange
	case codes.Unavailable:
		sentinel = mac.ErrScheduleNotReady
	case codes.ResourceExhausted:
		sentinel = mac.ErrResourceExhausted
	case codes.FailedPrecondition:
		sentinel = csi.ErrUnavailable
	default:
		return err
	}
	return &remoteError{sentinel: sentinel, msg: st.Message()}
}

type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }
