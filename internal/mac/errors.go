package mac

import "errors"

var (
	// ErrConfig reports an invalid static configuration (stream/user counts,
	// fairness weight, default action). It is fatal at construction.
	ErrConfig = errors.New("invalid scheduler configuration")
	// ErrResourceExhausted reports that the schedule tables would exceed the
	// configured memory ceiling. It is detected before anything is allocated.
	ErrResourceExhausted = errors.New("schedule buffers exceed memory ceiling")
	// ErrScheduleNotReady is returned when a frame is queried before its
	// decision has been committed.
	ErrScheduleNotReady = errors.New("schedule not ready")
	// ErrOutOfRange reports a bad subcarrier, user, stream slot or frame index.
	ErrOutOfRange = errors.New("index out of range")
	// ErrInvalidCSI reports a channel-quality vector of the wrong length or
	// with negative or non-finite entries.
	ErrInvalidCSI = errors.New("invalid channel state")
)
