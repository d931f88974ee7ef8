package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a failure for retry and degradation decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindUnavailable
	KindDeadlineExceeded
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Transient reports whether the kind belongs to the retryable, degradable set.
func (k Kind) Transient() bool {
	return k == KindUnavailable || k == KindDeadlineExceeded || k == KindTransport
}

// TransientKinds is the default retryable set.
var TransientKinds = []Kind{KindUnavailable, KindDeadlineExceeded, KindTransport}

// Error carries a Kind alongside the failing operation and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err produces a bare kind error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// InvalidArgument builds a fail-fast validation error.
func InvalidArgument(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. Explicitly kinded errors win; otherwise gRPC
// status codes, network timeouts and context deadlines are recognised.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return KindTransport
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
			return KindUnavailable
		case codes.DeadlineExceeded:
			return KindDeadlineExceeded
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			return KindInvalidArgument
		case codes.NotFound:
			return KindNotFound
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindDeadlineExceeded
		}
		return KindTransport
	}
	return KindInternal
}

// IsTransient reports whether err is in the transient set.
func IsTransient(err error) bool {
	return err != nil && KindOf(err).Transient()
}

// IsNotFound reports whether err classifies as not found.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
