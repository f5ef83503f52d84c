package wscore

import (
	"errors"
	"syscall"
)

// Result is the outcome of a transport-level socket operation. Every socket
// wrapper method returns one of these instead of letting an OS errno escape
// as a bare error, so callers can switch on outcome class without repeating
// errno-mapping logic at every call site.
type Result int8

const (
	// ResultOk means the operation completed, fully or partially.
	ResultOk Result = iota
	// ResultRetry means the non-blocking call would have blocked; the caller
	// should resubscribe for readiness and try again later.
	ResultRetry
	// ResultNoSocket means the connection's socket field has already been
	// cleared — the operation is a no-op by the socket-nil liveness invariant.
	ResultNoSocket
	// ResultNotFound means the referenced handle or tag is not registered.
	ResultNotFound
	// ResultNotImplemented means the platform does not support the requested
	// operation (e.g. SO_REUSEPORT on some platforms).
	ResultNotImplemented
	// ResultClosed means the peer closed the connection gracefully.
	ResultClosed
	// ResultFatal means an unrecoverable transport fault occurred.
	ResultFatal
	// ResultUnknown means the error carried no OS errno to classify.
	ResultUnknown
	// ResultTooManyConnections means the OS refused a new file descriptor
	// (EMFILE/ENFILE) — never fatal to the server, only to this attempt.
	ResultTooManyConnections
	// ResultRefused means the remote end actively refused the connection.
	ResultRefused
	// ResultConnectTimeout means an outbound connect attempt timed out.
	ResultConnectTimeout
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "Ok"
	case ResultRetry:
		return "Retry"
	case ResultNoSocket:
		return "NoSocket"
	case ResultNotFound:
		return "NotFound"
	case ResultNotImplemented:
		return "NotImplemented"
	case ResultClosed:
		return "Closed"
	case ResultFatal:
		return "Fatal"
	case ResultUnknown:
		return "Unknown"
	case ResultTooManyConnections:
		return "TooManyConnections"
	case ResultRefused:
		return "Refused"
	case ResultConnectTimeout:
		return "ConnectTimeout"
	default:
		return "Invalid"
	}
}

// ClassifyErrno maps an OS errno to a Result. EAGAIN/EWOULDBLOCK/EINTR become
// Retry (transient, never surfaced to the application per §7); ECONNRESET and
// EPIPE become Closed (graceful peer close); EMFILE/ENFILE become
// TooManyConnections (resource exhaustion, never fatal to the server);
// ECONNREFUSED becomes Refused; ETIMEDOUT becomes ConnectTimeout; any other
// errno becomes Fatal; an error that wraps no errno becomes Unknown.
func ClassifyErrno(err error) Result {
	if err == nil {
		return ResultOk
	}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return ResultUnknown
	}

	switch errno {
	case syscall.EAGAIN, syscall.EWOULDBLOCK, syscall.EINTR:
		return ResultRetry
	case syscall.ECONNRESET, syscall.EPIPE:
		return ResultClosed
	case syscall.EMFILE, syscall.ENFILE:
		return ResultTooManyConnections
	case syscall.ECONNREFUSED:
		return ResultRefused
	case syscall.ETIMEDOUT:
		return ResultConnectTimeout
	default:
		return ResultFatal
	}
}

// IsTransient reports whether a Result represents a condition the engine
// should recover from silently (§7: transient transport errors are never
// surfaced as application-visible errors).
func (r Result) IsTransient() bool {
	return r == ResultRetry
}

// IsConnectionFatal reports whether a Result requires the connection to be
// torn down (as opposed to retried or ignored).
func (r Result) IsConnectionFatal() bool {
	switch r {
	case ResultClosed, ResultFatal, ResultUnknown, ResultNoSocket:
		return true
	default:
		return false
	}
}
