// internal/protocol/errors.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"dut-service/internal/model"
)

var (
	// ErrTimeout means no data arrived within the configured window. The link stays usable.
	ErrTimeout = errors.New("operation timed out")
	// ErrClosed means the peer closed the link or it was closed locally during an operation.
	ErrClosed = errors.New("connection closed")
	// ErrPermissionDenied is returned when raw sockets need privileges the process lacks.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotConnected is returned for I/O on a transport that was never connected or was closed.
	ErrNotConnected = errors.New("not connected")
	// ErrUnsupported is returned for transport kinds unavailable on this platform.
	ErrUnsupported = errors.New("unsupported on this platform")
)

// ConnectError reports a failed connect, including how many attempts were made
type ConnectError struct {
	Protocol model.ProtocolKind
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("connect %s %s failed after %d attempts: %v", e.Protocol, e.Addr, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connect %s %s: %v", e.Protocol, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// OpError wraps an I/O failure with its classification. Kind is one of
// the sentinels above, or nil when the failure has no specific class.
type OpError struct {
	Op       string
	Protocol model.ProtocolKind
	Addr     string
	Kind     error
	Err      error
}

func (e *OpError) Error() string {
	if e.Kind != nil && e.Kind != e.Err {
		return fmt.Sprintf("%s %s %s: %v: %v", e.Op, e.Protocol, e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Protocol, e.Addr, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Kind == nil || e.Kind == e.Err {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// Classify maps an OS or network error onto the transport taxonomy.
// It returns nil when err has no specific class.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, ErrClosed), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNABORTED):
		return ErrClosed
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, os.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, ErrNotConnected):
		return ErrNotConnected
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return nil
}

// IsTimeout reports whether err is a recoverable receive/send timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsClosed reports whether err means the link is gone
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

func newOpError(op string, kind model.ProtocolKind, addr string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Protocol: kind, Addr: addr, Kind: Classify(err), Err: err}
}
