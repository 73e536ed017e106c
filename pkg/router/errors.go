package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// Sentinel error kinds. Match with errors.Is.
var (
	// ErrHandshake means no backend completed its handshake.
	ErrHandshake = errors.New("handshake failure")
	// ErrProtocol means a reply had an unexpected shape.
	ErrProtocol = errors.New("protocol parse error")
	// ErrPortOperation means the device rejected a single label or crosspoint action.
	ErrPortOperation = errors.New("port operation failure")
	// ErrTransportLost means the socket closed or a keepalive failed.
	ErrTransportLost = errors.New("transport lost")
	// ErrTimeout means a deadline expired on an otherwise well-formed exchange.
	ErrTimeout = errors.New("timeout")
)

// Error is the typed error returned across the session boundary.
type Error struct {
	Kind    error     // one of the sentinel kinds above
	Backend Kind      // backend that produced the error
	Op      string    // operation, e.g. "download" or "switch"
	Ports   []PortRef // failing ports where applicable
	Err     error     // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Backend != KindAuto {
		b.WriteString(e.Backend.String())
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if len(e.Ports) > 0 {
		refs := make([]string, 0, len(e.Ports))
		for _, p := range e.Ports {
			refs = append(refs, p.String())
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(refs, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTimeout) and friends match on Kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// NewError builds a typed error.
func NewError(kind error, backend Kind, op string, err error, ports ...PortRef) *Error {
	return &Error{Kind: kind, Backend: backend, Op: op, Ports: ports, Err: err}
}

// Errorf builds a typed error with a formatted cause.
func Errorf(kind error, backend Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Backend: backend, Op: op, Err: fmt.Errorf(format, args...)}
}

// Classify wraps a raw I/O error into the taxonomy. Errors that are already
// typed pass through untouched, context cancellation is returned as-is.
func Classify(backend Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsTimeout(err) {
		return NewError(ErrTimeout, backend, op, err)
	}
	if IsConnectionLoss(err) {
		return NewError(ErrTransportLost, backend, op, err)
	}
	return NewError(ErrProtocol, backend, op, err)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnectionLoss reports whether err means the peer or socket is gone.
func IsConnectionLoss(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
