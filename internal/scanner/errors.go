package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorKind classifies why a probe produced no HTTP status.
type ErrorKind string

const (
	KindDNS      ErrorKind = "dns"
	KindConnect  ErrorKind = "connect"
	KindTLS      ErrorKind = "tls"
	KindTimeout  ErrorKind = "timeout"
	KindProtocol ErrorKind = "protocol"
)

// ExecError is a per-combination failure. It never aborts a run.
type ExecError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// classify wraps err as kind, or as a timeout when err is one.
func classify(kind ErrorKind, op string, err error) *ExecError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &ExecError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of an *ExecError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var xe *ExecError
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}
