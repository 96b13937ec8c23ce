// Package errors provides structured error types for windbg-mcp.
// These errors provide context about what operation failed and where.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindIO
	KindTimeout
	KindTerminated
	KindStartFailed
	KindSendFailed
	KindInUse
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid"
	case KindIO:
		return "I/O error"
	case KindTimeout:
		return "timeout"
	case KindTerminated:
		return "process terminated"
	case KindStartFailed:
		return "process start failed"
	case KindSendFailed:
		return "command send failed"
	case KindInUse:
		return "in use"
	default:
		return "unknown error"
	}
}

// Error is the structured error type for windbg-mcp.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind returns the Kind of an error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CDB process errors

// ExecutableNotFound reports that no cdb.exe could be located.
func ExecutableNotFound() error {
	return E(Op("cdb.FindExecutable"), KindNotFound, "CDB executable not found")
}

func ProcessStartFailed(err error) error {
	return E(Op("cdb.Spawn"), KindStartFailed, "failed to start CDB process", err)
}

// CommandTimeout reports that a command (or the startup handshake) did not
// complete within d.
func CommandTimeout(d time.Duration) error {
	return E(Op("cdb.SendCommand"), KindTimeout, fmt.Sprintf("command timeout after %s", d))
}

func CommandSendFailed(err error) error {
	return E(Op("cdb.SendCommand"), KindSendFailed, "failed to send command", err)
}

// ProcessTerminated reports an unexpected EOF on the CDB output stream.
func ProcessTerminated() error {
	return E(Op("cdb.SendCommand"), KindTerminated, "CDB process terminated unexpectedly")
}

func IOError(err error) error {
	return E(Op("cdb.Read"), KindIO, err)
}

// Registry errors

func SessionNotFound(key string) error {
	return E(Op("session.Close"), KindNotFound, fmt.Sprintf("session %s not found", key))
}

func DumpFileNotFound(path string) error {
	return E(Op("session.GetOrCreate"), KindNotFound, fmt.Sprintf("dump file not found: %s", path))
}

func SessionInUse(key string) error {
	return E(Op("session.Close"), KindInUse, fmt.Sprintf("session still in use: %s", key))
}

// Tool errors

func InvalidParams(reason string) error {
	return E(Op("tools.Call"), KindInvalid, reason)
}
