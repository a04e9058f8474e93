// Package xlinkerr defines the caller-visible error taxonomy of the XLink
// API (spec §7) as a single Go error type carrying a stable Code, so
// callers can switch on errors.As instead of string matching.
package xlinkerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one member of the caller-visible error taxonomy.
type Code int

const (
	Success Code = iota
	AlreadyOpen
	CommunicationNotOpen
	CommunicationFail
	CommunicationUnknownError
	DeviceNotFound
	DeviceAlreadyInUse
	InsufficientPermissions
	Timeout
	OutOfMemory
	InitUSBError
	InitTCPIPError
	InitPCIeError
	NotImplemented
	Generic
)

func (c Code) String() string {
	switch c {
	case Success:
		return "Success"
	case AlreadyOpen:
		return "AlreadyOpen"
	case CommunicationNotOpen:
		return "CommunicationNotOpen"
	case CommunicationFail:
		return "CommunicationFail"
	case CommunicationUnknownError:
		return "CommunicationUnknownError"
	case DeviceNotFound:
		return "DeviceNotFound"
	case DeviceAlreadyInUse:
		return "DeviceAlreadyInUse"
	case InsufficientPermissions:
		return "InsufficientPermissions"
	case Timeout:
		return "Timeout"
	case OutOfMemory:
		return "OutOfMemory"
	case InitUSBError:
		return "InitUsbError"
	case InitTCPIPError:
		return "InitTcpIpError"
	case InitPCIeError:
		return "InitPcieError"
	case NotImplemented:
		return "NotImplemented"
	default:
		return "Error"
	}
}

// Error is the concrete error type returned across the XLink API boundary.
type Error struct {
	Code Code
	Op   string // operation that failed, e.g. "OpenStream", "WriteData"
	err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("xlink: %s: %s: %v", e.Op, e.Code, e.err)
	}
	return fmt.Sprintf("xlink: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a *Error with no wrapped cause.
func New(op string, code Code) *Error {
	return &Error{Op: op, Code: code}
}

// Wrap annotates err (via github.com/pkg/errors, so %+v on the result
// retains a stack trace) with a caller-visible Code.
func Wrap(op string, code Code, err error) *Error {
	if err == nil {
		return New(op, code)
	}
	return &Error{Op: op, Code: code, err: errors.WithStack(err)}
}

// Is reports whether err is an *Error carrying the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
