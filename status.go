package plthook

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the outcome of an operation. Every error returned by this package
// wraps exactly one Status, so callers can test for it with errors.Is:
//
//	if errors.Is(err, plthook.NotFound) {
//		...
//	}
type Status int

const (
	Success Status = iota
	// ArgumentError means the call itself was invalid.
	ArgumentError
	// OpenError means the module is not loaded in the process.
	OpenError
	// IntrospectionError means the module's ELF header, program headers or
	// dynamic section could not be read.
	IntrospectionError
	SymbolTableError
	RelocationTableError
	StringTableError
	// NotFound means the module has no PLT relocation for the symbol.
	NotFound
	Unknown
)

var statusNames = [...]string{
	Success:              "success",
	ArgumentError:        "argument error",
	OpenError:            "module not loaded",
	IntrospectionError:   "module introspection failed",
	SymbolTableError:     "symbol table not found",
	RelocationTableError: "relocation table not found",
	StringTableError:     "string table not found",
	NotFound:             "symbol not found",
	Unknown:              "unknown error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) Error() string {
	return s.String()
}

// StatusOf returns the Status wrapped by err. A nil error is Success and an
// error without a Status is Unknown.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return Unknown
}

// statusError attaches a Status to an underlying error. Both stay reachable
// through errors.Is and errors.As.
type statusError struct {
	status Status
	cause  error
}

func (e *statusError) Error() string {
	return e.status.String() + ": " + e.cause.Error()
}

func (e *statusError) Unwrap() []error {
	return []error{e.status, e.cause}
}

// withStatus marks cause with status. A nil cause is just the status.
func withStatus(status Status, cause error) error {
	if cause == nil {
		return status
	}
	return &statusError{status: status, cause: cause}
}
