package tool

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool means a name outside the catalog reached the router.
	// The policy engine denies such names, so seeing it is a caller bug.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrNotImplemented is returned for catalog entries reserved for
	// policy purposes that have no executor yet.
	ErrNotImplemented = errors.New("tool has no executor")

	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	ErrMissingRequiredArg = errors.New("missing required argument")
	ErrInvalidArgType     = errors.New("invalid argument type")
)

// ValidationError reports an argument document that does not satisfy the
// tool's schema.
type ValidationError struct {
	Tool    string `json:"tool"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s argument '%s': %s", e.Tool, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type ErrorKind string

const (
	KindIO      ErrorKind = "io"
	KindNetwork ErrorKind = "network"
	KindLaunch  ErrorKind = "launch"
)

// ExecError is a failure of the effect itself (file system, process or
// network), as opposed to a bad argument document.
type ExecError struct {
	Tool string
	Kind ErrorKind
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s %s error: %v", e.Tool, e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func ioError(tool string, err error) error {
	return &ExecError{Tool: tool, Kind: KindIO, Err: err}
}

func networkError(tool string, err error) error {
	return &ExecError{Tool: tool, Kind: KindNetwork, Err: err}
}
