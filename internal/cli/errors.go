package cli

import (
	"errors"
	"fmt"

	"github.com/mark3labs/openapi2mcp/internal/spec"
)

var ErrUsage = errors.New("cli usage error")

type usageError struct {
	msg   string
	cause error
}

func newUsageError(msg string) error {
	return usageError{msg: msg}
}

func (e usageError) Error() string {
	return e.msg
}

func (e usageError) Is(target error) bool {
	return target == ErrUsage
}

func (e usageError) Unwrap() error { return e.cause }

// documentError renders a *spec.Error with its operation and pointer on
// separate lines. The code stays reachable through errors.Is.
func documentError(err error) error {
	var se *spec.Error
	if !errors.As(err, &se) {
		return err
	}
	msg := fmt.Sprintf("spec: %s: %s", se.Code, se.Message)
	if se.Operation != "" {
		msg = fmt.Sprintf("%s\nOperation: %s", msg, se.Operation)
	}
	if se.Pointer != "" {
		msg = fmt.Sprintf("%s\nPointer: %s", msg, se.Pointer)
	}
	return usageError{msg: msg, cause: err}
}
