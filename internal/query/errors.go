package query

import (
	"errors"
	"regexp"
	"strconv"
)

// ValidationError reports a query that was rejected before execution: an
// unbound parameter, empty SQL or an unresolvable target. Never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ExecutionError captures a failure reported by the target database, with the
// source line number when the engine exposes one.
type ExecutionError struct {
	Message string
	Line    int
}

func (e *ExecutionError) Error() string {
	return e.Message
}

var linePattern = regexp.MustCompile(`LINE (\d+)`)

// AsExecutionError normalizes an executor failure into an *ExecutionError,
// extracting a source line from the message when present.
func AsExecutionError(err error) *ExecutionError {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	result := &ExecutionError{Message: err.Error()}
	if match := linePattern.FindStringSubmatch(result.Message); match != nil {
		if line, parseErr := strconv.Atoi(match[1]); parseErr == nil {
			result.Line = line
		}
	}
	return result
}
