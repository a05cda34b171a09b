package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter/internal/value"
)

// ExecutionError represents a rule body failure during execution.
//
// Execution errors are cached in the session like values: a second request
// for the same (rule, inputs) key in the same session observes the cached
// failure without re-invoking the body. The error names the rule and the
// concrete input values it ran with.
type ExecutionError struct {
	// RuleID identifies the failed rule.
	RuleID string

	// Inputs holds the concrete input values, in parameter order.
	Inputs []value.Value

	// Err is the error returned by the rule body.
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if len(e.Inputs) == 0 {
		return fmt.Sprintf("rule %s failed: %v", e.RuleID, e.Err)
	}
	rendered := make([]string, len(e.Inputs))
	for i, in := range e.Inputs {
		rendered[i] = renderInput(in)
	}
	return fmt.Sprintf("rule %s failed with inputs (%s): %v",
		e.RuleID, strings.Join(rendered, ", "), e.Err)
}

// Unwrap returns the underlying body error for errors.Is/As chains.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionError returns true if the error is a rule body failure.
// Uses errors.As to handle wrapped errors.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// ErrMaxDepthExceeded is returned when nested sub-requests exceed the
// configured depth limit.
var ErrMaxDepthExceeded = errors.New("max sub-request depth exceeded")

func renderInput(v value.Value) string {
	data, err := value.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unrenderable: %v>", err)
	}
	return string(data)
}
