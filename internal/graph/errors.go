package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies graph construction failures.
type ErrorCode string

const (
	// CodeMissingRule means no rule can produce a required type from the
	// available inputs.
	CodeMissingRule ErrorCode = "missing-rule"

	// CodeAmbiguousRule means two or more equally specific rules (or root
	// bindings) could satisfy a required type and nothing breaks the tie.
	CodeAmbiguousRule ErrorCode = "ambiguous-rule"

	// CodeCyclicDependency means a type transitively requires itself.
	CodeCyclicDependency ErrorCode = "cyclic-dependency"
)

// BuildError is a classified graph construction failure. Construction
// errors are detected eagerly at build time; no rule body executes unless
// the whole graph for its root is known valid.
type BuildError struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Goal is the requested root output type.
	Goal string

	// Type is the type whose resolution failed.
	Type string

	// Chain is the resolution path from the goal to the failing type.
	// For cycles it names the full cycle, ending with the repeated type.
	Chain []string

	// Candidates names the tied rules (or tied root-available types) for
	// ambiguity failures.
	Candidates []string
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: cannot derive %s", e.Code, e.Type)
	if len(e.Chain) > 1 {
		fmt.Fprintf(&b, " (via %s)", strings.Join(e.Chain, " -> "))
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, ": tied candidates %s", strings.Join(e.Candidates, ", "))
	}
	return b.String()
}

// IsMissingRule reports whether err is a missing-rule build failure.
// Uses errors.As to handle wrapped errors.
func IsMissingRule(err error) bool {
	return hasCode(err, CodeMissingRule)
}

// IsAmbiguousRule reports whether err is an ambiguous-rule build failure.
func IsAmbiguousRule(err error) bool {
	return hasCode(err, CodeAmbiguousRule)
}

// IsCyclicDependency reports whether err is a cyclic-dependency build failure.
func IsCyclicDependency(err error) bool {
	return hasCode(err, CodeCyclicDependency)
}

func hasCode(err error, code ErrorCode) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}
