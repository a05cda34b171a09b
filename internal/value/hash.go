package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed keys.
// Version suffix enables future algorithm migration.
const (
	DomainInvocation = "arbiter/invocation/v1"
	DomainShape      = "arbiter/shape/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// InvocationKey computes the content-addressed cache key for executing a
// rule against a concrete input tuple. The key is stable across sessions
// and processes given the same inputs, so the session cache and the
// cross-session store share it.
func InvocationKey(ruleID string, inputs []Value) (string, error) {
	tuple := make(List, 0, len(inputs)+1)
	tuple = append(tuple, String(ruleID))
	tuple = append(tuple, inputs...)

	canonical, err := MarshalCanonical(tuple)
	if err != nil {
		return "", fmt.Errorf("InvocationKey: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainInvocation, canonical), nil
}

// ShapeKey computes the process-wide cache key for a built rule graph:
// the goal type plus the sorted set of root-available type names. Graphs
// carry no concrete values, so one shape serves every session that shares it.
func ShapeKey(goal string, available []string) string {
	sorted := slices.Clone(available)
	slices.Sort(sorted)

	set := make(List, 0, len(sorted))
	for _, name := range sorted {
		set = append(set, String(name))
	}
	obj := Record{
		"goal":      String(goal),
		"available": set,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// Type names and strings always marshal; reaching here is a bug.
		panic(fmt.Sprintf("ShapeKey: %v", err))
	}

	return hashWithDomain(DomainShape, canonical)
}

// MustInvocationKey is like InvocationKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustInvocationKey(ruleID string, inputs []Value) string {
	key, err := InvocationKey(ruleID, inputs)
	if err != nil {
		panic(err)
	}
	return key
}
