// Package testutil provides deterministic helpers for engine tests:
// predictable session tokens and concise value construction.
package testutil

import (
	"fmt"
	"sync"

	"github.com/arbiterhq/arbiter/internal/value"
)

// FixedTokens returns predetermined session tokens in order. This enables
// deterministic test execution and golden trace comparison.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokens creates a generator that returns tokens in order.
//
// Example:
//
//	gen := testutil.NewFixedTokens("session-1", "session-2")
//	gen.Generate() // "session-1"
//	gen.Generate() // "session-2"
//	gen.Generate() // panic: all tokens exhausted
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics when all tokens are consumed: fail fast on a test that creates
// more sessions than it declared.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		panic("FixedTokens: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

// SeqTokens generates "token-1", "token-2", ... without a fixed limit.
type SeqTokens struct {
	mu sync.Mutex
	n  int
}

// Generate returns the next sequential token.
func (g *SeqTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("token-%d", g.n)
}

// MustValue converts a Go value via value.FromGo and panics on error.
func MustValue(v any) value.Value {
	out, err := value.FromGo(v)
	if err != nil {
		panic(err)
	}
	return out
}
