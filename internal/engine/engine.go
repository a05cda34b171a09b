package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arbiterhq/arbiter/internal/graph"
	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

// DefaultWorkers bounds concurrently executing rule bodies per request.
const DefaultWorkers = 4

// DefaultMaxDepth bounds nested sub-request depth. A body chain deeper than
// this almost certainly recurses through Get without making progress.
const DefaultMaxDepth = 64

// ResultStore is an optional cross-session cache of successful results,
// keyed identically to the session cache. Implemented by store.Store.
type ResultStore interface {
	// Get returns the stored value for key, if present.
	Get(ctx context.Context, key string) (value.Value, bool, error)

	// Put records a successful result. Overwriting an existing key with the
	// same value must be idempotent.
	Put(ctx context.Context, key, ruleID string, v value.Value) error
}

// Engine serves Resolve requests over a sealed rule registry.
//
// Construction-time state (facts, store, workers) is frozen by the first
// Resolve. After that the engine is safe for concurrent use: registries and
// built graphs are immutable, and every request runs in its own session.
type Engine struct {
	rules  *rules.Registry
	shapes *graph.ShapeCache

	mu     sync.Mutex
	facts  map[*types.Type]value.Value
	sealed bool

	store    ResultStore
	workers  int
	maxDepth int
	tokens   TokenGenerator

	initErr error
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithFacts supplies engine-level facts: values available to every request
// as root inputs. Duplicate types across WithFacts calls fail construction.
func WithFacts(facts ...rules.Fact) Option {
	return func(e *Engine) {
		for _, f := range facts {
			if f.Type == nil || f.Value == nil {
				e.initErr = fmt.Errorf("engine fact must carry a type and a value")
				return
			}
			if _, dup := e.facts[f.Type]; dup {
				e.initErr = fmt.Errorf("duplicate engine fact of type %s", f.Type)
				return
			}
			e.facts[f.Type] = f.Value
		}
	}
}

// WithStore wires a cross-session result store.
func WithStore(s ResultStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithWorkers bounds concurrently executing rule bodies per request.
// One worker executes nodes sequentially in topological order, which makes
// traces reproducible.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithMaxDepth bounds nested sub-request depth.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.maxDepth = n
	}
}

// WithTokenGenerator replaces the session token source. Tests use
// testutil.FixedTokens for reproducible traces.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// New creates an engine over a rule registry. The registry may still be
// open; the first Resolve seals it.
func New(reg *rules.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("rule registry must not be nil")
	}
	e := &Engine{
		rules:    reg,
		shapes:   graph.NewShapeCache(),
		facts:    make(map[*types.Type]value.Value),
		workers:  DefaultWorkers,
		maxDepth: DefaultMaxDepth,
		tokens:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.initErr != nil {
		return nil, e.initErr
	}
	return e, nil
}

// AssertFacts adds engine-level facts. Fails after the first Resolve, or on
// a type already asserted.
func (e *Engine) AssertFacts(facts ...rules.Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		return fmt.Errorf("engine is sealed: facts are frozen by the first request")
	}
	for _, f := range facts {
		if f.Type == nil || f.Value == nil {
			return fmt.Errorf("engine fact must carry a type and a value")
		}
		if _, dup := e.facts[f.Type]; dup {
			return fmt.Errorf("fact of type %s already asserted", f.Type)
		}
	}
	for _, f := range facts {
		e.facts[f.Type] = f.Value
	}
	return nil
}

// RetractFacts removes engine-level facts. Fails after the first Resolve,
// on an absent type, or when the given value does not match the asserted one.
func (e *Engine) RetractFacts(facts ...rules.Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		return fmt.Errorf("engine is sealed: facts are frozen by the first request")
	}
	for _, f := range facts {
		current, ok := e.facts[f.Type]
		if !ok {
			return fmt.Errorf("no fact of type %s asserted", f.Type)
		}
		if !value.Equal(current, f.Value) {
			return fmt.Errorf("fact of type %s does not match the asserted value", f.Type)
		}
	}
	for _, f := range facts {
		delete(e.facts, f.Type)
	}
	return nil
}

// Result carries everything a Resolve produced beyond the value itself.
type Result struct {
	// Value is the resolved goal value.
	Value value.Value
	// Token is the session token.
	Token string
	// Trace lists the session's events in logical-clock order.
	Trace []TraceEvent
	// CacheEntries is the number of distinct (rule, inputs) executions the
	// session memoized.
	CacheEntries int
}

// Resolve derives a value of the goal type from the engine facts plus the
// given request facts. Each call runs in a fresh session.
func (e *Engine) Resolve(ctx context.Context, goal *types.Type, facts ...rules.Fact) (value.Value, error) {
	res, err := e.ResolveDetailed(ctx, goal, facts...)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// ResolveDetailed is Resolve plus the session token, trace, and cache stats.
func (e *Engine) ResolveDetailed(ctx context.Context, goal *types.Type, facts ...rules.Fact) (*Result, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal type must not be nil")
	}
	e.seal()

	reqFacts, err := rules.NewParams(facts...)
	if err != nil {
		return nil, fmt.Errorf("request facts: %w", err)
	}
	roots := e.engineParams().Merge(reqFacts)

	// A goal directly bound as a fact resolves to it without any rule
	// running. Facts outrank derivation.
	if v, ok := roots.Get(goal); ok {
		sess := newSession(e.tokens.Generate())
		sess.record(TraceRequest, TraceEvent{Type: goal.String()})
		sess.record(TraceResolved, TraceEvent{Type: goal.String()})
		slog.Debug("request satisfied by fact",
			"goal", goal.String(),
			"session", sess.Token,
		)
		return &Result{Value: v, Token: sess.Token, Trace: sess.Trace()}, nil
	}

	g, err := e.shapes.Build(e.rules, goal, roots.Types())
	if err != nil {
		return nil, err
	}

	sess := newSession(e.tokens.Generate())
	slog.Debug("request accepted",
		"goal", goal.String(),
		"available", roots.TypeNames(),
		"session", sess.Token,
	)

	x := &executor{eng: e, sess: sess}
	v, err := x.run(ctx, g, roots)
	if err != nil {
		slog.Debug("request failed",
			"goal", goal.String(),
			"session", sess.Token,
			"error", err,
		)
		return nil, err
	}

	slog.Debug("request resolved",
		"goal", goal.String(),
		"session", sess.Token,
		"cache_entries", sess.Cache.Len(),
	)
	return &Result{
		Value:        v,
		Token:        sess.Token,
		Trace:        sess.Trace(),
		CacheEntries: sess.Cache.Len(),
	}, nil
}

// Inspect builds (or reuses) the graph for a goal against the engine facts
// plus the given fact types, without executing anything. Diagnostics helper
// behind the CLI graph command.
func (e *Engine) Inspect(goal *types.Type, available ...*types.Type) (*graph.Graph, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal type must not be nil")
	}
	e.seal()

	seen := make(map[*types.Type]bool)
	var avail []*types.Type
	for t := range e.snapshotFacts() {
		if !seen[t] {
			seen[t] = true
			avail = append(avail, t)
		}
	}
	for _, t := range available {
		if !seen[t] {
			seen[t] = true
			avail = append(avail, t)
		}
	}
	return e.shapes.Build(e.rules, goal, avail)
}

// seal freezes the rule registry and the engine facts. Idempotent.
func (e *Engine) seal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sealed {
		e.sealed = true
		e.rules.Seal()
	}
}

func (e *Engine) snapshotFacts() map[*types.Type]value.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[*types.Type]value.Value, len(e.facts))
	for t, v := range e.facts {
		out[t] = v
	}
	return out
}

// engineParams returns the engine facts as an immutable parameter set.
func (e *Engine) engineParams() rules.Params {
	snapshot := e.snapshotFacts()
	facts := make([]rules.Fact, 0, len(snapshot))
	for t, v := range snapshot {
		facts = append(facts, rules.NewFact(t, v))
	}
	return rules.MustParams(facts...)
}
