package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter/internal/engine"
	"github.com/arbiterhq/arbiter/internal/manifest"
	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/testutil"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

// DefaultToken is the session token for scenarios that don't fix their own.
const DefaultToken = "trace-session"

// Result is the outcome of one scenario run.
type Result struct {
	// Pass indicates the outcome matched the scenario's expectations.
	Pass bool

	// Value is the resolved goal value. Nil when resolution failed.
	Value value.Value

	// Err is the resolution error. Nil when resolution succeeded.
	Err error

	// Token is the session token.
	Token string

	// Trace lists the session's events in logical-clock order. Empty when
	// resolution failed before producing a result.
	Trace []engine.TraceEvent

	// CacheEntries is the number of memoized executions in the session.
	CacheEntries int

	// Failures lists expectation mismatches. Empty if Pass is true.
	Failures []string
}

func (r *Result) fail(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes a scenario against a fresh engine. Registries, the engine,
// and the session are built from scratch so scenarios stay isolated.
// Execution is single-worker with a fixed session token, so the trace is
// reproducible run to run.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	treg := types.NewRegistry()
	reg := rules.NewRegistry(treg)
	if err := manifest.Bind(scenario.toManifest(), BuiltinBodies(treg), treg, reg); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	engineFacts, err := toFacts(treg, scenario.Facts)
	if err != nil {
		return nil, fmt.Errorf("scenario %s facts: %w", scenario.Name, err)
	}
	requestFacts, err := toFacts(treg, scenario.Request.Facts)
	if err != nil {
		return nil, fmt.Errorf("scenario %s request facts: %w", scenario.Name, err)
	}

	token := scenario.Token
	if token == "" {
		token = DefaultToken
	}

	eng, err := engine.New(reg,
		engine.WithWorkers(1),
		engine.WithTokenGenerator(testutil.NewFixedTokens(token)),
		engine.WithFacts(engineFacts...),
	)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	goal, ok := treg.Lookup(scenario.Request.Goal)
	if !ok {
		return nil, fmt.Errorf("scenario %s: goal type %q not declared", scenario.Name, scenario.Request.Goal)
	}

	result := &Result{Pass: true, Token: token}
	res, err := eng.ResolveDetailed(ctx, goal, requestFacts...)
	if err != nil {
		result.Err = err
	} else {
		result.Value = res.Value
		result.Trace = res.Trace
		result.CacheEntries = res.CacheEntries
	}

	evaluate(scenario, result)
	return result, nil
}

// evaluate checks the scenario's expect clause against the outcome.
func evaluate(scenario *Scenario, r *Result) {
	expect := scenario.Expect

	if expect.Error != "" {
		if r.Err == nil {
			r.fail("expected error containing %q, request resolved", expect.Error)
		} else if !strings.Contains(r.Err.Error(), expect.Error) {
			r.fail("expected error containing %q, got %q", expect.Error, r.Err.Error())
		}
		return
	}

	if r.Err != nil {
		r.fail("expected a value, request failed: %v", r.Err)
		return
	}

	want, err := value.FromGo(expect.Value)
	if err != nil {
		r.fail("expect.value is not representable: %v", err)
		return
	}
	if !value.Equal(r.Value, want) {
		r.fail("expected value %v, got %v", renderValue(want), renderValue(r.Value))
	}

	if expect.CacheEntries > 0 && r.CacheEntries != expect.CacheEntries {
		r.fail("expected %d cache entries, got %d", expect.CacheEntries, r.CacheEntries)
	}
}

func toFacts(treg *types.Registry, steps []FactStep) ([]rules.Fact, error) {
	facts := make([]rules.Fact, 0, len(steps))
	for _, step := range steps {
		t, ok := treg.Lookup(step.Type)
		if !ok {
			return nil, fmt.Errorf("fact type %q not declared", step.Type)
		}
		v, err := value.FromGo(step.Value)
		if err != nil {
			return nil, fmt.Errorf("fact of type %s: %w", step.Type, err)
		}
		facts = append(facts, rules.NewFact(t, v))
	}
	return facts, nil
}

func renderValue(v value.Value) string {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
