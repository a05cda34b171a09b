// Package rules defines the rule model of the engine: typed facts, rule
// declarations with ordered input parameters, and the process-wide rule
// registry indexed by output type.
//
// The registry is write-once: every rule is registered before the first
// request is served, Seal() freezes it, and registration afterwards is an
// error. Sealed registries are shared across sessions without locks.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

// Fact is a concrete value tagged with its semantic type.
type Fact struct {
	Type  *types.Type
	Value value.Value
}

// NewFact builds a fact.
func NewFact(t *types.Type, v value.Value) Fact {
	return Fact{Type: t, Value: v}
}

// Params is a set of facts keyed by type. At most one fact per type.
type Params struct {
	byType map[*types.Type]value.Value
}

// NewParams builds a parameter set. Two facts of the same type are a
// caller error.
func NewParams(facts ...Fact) (Params, error) {
	byType := make(map[*types.Type]value.Value, len(facts))
	for _, f := range facts {
		if f.Type == nil {
			return Params{}, fmt.Errorf("fact has no type")
		}
		if f.Value == nil {
			return Params{}, fmt.Errorf("fact of type %s has no value", f.Type)
		}
		if _, dup := byType[f.Type]; dup {
			return Params{}, fmt.Errorf("duplicate fact of type %s", f.Type)
		}
		byType[f.Type] = f.Value
	}
	return Params{byType: byType}, nil
}

// MustParams is like NewParams but panics on error. Test helper.
func MustParams(facts ...Fact) Params {
	p, err := NewParams(facts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Get returns the value for an exact type, if present.
func (p Params) Get(t *types.Type) (value.Value, bool) {
	v, ok := p.byType[t]
	return v, ok
}

// Types returns the fact types sorted by name for deterministic iteration.
func (p Params) Types() []*types.Type {
	out := make([]*types.Type, 0, len(p.byType))
	for t := range p.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// TypeNames returns the sorted display names of the fact types.
func (p Params) TypeNames() []string {
	ts := p.Types()
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.String()
	}
	return names
}

// Merge returns a new set containing both parameter sets; facts in other
// take precedence on type overlap.
func (p Params) Merge(other Params) Params {
	merged := make(map[*types.Type]value.Value, len(p.byType)+len(other.byType))
	for t, v := range p.byType {
		merged[t] = v
	}
	for t, v := range other.byType {
		merged[t] = v
	}
	return Params{byType: merged}
}

// Len returns the number of facts.
func (p Params) Len() int {
	return len(p.byType)
}

// Env is what a rule body sees while executing: its declared inputs, and
// Get for dynamic sub-requests that were not declared at graph-build time.
// Get suspends the body until the nested request resolves; results already
// memoized in the session are reused.
type Env interface {
	// Input returns the value bound to a declared parameter by local name.
	// Panics on an undeclared name: that is a rule programming error.
	Input(name string) value.Value

	// Get resolves output as a nested request against the session,
	// with the given facts available as root inputs.
	Get(ctx context.Context, output *types.Type, facts ...Fact) (value.Value, error)
}

// BodyFunc is the executable body of a rule.
type BodyFunc func(ctx context.Context, env Env) (value.Value, error)

// Param is one declared input parameter: a local name plus a type.
type Param struct {
	Name string
	Type *types.Type
}

// Rule is an immutable unit of computation from declared input types to one
// output type. Identity is (output type, input type signature, ID).
type Rule struct {
	ID     string
	Params []Param
	Output *types.Type
	Body   BodyFunc
}

// InputTypes returns the declared parameter types in declaration order.
func (r *Rule) InputTypes() []*types.Type {
	out := make([]*types.Type, len(r.Params))
	for i, p := range r.Params {
		out[i] = p.Type
	}
	return out
}

// Signature renders the type-level identity, e.g. "(Int, Bool) -> String".
// Input order is normalized so signature equality means exact duplication.
func (r *Rule) Signature() string {
	names := make([]string, len(r.Params))
	for i, p := range r.Params {
		names[i] = p.Type.String()
	}
	sort.Strings(names)
	return "(" + strings.Join(names, ", ") + ") -> " + r.Output.String()
}

// Candidate is a rule paired with the specificity of its output type for a
// requested type: 0 means exact, higher means further up the union chain.
type Candidate struct {
	Rule        *Rule
	Specificity int
}

// Registry stores all known rules indexed by output type.
type Registry struct {
	mu         sync.RWMutex
	types      *types.Registry
	byOutput   map[*types.Type][]*Rule
	byID       map[string]*Rule
	signatures map[string]*Rule
	order      map[*Rule]int
	nextOrder  int
	sealed     bool
}

// NewRegistry creates an empty rule registry bound to a type registry.
func NewRegistry(treg *types.Registry) *Registry {
	return &Registry{
		types:      treg,
		byOutput:   make(map[*types.Type][]*Rule),
		byID:       make(map[string]*Rule),
		signatures: make(map[string]*Rule),
		order:      make(map[*Rule]int),
	}
}

// Types returns the type registry the rules are declared against.
func (r *Registry) Types() *types.Registry {
	return r.types
}

// Register adds a rule. It fails on a sealed registry, a duplicate ID, or
// an exact duplicate (output type, input type signature): two such rules
// could never be disambiguated.
func (r *Registry) Register(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("rule must not be nil")
	}
	if rule.ID == "" {
		return fmt.Errorf("rule has no ID")
	}
	if rule.Output == nil {
		return fmt.Errorf("rule %s has no output type", rule.ID)
	}
	if rule.Body == nil {
		return fmt.Errorf("rule %s has no body", rule.ID)
	}
	seen := make(map[string]bool, len(rule.Params))
	for _, p := range rule.Params {
		if p.Type == nil {
			return fmt.Errorf("rule %s: parameter %q has no type", rule.ID, p.Name)
		}
		if p.Name == "" {
			return fmt.Errorf("rule %s: parameter of type %s has no name", rule.ID, p.Type)
		}
		if seen[p.Name] {
			return fmt.Errorf("rule %s: duplicate parameter name %q", rule.ID, p.Name)
		}
		seen[p.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry is sealed: cannot register rule %s", rule.ID)
	}
	if _, dup := r.byID[rule.ID]; dup {
		return fmt.Errorf("duplicate rule ID: %s", rule.ID)
	}
	sig := rule.Signature()
	if existing, dup := r.signatures[sig]; dup {
		return fmt.Errorf("rule %s duplicates signature %s of rule %s", rule.ID, sig, existing.ID)
	}

	r.byID[rule.ID] = rule
	r.signatures[sig] = rule
	r.byOutput[rule.Output] = append(r.byOutput[rule.Output], rule)
	r.order[rule] = r.nextOrder
	r.nextOrder++
	return nil
}

// Seal freezes the registry. Idempotent. The engine seals on first Resolve.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// RulesFor returns the candidates able to produce the requested type: every
// rule whose output type is the requested type or assignable to it, ordered
// by specificity (exact output first), then registration order.
func (r *Registry) RulesFor(requested *types.Type) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Candidate
	for output, producers := range r.byOutput {
		depth, ok := r.types.Specificity(output, requested)
		if !ok {
			continue
		}
		for _, rule := range producers {
			out = append(out, Candidate{Rule: rule, Specificity: depth})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Specificity != out[j].Specificity {
			return out[i].Specificity < out[j].Specificity
		}
		return r.order[out[i].Rule] < r.order[out[j].Rule]
	})
	return out
}

// Rule returns a registered rule by ID.
func (r *Registry) Rule(id string) (*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byID[id]
	return rule, ok
}

// OutputTypes enumerates every distinct output type, sorted by name.
// Used by diagnostics tooling.
func (r *Registry) OutputTypes() []*types.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Type, 0, len(r.byOutput))
	for t := range r.byOutput {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
