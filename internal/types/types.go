// Package types implements the type registry of the rule engine: interned
// type handles, declared union/subtype relations, and the specificity
// ordering used to rank candidate rules.
//
// Types are nominal. Two registrations of the same name must agree on the
// structural definition (the parameter list); a disagreement is a
// configuration error reported at registration time, never at request time.
package types

import (
	"fmt"
	"strings"
	"sync"
)

// Type is an interned type handle. Exactly one *Type exists per distinct
// definition per registry, so equality is pointer identity.
type Type struct {
	name   string
	params []string
}

// Name returns the bare type name without parameters.
func (t *Type) Name() string {
	return t.name
}

// Params returns the generic parameter names, if any.
func (t *Type) Params() []string {
	return t.params
}

// String renders the full display name, e.g. "List[Int]".
func (t *Type) String() string {
	if len(t.params) == 0 {
		return t.name
	}
	return t.name + "[" + strings.Join(t.params, ",") + "]"
}

// ConflictError reports a registration whose name collides with a different
// structural definition already interned in the registry.
type ConflictError struct {
	Name     string
	Existing string
	Proposed string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("type %q already registered as %s, conflicting definition %s", e.Name, e.Existing, e.Proposed)
}

// Registry interns types and records union membership. It is append-only:
// callers register everything up front and share the registry read-only
// afterwards.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Type
	parents map[*Type][]*Type // member -> unions it belongs to
	members map[*Type][]*Type // union -> members, declaration order
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Type),
		parents: make(map[*Type][]*Type),
		members: make(map[*Type][]*Type),
	}
}

// Register interns a type and returns its canonical handle. Registering the
// same definition twice returns the existing handle; registering the same
// name with different parameters returns a *ConflictError.
func (r *Registry) Register(name string, params ...string) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("type name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if !sameParams(existing.params, params) {
			return nil, &ConflictError{
				Name:     name,
				Existing: existing.String(),
				Proposed: (&Type{name: name, params: params}).String(),
			}
		}
		return existing, nil
	}

	t := &Type{name: name, params: append([]string(nil), params...)}
	r.byName[name] = t
	return t, nil
}

// MustRegister is like Register but panics on error.
// Use only in tests or when names are known to be unique.
func (r *Registry) MustRegister(name string, params ...string) *Type {
	t, err := r.Register(name, params...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the interned handle for a name, if registered.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byName[name]
	return t, ok
}

// DeclareUnion records that each member type is acceptable wherever the
// union type is required. Declaring a membership that would make a type
// transitively a member of itself is rejected.
func (r *Registry) DeclareUnion(union *Type, members ...*Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, member := range members {
		if member == union {
			return fmt.Errorf("type %s cannot be a member of itself", union)
		}
		// Adding member -> union must not close a membership loop.
		if r.assignableLocked(union, member) {
			return fmt.Errorf("union membership cycle: %s is already assignable to %s", union, member)
		}
		if r.hasParentLocked(member, union) {
			continue // already declared
		}
		r.parents[member] = append(r.parents[member], union)
		r.members[union] = append(r.members[union], member)
	}
	return nil
}

// Members returns the direct members of a union in declaration order.
func (r *Registry) Members(union *Type) []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Type, len(r.members[union]))
	copy(out, r.members[union])
	return out
}

// AssignableTo reports whether values of type a are acceptable wherever
// type b is required. The relation is reflexive and follows declared union
// memberships transitively.
func (r *Registry) AssignableTo(a, b *Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.assignableLocked(a, b)
}

// Specificity returns the membership distance from candidate up to
// requested: 0 for an exact match, 1 for a direct member, and so on.
// ok is false when candidate is not assignable to requested.
func (r *Registry) Specificity(candidate, requested *Type) (int, bool) {
	if candidate == requested {
		return 0, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// BFS over parent edges; unions are expected to stay shallow.
	type hop struct {
		t     *Type
		depth int
	}
	visited := map[*Type]bool{candidate: true}
	queue := []hop{{candidate, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, parent := range r.parents[cur.t] {
			if parent == requested {
				return cur.depth + 1, true
			}
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, hop{parent, cur.depth + 1})
			}
		}
	}
	return 0, false
}

func (r *Registry) assignableLocked(a, b *Type) bool {
	if a == b {
		return true
	}
	visited := map[*Type]bool{a: true}
	stack := []*Type{a}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, parent := range r.parents[cur] {
			if parent == b {
				return true
			}
			if !visited[parent] {
				visited[parent] = true
				stack = append(stack, parent)
			}
		}
	}
	return false
}

func (r *Registry) hasParentLocked(member, union *Type) bool {
	for _, p := range r.parents[member] {
		if p == union {
			return true
		}
	}
	return false
}

func sameParams(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
