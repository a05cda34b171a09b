package graph

import (
	"fmt"
	"sort"

	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
)

// Build produces a rule graph deriving goal from the given root-available
// types, or a classified *BuildError.
//
// Resolution is a depth-first search over the candidates returned by the
// rule registry. For each input parameter of a candidate: a root binding is
// preferred when an available type is assignable to the parameter;
// otherwise the parameter type is resolved recursively. The chain of types
// currently under resolution detects cycles. Of the candidates whose inputs
// all resolve, the most specific output wins; a tie at equal specificity is
// an ambiguity failure naming every tied rule.
func Build(reg *rules.Registry, goal *types.Type, available []*types.Type) (*Graph, error) {
	if goal == nil {
		return nil, fmt.Errorf("goal type must not be nil")
	}

	avail := make([]*types.Type, len(available))
	copy(avail, available)
	sort.Slice(avail, func(i, j int) bool { return avail[i].String() < avail[j].String() })

	b := &builder{
		reg:       reg,
		treg:      reg.Types(),
		goal:      goal,
		avail:     avail,
		resolving: make(map[*types.Type]bool),
		resolved:  make(map[*types.Type]*Node),
		ruleNodes: make(map[*rules.Rule]*Node),
	}

	root, buildErr := b.resolveType(goal)
	if buildErr != nil {
		return nil, buildErr
	}

	return &Graph{
		Goal:      goal,
		Available: avail,
		Root:      root,
		Nodes:     topoOrder(root),
	}, nil
}

type builder struct {
	reg   *rules.Registry
	treg  *types.Registry
	goal  *types.Type
	avail []*types.Type

	// resolving holds the recursion stack for cycle detection; chain keeps
	// the same types in order for diagnostics.
	resolving map[*types.Type]bool
	chain     []string

	// resolved memoizes sub-builds within this build so the same type
	// always maps to the same node (structural sharing). ruleNodes dedupes
	// nodes when two requested types land on one rule.
	resolved  map[*types.Type]*Node
	ruleNodes map[*rules.Rule]*Node
}

func (b *builder) resolveType(t *types.Type) (*Node, *BuildError) {
	if node, ok := b.resolved[t]; ok {
		return node, nil
	}
	if b.resolving[t] {
		return nil, &BuildError{
			Code:  CodeCyclicDependency,
			Goal:  b.goal.String(),
			Type:  t.String(),
			Chain: append(append([]string{}, b.chain...), t.String()),
		}
	}

	candidates := b.reg.RulesFor(t)
	if len(candidates) == 0 {
		return nil, &BuildError{
			Code:  CodeMissingRule,
			Goal:  b.goal.String(),
			Type:  t.String(),
			Chain: append(append([]string{}, b.chain...), t.String()),
		}
	}

	b.resolving[t] = true
	b.chain = append(b.chain, t.String())
	defer func() {
		delete(b.resolving, t)
		b.chain = b.chain[:len(b.chain)-1]
	}()

	type winner struct {
		cand rules.Candidate
		node *Node
	}
	var satisfied []winner
	var nested *BuildError // best nested diagnosis among failed candidates

	for _, cand := range candidates {
		node, candErr := b.resolveRule(cand.Rule)
		if candErr != nil {
			nested = preferNested(nested, candErr)
			continue
		}
		satisfied = append(satisfied, winner{cand, node})
	}

	if len(satisfied) == 0 {
		if nested != nil {
			return nil, nested
		}
		return nil, &BuildError{
			Code:  CodeMissingRule,
			Goal:  b.goal.String(),
			Type:  t.String(),
			Chain: append([]string{}, b.chain...),
		}
	}

	// Specificity is the only sanctioned tie-break: an exact output beats a
	// union member. Equal specificity among the best is ambiguous.
	best := satisfied[0].cand.Specificity
	for _, w := range satisfied[1:] {
		if w.cand.Specificity < best {
			best = w.cand.Specificity
		}
	}
	var tied []winner
	for _, w := range satisfied {
		if w.cand.Specificity == best {
			tied = append(tied, w)
		}
	}
	if len(tied) > 1 {
		ids := make([]string, len(tied))
		for i, w := range tied {
			ids[i] = w.cand.Rule.ID
		}
		return nil, &BuildError{
			Code:       CodeAmbiguousRule,
			Goal:       b.goal.String(),
			Type:       t.String(),
			Chain:      append([]string{}, b.chain...),
			Candidates: ids,
		}
	}

	node := tied[0].node
	b.resolved[t] = node
	return node, nil
}

// resolveRule binds every declared parameter of a rule, returning the node
// or the failure that disqualified the candidate.
func (b *builder) resolveRule(rule *rules.Rule) (*Node, *BuildError) {
	if node, ok := b.ruleNodes[rule]; ok {
		return node, nil
	}

	inputs := make([]InputSource, 0, len(rule.Params))
	for _, p := range rule.Params {
		src, err := b.bindParam(p)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, src)
	}

	node := &Node{Rule: rule, Inputs: inputs}
	b.ruleNodes[rule] = node
	return node, nil
}

// bindParam resolves one declared parameter: a root binding when an
// available type is assignable (the unique most specific one), otherwise a
// recursive rule resolution.
func (b *builder) bindParam(p rules.Param) (InputSource, *BuildError) {
	var rootMatches []*types.Type
	bestDepth := -1
	for _, a := range b.avail {
		depth, ok := b.treg.Specificity(a, p.Type)
		if !ok {
			continue
		}
		switch {
		case bestDepth == -1 || depth < bestDepth:
			bestDepth = depth
			rootMatches = []*types.Type{a}
		case depth == bestDepth:
			rootMatches = append(rootMatches, a)
		}
	}

	switch {
	case len(rootMatches) == 1:
		return InputSource{
			Param:    SourceParam{Name: p.Name, Type: p.Type},
			Kind:     SourceRoot,
			RootType: rootMatches[0],
		}, nil
	case len(rootMatches) > 1:
		names := make([]string, len(rootMatches))
		for i, m := range rootMatches {
			names[i] = m.String()
		}
		return InputSource{}, &BuildError{
			Code:       CodeAmbiguousRule,
			Goal:       b.goal.String(),
			Type:       p.Type.String(),
			Chain:      append(append([]string{}, b.chain...), p.Type.String()),
			Candidates: names,
		}
	}

	node, err := b.resolveType(p.Type)
	if err != nil {
		return InputSource{}, err
	}
	return InputSource{
		Param: SourceParam{Name: p.Name, Type: p.Type},
		Kind:  SourceRule,
		Node:  node,
	}, nil
}

// preferNested keeps the most specific diagnosis among failed candidates:
// an ambiguity or a cycle explains more than a generic missing-rule.
func preferNested(current, next *BuildError) *BuildError {
	if current == nil {
		return next
	}
	if rankCode(next.Code) > rankCode(current.Code) {
		return next
	}
	return current
}

func rankCode(code ErrorCode) int {
	switch code {
	case CodeCyclicDependency:
		return 3
	case CodeAmbiguousRule:
		return 2
	default:
		return 1
	}
}

// topoOrder lists the nodes reachable from root with dependencies always
// before dependents (DFS post-order).
func topoOrder(root *Node) []*Node {
	var out []*Node
	visited := make(map[*Node]bool)

	var walk func(*Node)
	walk = func(n *Node) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, dep := range n.Dependencies() {
			walk(dep)
		}
		out = append(out, n)
	}

	walk(root)
	return out
}
