// Package graph builds and validates rule graphs: the acyclic plan of rules
// needed to derive a goal type from a set of root-available types.
//
// Graphs carry no concrete values. A built graph is immutable and is shared
// by every session whose request has the same shape (goal type plus
// available-type set).
package graph

import (
	"sort"

	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
)

// SourceKind distinguishes where a node input comes from.
type SourceKind int

const (
	// SourceRoot means the input is supplied directly by the caller.
	SourceRoot SourceKind = iota + 1
	// SourceRule means the input is produced by another node in the graph.
	SourceRule
)

// InputSource binds one declared parameter of a rule to its resolved
// origin: either a root-available type or a producer node.
type InputSource struct {
	Param SourceParam
	Kind  SourceKind

	// RootType is the concrete available type chosen for a SourceRoot
	// binding. It may be a union member of the declared parameter type.
	RootType *types.Type

	// Node is the producer for a SourceRule binding.
	Node *Node
}

// SourceParam mirrors the declared parameter this source satisfies.
type SourceParam struct {
	Name string
	Type *types.Type
}

// Node is one rule occurrence in a graph with every input resolved.
// A rule appears at most once per graph (structural sharing).
type Node struct {
	Rule   *rules.Rule
	Inputs []InputSource
}

// Dependencies returns the producer nodes this node consumes, in parameter
// order, without duplicates.
func (n *Node) Dependencies() []*Node {
	var deps []*Node
	seen := make(map[*Node]bool)
	for _, in := range n.Inputs {
		if in.Kind == SourceRule && !seen[in.Node] {
			seen[in.Node] = true
			deps = append(deps, in.Node)
		}
	}
	return deps
}

// Graph is a validated, immutable rule graph.
type Graph struct {
	// Goal is the requested root output type.
	Goal *types.Type

	// Available holds the root-available types the graph was built against.
	Available []*types.Type

	// Root is the node producing the goal type.
	Root *Node

	// Nodes lists every node in topological order: dependencies always
	// precede their dependents.
	Nodes []*Node
}

// RootTypes returns the root-available types actually consumed by the
// graph, sorted by name, without duplicates.
func (g *Graph) RootTypes() []*types.Type {
	seen := make(map[*types.Type]bool)
	var out []*types.Type
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in.Kind == SourceRoot && !seen[in.RootType] {
				seen[in.RootType] = true
				out = append(out, in.RootType)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
