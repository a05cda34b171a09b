package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

func nopBody(ctx context.Context, env rules.Env) (value.Value, error) {
	return value.Int(0), nil
}

func mustRegister(t *testing.T, reg *rules.Registry, rule *rules.Rule) {
	t.Helper()
	require.NoError(t, reg.Register(rule))
}

func TestBuild_ChainOfRules(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{ID: "base-int", Output: intT, Body: nopBody})
	mustRegister(t, reg, &rules.Rule{
		ID:     "int-to-string",
		Params: []rules.Param{{Name: "n", Type: intT}},
		Output: strT,
		Body:   nopBody,
	})

	g, err := Build(reg, strT, nil)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "base-int", g.Nodes[0].Rule.ID, "dependencies come first")
	assert.Equal(t, "int-to-string", g.Nodes[1].Rule.ID)
	assert.Same(t, g.Nodes[1], g.Root)

	require.Len(t, g.Root.Inputs, 1)
	in := g.Root.Inputs[0]
	assert.Equal(t, SourceRule, in.Kind)
	assert.Same(t, g.Nodes[0], in.Node)
	assert.Equal(t, "n", in.Param.Name)
}

func TestBuild_RootBindingPreferredOverRule(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")
	reg := rules.NewRegistry(treg)

	// Even with a producer for Int registered, a root-available Int wins.
	mustRegister(t, reg, &rules.Rule{ID: "base-int", Output: intT, Body: nopBody})
	mustRegister(t, reg, &rules.Rule{
		ID:     "int-to-string",
		Params: []rules.Param{{Name: "n", Type: intT}},
		Output: strT,
		Body:   nopBody,
	})

	g, err := Build(reg, strT, []*types.Type{intT})
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	in := g.Root.Inputs[0]
	assert.Equal(t, SourceRoot, in.Kind)
	assert.Same(t, intT, in.RootType)
	assert.Equal(t, []*types.Type{intT}, g.RootTypes())
}

func TestBuild_DiamondIsAmbiguous(t *testing.T) {
	treg := types.NewRegistry()
	strT := treg.MustRegister("String")
	intT := treg.MustRegister("Int")
	boolT := treg.MustRegister("Bool")
	reg := rules.NewRegistry(treg)

	// Two ways to an Int from a String: direct, and via Bool. Both fully
	// resolve at equal specificity, so neither may be picked silently.
	mustRegister(t, reg, &rules.Rule{
		ID: "str-to-int", Params: []rules.Param{{Name: "s", Type: strT}}, Output: intT, Body: nopBody,
	})
	mustRegister(t, reg, &rules.Rule{
		ID: "str-to-bool", Params: []rules.Param{{Name: "s", Type: strT}}, Output: boolT, Body: nopBody,
	})
	mustRegister(t, reg, &rules.Rule{
		ID: "bool-to-int", Params: []rules.Param{{Name: "b", Type: boolT}}, Output: intT, Body: nopBody,
	})

	_, err := Build(reg, intT, []*types.Type{strT})
	require.Error(t, err)
	assert.True(t, IsAmbiguousRule(err))

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "Int", be.Type)
	assert.ElementsMatch(t, []string{"str-to-int", "bool-to-int"}, be.Candidates)
}

func TestBuild_CycleNamesChain(t *testing.T) {
	treg := types.NewRegistry()
	aT := treg.MustRegister("A")
	bT := treg.MustRegister("B")
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{
		ID: "b-to-a", Params: []rules.Param{{Name: "b", Type: bT}}, Output: aT, Body: nopBody,
	})
	mustRegister(t, reg, &rules.Rule{
		ID: "a-to-b", Params: []rules.Param{{Name: "a", Type: aT}}, Output: bT, Body: nopBody,
	})

	_, err := Build(reg, aT, nil)
	require.Error(t, err)
	assert.True(t, IsCyclicDependency(err))

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []string{"A", "B", "A"}, be.Chain)
	assert.Contains(t, be.Error(), "A -> B -> A")

	// Either endpoint of the cycle fails the same way.
	_, err = Build(reg, bT, nil)
	assert.True(t, IsCyclicDependency(err))
}

func TestBuild_MissingRuleWithChain(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{
		ID: "int-to-string", Params: []rules.Param{{Name: "n", Type: intT}}, Output: strT, Body: nopBody,
	})

	_, err := Build(reg, strT, nil)
	require.Error(t, err)
	assert.True(t, IsMissingRule(err))

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "Int", be.Type)
	assert.Equal(t, []string{"String", "Int"}, be.Chain)
}

func TestBuild_MissingGoalType(t *testing.T) {
	treg := types.NewRegistry()
	strT := treg.MustRegister("String")
	reg := rules.NewRegistry(treg)

	_, err := Build(reg, strT, nil)
	require.Error(t, err)
	assert.True(t, IsMissingRule(err))

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []string{"String"}, be.Chain)
}

func TestBuild_StructuralSharing(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")
	boolT := treg.MustRegister("Bool")
	resT := treg.MustRegister("Result")
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{ID: "base-int", Output: intT, Body: nopBody})
	mustRegister(t, reg, &rules.Rule{
		ID: "left", Params: []rules.Param{{Name: "n", Type: intT}}, Output: strT, Body: nopBody,
	})
	mustRegister(t, reg, &rules.Rule{
		ID: "right", Params: []rules.Param{{Name: "n", Type: intT}}, Output: boolT, Body: nopBody,
	})
	mustRegister(t, reg, &rules.Rule{
		ID:     "top",
		Params: []rules.Param{{Name: "s", Type: strT}, {Name: "b", Type: boolT}},
		Output: resT,
		Body:   nopBody,
	})

	g, err := Build(reg, resT, nil)
	require.NoError(t, err)

	// base-int appears once even though both branches consume it.
	require.Len(t, g.Nodes, 4)
	assert.Equal(t, "base-int", g.Nodes[0].Rule.ID)

	var left, right *Node
	for _, n := range g.Nodes {
		switch n.Rule.ID {
		case "left":
			left = n
		case "right":
			right = n
		}
	}
	require.NotNil(t, left)
	require.NotNil(t, right)
	assert.Same(t, left.Inputs[0].Node, right.Inputs[0].Node)
}

func TestBuild_UnionMemberSatisfiesRootParam(t *testing.T) {
	treg := types.NewRegistry()
	animal := treg.MustRegister("Animal")
	dog := treg.MustRegister("Dog")
	strT := treg.MustRegister("String")
	require.NoError(t, treg.DeclareUnion(animal, dog))
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{
		ID: "describe", Params: []rules.Param{{Name: "a", Type: animal}}, Output: strT, Body: nopBody,
	})

	g, err := Build(reg, strT, []*types.Type{dog})
	require.NoError(t, err)

	in := g.Root.Inputs[0]
	assert.Equal(t, SourceRoot, in.Kind)
	assert.Same(t, dog, in.RootType)
	assert.Same(t, animal, in.Param.Type)
}

func TestBuild_ExactRootBeatsUnionMember(t *testing.T) {
	treg := types.NewRegistry()
	animal := treg.MustRegister("Animal")
	dog := treg.MustRegister("Dog")
	strT := treg.MustRegister("String")
	require.NoError(t, treg.DeclareUnion(animal, dog))
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{
		ID: "describe", Params: []rules.Param{{Name: "a", Type: animal}}, Output: strT, Body: nopBody,
	})

	g, err := Build(reg, strT, []*types.Type{dog, animal})
	require.NoError(t, err)
	assert.Same(t, animal, g.Root.Inputs[0].RootType)
}

func TestBuild_TiedUnionRootsAreAmbiguous(t *testing.T) {
	treg := types.NewRegistry()
	animal := treg.MustRegister("Animal")
	dog := treg.MustRegister("Dog")
	cat := treg.MustRegister("Cat")
	strT := treg.MustRegister("String")
	require.NoError(t, treg.DeclareUnion(animal, dog, cat))
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{
		ID: "describe", Params: []rules.Param{{Name: "a", Type: animal}}, Output: strT, Body: nopBody,
	})

	_, err := Build(reg, strT, []*types.Type{dog, cat})
	require.Error(t, err)
	assert.True(t, IsAmbiguousRule(err))

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.ElementsMatch(t, []string{"Dog", "Cat"}, be.Candidates)
}

func TestBuild_ExactProducerBeatsUnionProducer(t *testing.T) {
	treg := types.NewRegistry()
	animal := treg.MustRegister("Animal")
	dog := treg.MustRegister("Dog")
	strT := treg.MustRegister("String")
	require.NoError(t, treg.DeclareUnion(animal, dog))
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{
		ID: "make-dog", Params: []rules.Param{{Name: "s", Type: strT}}, Output: dog, Body: nopBody,
	})
	mustRegister(t, reg, &rules.Rule{
		ID: "make-animal", Params: []rules.Param{{Name: "s", Type: strT}}, Output: animal, Body: nopBody,
	})

	g, err := Build(reg, animal, []*types.Type{strT})
	require.NoError(t, err)
	assert.Equal(t, "make-animal", g.Root.Rule.ID)
}

func TestShapeCache_ReusesGraphs(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")
	boolT := treg.MustRegister("Bool")
	reg := rules.NewRegistry(treg)

	mustRegister(t, reg, &rules.Rule{
		ID: "int-to-string", Params: []rules.Param{{Name: "n", Type: intT}}, Output: strT, Body: nopBody,
	})

	cache := NewShapeCache()

	g1, err := cache.Build(reg, strT, []*types.Type{intT, boolT})
	require.NoError(t, err)

	// Same shape regardless of available-type order.
	g2, err := cache.Build(reg, strT, []*types.Type{boolT, intT})
	require.NoError(t, err)
	assert.Same(t, g1, g2)
	assert.Equal(t, 1, cache.Len())

	g3, err := cache.Build(reg, strT, []*types.Type{intT})
	require.NoError(t, err)
	assert.NotSame(t, g1, g3)
	assert.Equal(t, 2, cache.Len())
}

func TestShapeCache_CachesFailures(t *testing.T) {
	treg := types.NewRegistry()
	strT := treg.MustRegister("String")
	reg := rules.NewRegistry(treg)

	cache := NewShapeCache()

	_, err1 := cache.Build(reg, strT, nil)
	require.Error(t, err1)
	assert.True(t, IsMissingRule(err1))

	_, err2 := cache.Build(reg, strT, nil)
	require.Error(t, err2)
	assert.Same(t, err1.(*BuildError), err2.(*BuildError))
	assert.Equal(t, 1, cache.Len())
}
