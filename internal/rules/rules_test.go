package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

func nopBody(ctx context.Context, env Env) (value.Value, error) {
	return value.Int(0), nil
}

func TestParams_DuplicateTypeRejected(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")

	_, err := NewParams(
		NewFact(intT, value.Int(1)),
		NewFact(intT, value.Int(2)),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate fact")
}

func TestParams_Merge(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")

	base := MustParams(NewFact(intT, value.Int(1)))
	over := MustParams(NewFact(intT, value.Int(9)), NewFact(strT, value.String("x")))

	merged := base.Merge(over)
	got, ok := merged.Get(intT)
	require.True(t, ok)
	assert.Equal(t, value.Int(9), got, "facts in the argument take precedence")
	assert.Equal(t, 2, merged.Len())
}

func TestParams_TypesSorted(t *testing.T) {
	treg := types.NewRegistry()
	b := treg.MustRegister("Bravo")
	a := treg.MustRegister("Alpha")

	p := MustParams(NewFact(b, value.Int(1)), NewFact(a, value.Int(2)))
	assert.Equal(t, []string{"Alpha", "Bravo"}, p.TypeNames())
}

func TestRegistry_Register_Validation(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	reg := NewRegistry(treg)

	tests := []struct {
		name    string
		rule    *Rule
		wantErr string
	}{
		{"nil rule", nil, "must not be nil"},
		{"missing id", &Rule{Output: intT, Body: nopBody}, "no ID"},
		{"missing output", &Rule{ID: "r", Body: nopBody}, "no output type"},
		{"missing body", &Rule{ID: "r", Output: intT}, "no body"},
		{
			"unnamed param",
			&Rule{ID: "r", Output: intT, Body: nopBody, Params: []Param{{Type: intT}}},
			"has no name",
		},
		{
			"duplicate param name",
			&Rule{ID: "r", Output: intT, Body: nopBody, Params: []Param{
				{Name: "x", Type: intT}, {Name: "x", Type: treg.MustRegister("Bool")},
			}},
			"duplicate parameter name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.rule)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_Register_DuplicateSignature(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")
	reg := NewRegistry(treg)

	require.NoError(t, reg.Register(&Rule{
		ID:     "r1",
		Params: []Param{{Name: "n", Type: intT}},
		Output: strT,
		Body:   nopBody,
	}))

	err := reg.Register(&Rule{
		ID:     "r2",
		Params: []Param{{Name: "m", Type: intT}},
		Output: strT,
		Body:   nopBody,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicates signature")
	assert.Contains(t, err.Error(), "r1")
}

func TestRegistry_SealBlocksRegistration(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	reg := NewRegistry(treg)

	reg.Seal()
	assert.True(t, reg.Sealed())

	err := reg.Register(&Rule{ID: "late", Output: intT, Body: nopBody})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sealed")
}

func TestRegistry_RulesFor_ExactMatch(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")
	boolT := treg.MustRegister("Bool")
	reg := NewRegistry(treg)

	r1 := &Rule{ID: "r1", Params: []Param{{Name: "s", Type: strT}}, Output: intT, Body: nopBody}
	r2 := &Rule{ID: "r2", Params: []Param{{Name: "b", Type: boolT}}, Output: intT, Body: nopBody}
	require.NoError(t, reg.Register(r1))
	require.NoError(t, reg.Register(r2))

	candidates := reg.RulesFor(intT)
	require.Len(t, candidates, 2)
	assert.Same(t, r1, candidates[0].Rule, "registration order breaks ties")
	assert.Same(t, r2, candidates[1].Rule)

	assert.Empty(t, reg.RulesFor(strT))
}

func TestRegistry_RulesFor_UnionMembers(t *testing.T) {
	treg := types.NewRegistry()
	animal := treg.MustRegister("Animal")
	dog := treg.MustRegister("Dog")
	strT := treg.MustRegister("String")
	require.NoError(t, treg.DeclareUnion(animal, dog))

	reg := NewRegistry(treg)
	makeDog := &Rule{ID: "make-dog", Params: []Param{{Name: "s", Type: strT}}, Output: dog, Body: nopBody}
	require.NoError(t, reg.Register(makeDog))

	// A rule producing Dog satisfies a request for Animal, at distance 1.
	candidates := reg.RulesFor(animal)
	require.Len(t, candidates, 1)
	assert.Same(t, makeDog, candidates[0].Rule)
	assert.Equal(t, 1, candidates[0].Specificity)

	// An exact producer for Animal would outrank the Dog producer.
	makeAnimal := &Rule{ID: "make-animal", Params: []Param{{Name: "s", Type: strT}}, Output: animal, Body: nopBody}
	require.NoError(t, reg.Register(makeAnimal))

	candidates = reg.RulesFor(animal)
	require.Len(t, candidates, 2)
	assert.Same(t, makeAnimal, candidates[0].Rule)
	assert.Equal(t, 0, candidates[0].Specificity)
}

func TestRegistry_OutputTypes(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	strT := treg.MustRegister("String")
	reg := NewRegistry(treg)

	require.NoError(t, reg.Register(&Rule{ID: "a", Output: strT, Body: nopBody}))
	require.NoError(t, reg.Register(&Rule{ID: "b", Output: intT, Body: nopBody}))

	outs := reg.OutputTypes()
	require.Len(t, outs, 2)
	assert.Same(t, intT, outs[0])
	assert.Same(t, strT, outs[1])
}

func TestRule_Signature_OrderNormalized(t *testing.T) {
	treg := types.NewRegistry()
	intT := treg.MustRegister("Int")
	boolT := treg.MustRegister("Bool")
	strT := treg.MustRegister("String")

	r1 := &Rule{ID: "a", Output: strT, Body: nopBody, Params: []Param{
		{Name: "n", Type: intT}, {Name: "b", Type: boolT},
	}}
	r2 := &Rule{ID: "b", Output: strT, Body: nopBody, Params: []Param{
		{Name: "b", Type: boolT}, {Name: "n", Type: intT},
	}}

	assert.Equal(t, r1.Signature(), r2.Signature())
	assert.Equal(t, "(Bool, Int) -> String", r1.Signature())
}
