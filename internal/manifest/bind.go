package manifest

import (
	"fmt"

	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
)

// Bodies maps manifest body names to Go rule bodies.
type Bodies map[string]rules.BodyFunc

// Bind registers a loaded manifest against live registries: types first,
// then unions, then rules with their bodies resolved by name. Declaration
// order is preserved, so rule tie-breaking matches the manifest.
func Bind(m *Manifest, bodies Bodies, treg *types.Registry, reg *rules.Registry) error {
	if m == nil {
		return fmt.Errorf("manifest must not be nil")
	}

	for _, decl := range m.Types {
		if _, err := treg.Register(decl.Name, decl.Params...); err != nil {
			return fmt.Errorf("type %s: %w", decl.Name, err)
		}
	}

	for _, decl := range m.Unions {
		union, ok := treg.Lookup(decl.Union)
		if !ok {
			return fmt.Errorf("union %s: type not declared", decl.Union)
		}
		members := make([]*types.Type, len(decl.Members))
		for i, name := range decl.Members {
			member, ok := treg.Lookup(name)
			if !ok {
				return fmt.Errorf("union %s: member type %s not declared", decl.Union, name)
			}
			members[i] = member
		}
		if err := treg.DeclareUnion(union, members...); err != nil {
			return fmt.Errorf("union %s: %w", decl.Union, err)
		}
	}

	for _, decl := range m.Rules {
		output, ok := treg.Lookup(decl.Output)
		if !ok {
			return fmt.Errorf("rule %s: output type %s not declared", decl.ID, decl.Output)
		}
		params := make([]rules.Param, len(decl.Params))
		for i, p := range decl.Params {
			pt, ok := treg.Lookup(p.Type)
			if !ok {
				return fmt.Errorf("rule %s: parameter %q type %s not declared", decl.ID, p.Name, p.Type)
			}
			params[i] = rules.Param{Name: p.Name, Type: pt}
		}
		body, ok := bodies[decl.Body]
		if !ok {
			return fmt.Errorf("rule %s: no body named %q", decl.ID, decl.Body)
		}
		if err := reg.Register(&rules.Rule{
			ID:     decl.ID,
			Params: params,
			Output: output,
			Body:   body,
		}); err != nil {
			return fmt.Errorf("rule %s: %w", decl.ID, err)
		}
	}

	return nil
}
