package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter/internal/manifest"
	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeLoadFailed  = "E002" // Manifest load failed
	ErrCodeBindFailed  = "E003" // Manifest bind failed
	ErrCodeUnknownType = "E004" // Unknown type name in a flag

	// Graph diagnostics
	ErrCodeMissingRule      = "E101"
	ErrCodeAmbiguousRule    = "E102"
	ErrCodeCyclicDependency = "E103"
)

// loadRegistries loads a manifest directory and binds it into fresh
// registries. Rule bodies are bound to inert stubs: the CLI validates and
// inspects shapes, it never executes.
func loadRegistries(dir string, mode manifest.LoadMode) (*types.Registry, *rules.Registry, *manifest.Manifest, []error) {
	m, errs := manifest.Load(dir, mode)
	if m == nil {
		return nil, nil, nil, errs
	}
	if len(errs) > 0 {
		return nil, nil, m, errs
	}

	treg := types.NewRegistry()
	reg := rules.NewRegistry(treg)
	if err := manifest.Bind(m, stubBodies(m), treg, reg); err != nil {
		return nil, nil, m, []error{err}
	}
	return treg, reg, m, nil
}

// stubBodies maps every body name the manifest references to a no-op body.
func stubBodies(m *manifest.Manifest) manifest.Bodies {
	bodies := make(manifest.Bodies)
	for _, decl := range m.Rules {
		name := decl.Body
		bodies[name] = func(ctx context.Context, env rules.Env) (value.Value, error) {
			return nil, fmt.Errorf("body %q is a validation stub", name)
		}
	}
	return bodies
}

// parseTypeList resolves a comma-separated list of type names.
func parseTypeList(treg *types.Registry, list string) ([]*types.Type, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var out []*types.Type
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t, ok := treg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown type %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}
