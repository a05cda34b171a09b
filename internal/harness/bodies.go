package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter/internal/manifest"
	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

// BuiltinBodies is the body library scenario rules bind against. Bodies that
// issue sub-requests resolve goal types by name at call time, against the
// scenario's own type registry.
func BuiltinBodies(treg *types.Registry) manifest.Bodies {
	lookup := func(name string) (*types.Type, error) {
		t, ok := treg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("body library: type %q not declared", name)
		}
		return t, nil
	}

	return manifest.Bodies{
		// const42 returns Int(42) unconditionally.
		"const42": func(ctx context.Context, env rules.Env) (value.Value, error) {
			return value.Int(42), nil
		},

		// render-int renders parameter n as "value:<n>".
		"render-int": func(ctx context.Context, env rules.Env) (value.Value, error) {
			n, err := intInput(env, "n")
			if err != nil {
				return nil, err
			}
			return value.String(fmt.Sprintf("value:%d", n)), nil
		},

		// sum adds parameters a and b.
		"sum": func(ctx context.Context, env rules.Env) (value.Value, error) {
			a, err := intInput(env, "a")
			if err != nil {
				return nil, err
			}
			b, err := intInput(env, "b")
			if err != nil {
				return nil, err
			}
			return value.Int(a + b), nil
		},

		// shout upper-cases parameter s.
		"shout": func(ctx context.Context, env rules.Env) (value.Value, error) {
			s, ok := env.Input("s").(value.String)
			if !ok {
				return nil, fmt.Errorf("parameter s is not a string")
			}
			return value.String(strings.ToUpper(string(s))), nil
		},

		// fail always errors.
		"fail": func(ctx context.Context, env rules.Env) (value.Value, error) {
			return nil, fmt.Errorf("deliberate failure")
		},

		// request-int suspends on a sub-request for Int and renders the
		// result as "got:<n>".
		"request-int": func(ctx context.Context, env rules.Env) (value.Value, error) {
			intT, err := lookup("Int")
			if err != nil {
				return nil, err
			}
			v, err := env.Get(ctx, intT)
			if err != nil {
				return nil, err
			}
			n, ok := v.(value.Int)
			if !ok {
				return nil, fmt.Errorf("sub-request for Int returned %T", v)
			}
			return value.String(fmt.Sprintf("got:%d", n)), nil
		},

		// request-int-twice requests Int twice. The second request hits the
		// session cache, so the sum is exactly double.
		"request-int-twice": func(ctx context.Context, env rules.Env) (value.Value, error) {
			intT, err := lookup("Int")
			if err != nil {
				return nil, err
			}
			var total int64
			for range 2 {
				v, err := env.Get(ctx, intT)
				if err != nil {
					return nil, err
				}
				n, ok := v.(value.Int)
				if !ok {
					return nil, fmt.Errorf("sub-request for Int returned %T", v)
				}
				total += int64(n)
			}
			return value.String(fmt.Sprintf("sum:%d", total)), nil
		},
	}
}

func intInput(env rules.Env, name string) (int64, error) {
	n, ok := env.Input(name).(value.Int)
	if !ok {
		return 0, fmt.Errorf("parameter %s is not an integer", name)
	}
	return int64(n), nil
}
