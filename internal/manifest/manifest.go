// Package manifest loads CUE rule manifests: declarations of types, unions,
// and rule signatures whose bodies are named Go functions. Loading is pure
// parsing and validation; Bind registers the declarations against live
// registries.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadMode controls how errors are handled during manifest loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// TypeDecl declares one semantic type, optionally with generic parameter
// names (declaration only; parameters are opaque to the engine).
type TypeDecl struct {
	Name   string
	Params []string
}

// UnionDecl declares union membership: every member is assignable to Union.
type UnionDecl struct {
	Union   string
	Members []string
}

// ParamDecl is one declared rule parameter.
type ParamDecl struct {
	Name string
	Type string
}

// RuleDecl declares a rule signature bound to a named Go body.
type RuleDecl struct {
	ID     string
	Params []ParamDecl
	Output string
	Body   string
}

// Manifest is the parsed content of a manifest directory, in declaration
// order.
type Manifest struct {
	Types  []TypeDecl
	Unions []UnionDecl
	Rules  []RuleDecl
}

// Load compiles every CUE file in dir into a Manifest.
//
// The expected shape:
//
//	types: Animal: {}
//	types: Pair: params: ["L", "R"]
//	unions: Animal: ["Dog", "Cat"]
//	rules: "describe": {
//		params: [{name: "a", type: "Animal"}]
//		output: "String"
//		body:   "describeAnimal"
//	}
//
// With LoadModeFailFast the first error returns immediately; with
// LoadModeCollectAll every declaration is attempted and all errors come back
// together. A manifest with errors is still returned as far as it parsed.
func Load(dir string, mode LoadMode) (*Manifest, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&CompileError{Field: "dir", Message: fmt.Sprintf("manifest directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&CompileError{Field: "dir", Message: fmt.Sprintf("error accessing manifest directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&CompileError{Field: "dir", Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, []error{&CompileError{Field: "dir", Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&CompileError{Field: "dir", Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&CompileError{Field: "cue", Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&CompileError{Field: "cue", Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	root := ctx.BuildInstance(inst)
	if err := root.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	m := &Manifest{}
	var errs []error

	collect := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	if stop := parseTypes(root, m, collect); stop {
		return m, errs
	}
	if stop := parseUnions(root, m, collect); stop {
		return m, errs
	}
	if stop := parseRules(root, m, collect); stop {
		return m, errs
	}

	if len(m.Types) == 0 && len(m.Rules) == 0 && len(errs) == 0 {
		errs = append(errs, &CompileError{Field: "manifest", Message: "no types or rules declared"})
	}
	return m, errs
}

func parseTypes(root cue.Value, m *Manifest, collect func(error) bool) (stop bool) {
	typesVal := root.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return false
	}
	iter, err := typesVal.Fields()
	if err != nil {
		return collect(formatCUEError(err))
	}
	for iter.Next() {
		decl := TypeDecl{Name: iter.Label()}
		paramsVal := iter.Value().LookupPath(cue.ParsePath("params"))
		if paramsVal.Exists() {
			params, perr := stringList(paramsVal)
			if perr != nil {
				if collect(perr) {
					return true
				}
				continue
			}
			decl.Params = params
		}
		m.Types = append(m.Types, decl)
	}
	return false
}

func parseUnions(root cue.Value, m *Manifest, collect func(error) bool) (stop bool) {
	unionsVal := root.LookupPath(cue.ParsePath("unions"))
	if !unionsVal.Exists() {
		return false
	}
	iter, err := unionsVal.Fields()
	if err != nil {
		return collect(formatCUEError(err))
	}
	for iter.Next() {
		members, merr := stringList(iter.Value())
		if merr != nil {
			if collect(merr) {
				return true
			}
			continue
		}
		if len(members) == 0 {
			if collect(&CompileError{
				Field:   "unions." + iter.Label(),
				Message: "a union needs at least one member",
				Pos:     iter.Value().Pos(),
			}) {
				return true
			}
			continue
		}
		m.Unions = append(m.Unions, UnionDecl{
			Union:   iter.Label(),
			Members: members,
		})
	}
	return false
}

func parseRules(root cue.Value, m *Manifest, collect func(error) bool) (stop bool) {
	rulesVal := root.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return false
	}
	iter, err := rulesVal.Fields()
	if err != nil {
		return collect(formatCUEError(err))
	}
	for iter.Next() {
		decl, derr := parseRule(iter.Label(), iter.Value())
		if derr != nil {
			if collect(derr) {
				return true
			}
			continue
		}
		m.Rules = append(m.Rules, decl)
	}
	return false
}

func parseRule(id string, v cue.Value) (RuleDecl, error) {
	decl := RuleDecl{ID: id}

	outputVal := v.LookupPath(cue.ParsePath("output"))
	if !outputVal.Exists() {
		return decl, &CompileError{
			Field:   fmt.Sprintf("rules.%q.output", id),
			Message: "output type is required",
			Pos:     v.Pos(),
		}
	}
	output, err := outputVal.String()
	if err != nil {
		return decl, formatCUEError(err)
	}
	decl.Output = output

	bodyVal := v.LookupPath(cue.ParsePath("body"))
	if !bodyVal.Exists() {
		return decl, &CompileError{
			Field:   fmt.Sprintf("rules.%q.body", id),
			Message: "body name is required",
			Pos:     v.Pos(),
		}
	}
	body, err := bodyVal.String()
	if err != nil {
		return decl, formatCUEError(err)
	}
	decl.Body = body

	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if paramsVal.Exists() {
		listIter, err := paramsVal.List()
		if err != nil {
			return decl, formatCUEError(err)
		}
		for listIter.Next() {
			pv := listIter.Value()
			name, err := pv.LookupPath(cue.ParsePath("name")).String()
			if err != nil {
				return decl, formatCUEError(err)
			}
			typeName, err := pv.LookupPath(cue.ParsePath("type")).String()
			if err != nil {
				return decl, formatCUEError(err)
			}
			decl.Params = append(decl.Params, ParamDecl{Name: name, Type: typeName})
		}
	}

	return decl, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
