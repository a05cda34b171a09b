package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/internal/manifest"
)

// Scenario defines one conformance scenario: a rule set, an optional fact
// base, a single request, and the expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. Doubles as the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Types maps type names to their parameter names. Plain types use an
	// empty list.
	Types map[string][]string `yaml:"types"`

	// Unions maps union type names to their member type names.
	Unions map[string][]string `yaml:"unions,omitempty"`

	// Rules declares the rule set. Body names must exist in the built-in
	// body library.
	Rules []RuleStep `yaml:"rules"`

	// Facts are engine-level facts asserted before the request.
	Facts []FactStep `yaml:"facts,omitempty"`

	// Request is the single request the scenario issues.
	Request RequestStep `yaml:"request"`

	// Expect checks the outcome.
	Expect ExpectClause `yaml:"expect"`

	// Token is an optional fixed session token. Defaults to "trace-session"
	// so golden files stay stable.
	Token string `yaml:"token,omitempty"`
}

// RuleStep declares one rule.
type RuleStep struct {
	ID     string      `yaml:"id"`
	Params []ParamStep `yaml:"params,omitempty"`
	Output string      `yaml:"output"`
	Body   string      `yaml:"body"`
}

// ParamStep declares one rule parameter.
type ParamStep struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// FactStep binds a value to a type, for engine or request facts.
type FactStep struct {
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

// RequestStep is the request the scenario issues.
type RequestStep struct {
	Goal  string     `yaml:"goal"`
	Facts []FactStep `yaml:"facts,omitempty"`
}

// ExpectClause specifies the expected outcome. Exactly one of Value or Error
// applies: a scenario either resolves or fails.
type ExpectClause struct {
	// Value is the expected goal value, compared structurally.
	Value any `yaml:"value,omitempty"`

	// Error is a substring the resolution error must contain.
	Error string `yaml:"error,omitempty"`

	// CacheEntries, when positive, is the expected number of memoized
	// executions in the session.
	CacheEntries int `yaml:"cache_entries,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in a directory, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Types) == 0 {
		return fmt.Errorf("types map is required and must be non-empty")
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("rules list is required and must be non-empty")
	}
	if s.Request.Goal == "" {
		return fmt.Errorf("request.goal is required")
	}

	for i, r := range s.Rules {
		if r.ID == "" {
			return fmt.Errorf("rules[%d]: id is required", i)
		}
		if r.Output == "" {
			return fmt.Errorf("rules[%d]: output is required", i)
		}
		if r.Body == "" {
			return fmt.Errorf("rules[%d]: body is required", i)
		}
		for j, p := range r.Params {
			if p.Name == "" || p.Type == "" {
				return fmt.Errorf("rules[%d].params[%d]: name and type are required", i, j)
			}
		}
	}

	for i, f := range s.Facts {
		if f.Type == "" {
			return fmt.Errorf("facts[%d]: type is required", i)
		}
	}
	for i, f := range s.Request.Facts {
		if f.Type == "" {
			return fmt.Errorf("request.facts[%d]: type is required", i)
		}
	}

	if s.Expect.Value == nil && s.Expect.Error == "" {
		return fmt.Errorf("expect must set value or error")
	}
	if s.Expect.Value != nil && s.Expect.Error != "" {
		return fmt.Errorf("expect must not set both value and error")
	}
	return nil
}

// toManifest converts the scenario's declarations into a manifest, so the
// harness binds registries through the same path the CLI does. Map iteration
// order is normalized by sorting names.
func (s *Scenario) toManifest() *manifest.Manifest {
	m := &manifest.Manifest{}

	typeNames := make([]string, 0, len(s.Types))
	for name := range s.Types {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)
	for _, name := range typeNames {
		m.Types = append(m.Types, manifest.TypeDecl{Name: name, Params: s.Types[name]})
	}

	unionNames := make([]string, 0, len(s.Unions))
	for name := range s.Unions {
		unionNames = append(unionNames, name)
	}
	sort.Strings(unionNames)
	for _, name := range unionNames {
		m.Unions = append(m.Unions, manifest.UnionDecl{Union: name, Members: s.Unions[name]})
	}

	for _, r := range s.Rules {
		decl := manifest.RuleDecl{ID: r.ID, Output: r.Output, Body: r.Body}
		for _, p := range r.Params {
			decl.Params = append(decl.Params, manifest.ParamDecl{Name: p.Name, Type: p.Type})
		}
		m.Rules = append(m.Rules, decl)
	}
	return m
}
