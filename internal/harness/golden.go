package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/arbiterhq/arbiter/internal/engine"
)

// TraceSnapshot is the golden-file form of a scenario run. Cache keys are
// content hashes and carry no information a reader can check by eye, so
// events keep only seq, kind, rule, and type.
type TraceSnapshot struct {
	Scenario string        `json:"scenario"`
	Token    string        `json:"token"`
	Goal     string        `json:"goal"`
	Value    string        `json:"value"`
	Trace    []goldenEvent `json:"trace"`
}

type goldenEvent struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`
	Rule string `json:"rule,omitempty"`
	Type string `json:"type,omitempty"`
}

// RunWithGolden executes a scenario, checks its expectations, and compares
// the trace against testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if result.Err != nil && scenario.Expect.Error == "" {
		return result, fmt.Errorf("scenario %s: %w", scenario.Name, result.Err)
	}

	snapshot := TraceSnapshot{
		Scenario: scenario.Name,
		Token:    result.Token,
		Goal:     scenario.Request.Goal,
		Value:    renderValue(result.Value),
		Trace:    toGoldenEvents(result.Trace),
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return result, err
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}

func toGoldenEvents(events []engine.TraceEvent) []goldenEvent {
	out := make([]goldenEvent, len(events))
	for i, ev := range events {
		out[i] = goldenEvent{
			Seq:  ev.Seq,
			Kind: string(ev.Kind),
			Rule: ev.Rule,
			Type: ev.Type,
		}
	}
	return out
}
