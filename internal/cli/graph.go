package cli

import (
	"fmt"

	"github.com/m1gwings/treedrawer/tree"
	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/internal/graph"
	"github.com/arbiterhq/arbiter/internal/manifest"
)

// GraphResult is the JSON rendering of a built rule graph.
type GraphResult struct {
	Goal  string      `json:"goal"`
	Given []string    `json:"given,omitempty"`
	Root  string      `json:"root"`
	Nodes []GraphNode `json:"nodes"`
}

// GraphNode is one rule occurrence, listed in topological order.
type GraphNode struct {
	Rule   string       `json:"rule"`
	Output string       `json:"output"`
	Inputs []GraphInput `json:"inputs,omitempty"`
}

// GraphInput is one resolved parameter binding.
type GraphInput struct {
	Param  string `json:"param"`
	Type   string `json:"type"`
	Source string `json:"source"` // "given" | "rule"
	From   string `json:"from"`   // concrete given type, or producer rule ID
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	var goal, given string

	cmd := &cobra.Command{
		Use:   "graph <manifest-dir>",
		Short: "Print the rule graph for a goal without executing",
		Long: `Build the rule graph for a goal type against a set of given root input
types and print its shape: a tree in text mode, structured JSON otherwise.
Construction failures report the same missing-rule, ambiguous-rule, and
cyclic-dependency diagnostics as validate.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(rootOpts, args[0], goal, given, cmd)
		},
	}

	cmd.Flags().StringVar(&goal, "goal", "", "goal type to derive (required)")
	cmd.Flags().StringVar(&given, "given", "", "comma-separated type names treated as available root inputs")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func runGraph(opts *RootOptions, dir, goalName, given string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	treg, reg, _, loadErrs := loadRegistries(dir, manifest.LoadModeFailFast)
	if len(loadErrs) > 0 {
		_ = formatter.Error(ErrCodeLoadFailed, loadErrs[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrs[0].Error())
	}

	goal, ok := treg.Lookup(goalName)
	if !ok {
		msg := fmt.Sprintf("unknown goal type %q", goalName)
		_ = formatter.Error(ErrCodeUnknownType, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	available, err := parseTypeList(treg, given)
	if err != nil {
		_ = formatter.Error(ErrCodeUnknownType, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	g, err := graph.Build(reg, goal, available)
	if err != nil {
		code := ErrCodeGeneric
		switch {
		case graph.IsMissingRule(err):
			code = ErrCodeMissingRule
		case graph.IsAmbiguousRule(err):
			code = ErrCodeAmbiguousRule
		case graph.IsCyclicDependency(err):
			code = ErrCodeCyclicDependency
		}
		_ = formatter.Error(code, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: graphResult(g)})
	}

	fmt.Fprintln(formatter.Writer, drawGraph(g))
	return nil
}

func graphResult(g *graph.Graph) GraphResult {
	result := GraphResult{
		Goal: g.Goal.String(),
		Root: g.Root.Rule.ID,
	}
	for _, t := range g.RootTypes() {
		result.Given = append(result.Given, t.String())
	}
	for _, n := range g.Nodes {
		node := GraphNode{Rule: n.Rule.ID, Output: n.Rule.Output.String()}
		for _, in := range n.Inputs {
			gi := GraphInput{Param: in.Param.Name, Type: in.Param.Type.String()}
			switch in.Kind {
			case graph.SourceRoot:
				gi.Source = "given"
				gi.From = in.RootType.String()
			case graph.SourceRule:
				gi.Source = "rule"
				gi.From = in.Node.Rule.ID
			}
			node.Inputs = append(node.Inputs, gi)
		}
		result.Nodes = append(result.Nodes, node)
	}
	return result
}

// drawGraph renders the graph as a tree rooted at the goal-producing rule.
// Shared nodes appear once per consumer; the JSON form carries the exact
// deduplicated structure.
func drawGraph(g *graph.Graph) string {
	t := tree.NewTree(tree.NodeString(nodeLabel(g.Root)))
	addInputs(t, g.Root)
	return t.String()
}

func addInputs(t *tree.Tree, n *graph.Node) {
	for i, in := range n.Inputs {
		switch in.Kind {
		case graph.SourceRoot:
			t.AddChild(tree.NodeString(fmt.Sprintf("%s: %s (given %s)",
				in.Param.Name, in.Param.Type, in.RootType)))
		case graph.SourceRule:
			t.AddChild(tree.NodeString(nodeLabel(in.Node)))
			child, err := t.Child(i)
			if err != nil {
				continue
			}
			addInputs(child, in.Node)
		}
	}
}

func nodeLabel(n *graph.Node) string {
	return fmt.Sprintf("%s -> %s", n.Rule.ID, n.Rule.Output)
}
