package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/internal/graph"
	"github.com/arbiterhq/arbiter/internal/manifest"
)

// GoalDiagnostic is the validation outcome for one derivable goal type.
type GoalDiagnostic struct {
	Goal   string `json:"goal"`
	Status string `json:"status"` // "ok" | "missing-rule" | "ambiguous-rule" | "cyclic-dependency"
	Detail string `json:"detail,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid          bool             `json:"valid"`
	ManifestErrors []string         `json:"manifest_errors,omitempty"`
	Goals          []GoalDiagnostic `json:"goals,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var given string

	cmd := &cobra.Command{
		Use:   "validate <manifest-dir>",
		Short: "Validate manifests and graph-check every declared goal",
		Long: `Validate CUE rule manifests and build the rule graph for every declared
output type, reporting missing-rule, ambiguous-rule, and cyclic-dependency
diagnostics without executing any rule body.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], given, cmd)
		},
	}

	cmd.Flags().StringVar(&given, "given", "", "comma-separated type names treated as available root inputs")
	return cmd
}

func runValidate(opts *RootOptions, dir, given string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	treg, reg, m, loadErrs := loadRegistries(dir, manifest.LoadModeCollectAll)
	if m == nil {
		_ = formatter.Error(ErrCodeLoadFailed, loadErrs[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrs[0].Error())
	}
	if len(loadErrs) > 0 {
		result := ValidationResult{Valid: false}
		for _, err := range loadErrs {
			result.ManifestErrors = append(result.ManifestErrors, err.Error())
		}
		return outputValidation(formatter, result)
	}

	formatter.VerboseLog("Loaded %d type(s), %d union(s), %d rule(s) from %s",
		len(m.Types), len(m.Unions), len(m.Rules), dir)

	available, err := parseTypeList(treg, given)
	if err != nil {
		_ = formatter.Error(ErrCodeUnknownType, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	result := ValidationResult{Valid: true}
	for _, goal := range reg.OutputTypes() {
		diag := GoalDiagnostic{Goal: goal.String(), Status: "ok"}
		if _, buildErr := graph.Build(reg, goal, available); buildErr != nil {
			result.Valid = false
			diag.Detail = buildErr.Error()
			switch {
			case graph.IsMissingRule(buildErr):
				diag.Status = string(graph.CodeMissingRule)
			case graph.IsAmbiguousRule(buildErr):
				diag.Status = string(graph.CodeAmbiguousRule)
			case graph.IsCyclicDependency(buildErr):
				diag.Status = string(graph.CodeCyclicDependency)
			default:
				diag.Status = "error"
			}
		}
		result.Goals = append(result.Goals, diag)
	}

	return outputValidation(formatter, result)
}

func outputValidation(f *OutputFormatter, result ValidationResult) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: validationErrorCode(result), Message: "validation failed"}
		}
		if err := f.JSON(resp); err != nil {
			return err
		}
		if !result.Valid {
			return NewExitError(ExitFailure, "validation failed")
		}
		return nil
	}

	if result.Valid {
		fmt.Fprintf(f.Writer, "ok: %d goal(s) derivable\n", len(result.Goals))
		for _, g := range result.Goals {
			fmt.Fprintf(f.Writer, "  %-20s ok\n", g.Goal)
		}
		return nil
	}

	fmt.Fprintln(f.Writer, "validation failed")
	for _, msg := range result.ManifestErrors {
		fmt.Fprintf(f.Writer, "  manifest: %s\n", msg)
	}
	for _, g := range result.Goals {
		if g.Status == "ok" {
			fmt.Fprintf(f.Writer, "  %-20s ok\n", g.Goal)
			continue
		}
		fmt.Fprintf(f.Writer, "  %-20s %s: %s\n", g.Goal, g.Status, g.Detail)
	}
	return NewExitError(ExitFailure, "validation failed")
}

func validationErrorCode(result ValidationResult) string {
	if len(result.ManifestErrors) > 0 {
		return ErrCodeLoadFailed
	}
	for _, g := range result.Goals {
		switch g.Status {
		case string(graph.CodeMissingRule):
			return ErrCodeMissingRule
		case string(graph.CodeAmbiguousRule):
			return ErrCodeAmbiguousRule
		case string(graph.CodeCyclicDependency):
			return ErrCodeCyclicDependency
		}
	}
	return ErrCodeGeneric
}
