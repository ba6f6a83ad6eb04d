package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/rules"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Context string // context file (JSON or YAML)
	Page    string // page state name; empty evaluates every page
}

// EvalResult is the outcome of evaluating a definition against a context.
type EvalResult struct {
	Page        string                `json:"page,omitempty"`
	ContextHash string                `json:"contextHash"`
	Elements    []rules.ElementResult `json:"elements"`
	Errors      []string              `json:"errors,omitempty"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <definition>",
		Short: "Evaluate element rules against a context",
		Long: `Evaluate the visibleOn and availableOn rules of every element against a
context document and report which elements are visible and available.

Rule errors are reported but do not fail the command: a rule that cannot be
evaluated counts as failed, exactly as it would at runtime.

Examples:
  flowrt eval ./flows/store-info.yaml --context ./context.json
  flowrt eval ./flows/review.cue --context ./context.yaml --page review --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Context, "context", "c", "", "context file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.Page, "page", "", "page state name (default: all pages)")

	return cmd
}

func runEval(opts *EvalOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	def, err := LoadDefinition(path)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load definition", err)
	}
	doc, err := LoadContext(opts.Context)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load context", err)
	}

	state := ir.NewUIState(def)
	if opts.Page != "" {
		if _, ok := def.Page(opts.Page); !ok {
			msg := fmt.Sprintf("no page %q in definition", opts.Page)
			_ = formatter.Error(ErrCodeInvalidInput, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		for i, st := range state.Steps {
			if st.Name == opts.Page {
				state.CurrentStep = i
			}
		}
	}

	results, evalErr := rules.NewExecutor(nil).EvaluateElements(doc, def, state, opts.Page)
	result := EvalResult{
		Page:        opts.Page,
		ContextHash: ir.MustDocumentHash(doc),
		Elements:    results,
	}
	if result.Elements == nil {
		result.Elements = []rules.ElementResult{}
	}
	if evalErr != nil {
		result.Errors = strings.Split(evalErr.Error(), "\n")
		formatter.VerboseLog("%d rule error(s)", len(result.Errors))
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputEvalText(formatter, result)
}

func outputEvalText(formatter *OutputFormatter, result EvalResult) error {
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tELEMENT\tTYPE\tVISIBLE\tAVAILABLE")
	for _, el := range result.Elements {
		name := el.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", el.Page, name, el.Type, mark(el.Visible), mark(el.Available))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, e := range result.Errors {
		fmt.Fprintf(formatter.Writer, "rule error: %s\n", e)
	}
	return nil
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
