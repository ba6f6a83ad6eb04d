package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/flowrt/internal/definition"
	"github.com/roach88/flowrt/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult summarizes a compiled definition.
type CompilationResult struct {
	Source   string `json:"source"`
	Output   string `json:"output,omitempty"`
	Pages    int    `json:"pages"`
	Elements int    `json:"elements"`
	Hash     string `json:"hash"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <definition>",
		Short: "Compile a definition to canonical JSON",
		Long: `Compile a JSON, YAML or CUE definition to canonical JSON.

The definition is loaded, validated, and written with sorted keys and no
insignificant whitespace, so equal definitions compile to equal bytes.
Without --output the JSON goes to stdout.

Examples:
  flowrt compile ./flows/review.cue -o review.json
  flowrt compile ./flows/store-info.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
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

	if errs := definition.Validate(def, definition.Options{}); len(errs) > 0 {
		return outputValidationErrors(formatter, path, errs)
	}

	data, err := ir.MarshalCanonical(def)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to marshal definition", err)
	}

	result := CompilationResult{
		Source:   path,
		Output:   opts.Output,
		Pages:    len(def.Pages),
		Elements: def.CountElements(),
	}
	if result.Hash, err = ir.DefinitionHash(def); err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to hash definition", err)
	}
	formatter.VerboseLog("Compiled %d page(s), %d element(s)", result.Pages, result.Elements)

	if opts.Output == "" {
		if formatter.JSON() {
			return formatter.Success(map[string]any{"result": result, "definition": def})
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	if err := os.WriteFile(opts.Output, append(data, '\n'), 0o644); err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Compiled %s (%d pages, %d elements) -> %s\n", path, result.Pages, result.Elements, opts.Output)
	return nil
}
