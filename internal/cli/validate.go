package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowrt/internal/actions"
	"github.com/roach88/flowrt/internal/definition"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Plugins     []string // known plugin names; nil skips the plugin check
	ActionTypes []string // known action types
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                         `json:"valid"`
	Pages  int                          `json:"pages,omitempty"`
	Errors []definition.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <definition>",
		Short: "Check a definition without running it",
		Long: `Check a UI definition statically.

Every visibleOn/availableOn rule is compiled by its dialect, element and page
names are checked for duplicates, and every action must name a known action
type. With --plugin, plugin actions must name one of the given plugins.

Exit codes:
  0 - Definition is valid
  1 - Validation errors found
  2 - Command error (file not found, parse error)

Examples:
  flowrt validate ./flows/store-info.yaml
  flowrt validate ./flows/review.cue --plugin score --plugin stamp`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("plugin") {
				opts.Plugins = nil
			}
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Plugins, "plugin", nil, "registered plugin name (repeatable)")
	cmd.Flags().StringSliceVar(&opts.ActionTypes, "action-type",
		[]string{actions.TypeAPI, actions.TypeEvent, actions.TypePlugin}, "known action type (repeatable)")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	def, err := LoadDefinition(path)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		// Unreadable input is a command-level error (exit code 2)
		return WrapExitError(ExitCommandError, "failed to load definition", err)
	}
	formatter.VerboseLog("Loaded %d page(s) from %s", len(def.Pages), path)

	errs := definition.Validate(def, definition.Options{
		ActionTypes: opts.ActionTypes,
		Plugins:     opts.Plugins,
	})
	if len(errs) > 0 {
		return outputValidationErrors(formatter, path, errs)
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Pages: len(def.Pages)})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid (%d pages)\n", path, len(def.Pages))
	return nil
}

// outputValidationErrors outputs every validation error and returns the
// failure exit error.
func outputValidationErrors(formatter *OutputFormatter, path string, errs []definition.ValidationError) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		if err := formatter.Failure(ValidationResult{Valid: false, Errors: errs}, errs[0].Code, errs[0].Message); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintf(formatter.Writer, "✗ %s: validation failed\n\n", path)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "%s\n  %s: %s\n\n", err.Field, err.Code, err.Message)
	}
	return exitErr
}
