package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	FlowID   string
	BatchID  string // optional - show a single batch
	Type     string // optional - filter actions by type
}

// TraceResult holds the journal of one flow.
type TraceResult struct {
	FlowID      string           `json:"flow_id"`
	ContextHash string           `json:"context_hash,omitempty"`
	Batches     []ir.BatchRecord `json:"batches"`
	Stats       TraceStats       `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Batches       int    `json:"batches"`
	FailedBatches int    `json:"failed_batches"`
	Actions       int    `json:"actions"`
	LastSeq       int64  `json:"last_seq"`
	LastOutcome   string `json:"last_outcome,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the batch journal of a flow",
		Long: `Show the batch journal of a flow: every processed batch in order, with
the outcome of each action and the context hash written back.

Examples:
  flowrt trace --db ./flow.db --flow merchant-1
  flowrt trace --db ./flow.db --flow merchant-1 --type api
  flowrt trace --db ./flow.db --batch 6f1c... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.FlowID == "" && opts.BatchID == "" {
				return NewExitError(ExitCommandError, "one of --flow or --batch is required")
			}
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.FlowID, "flow", "", "flow id to trace")
	cmd.Flags().StringVar(&opts.BatchID, "batch", "", "show a single batch")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only show actions of this type")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := checkFile(opts.Database, "database"); err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := buildTrace(ctx, st, opts)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			msg := fmt.Sprintf("batch not found: %s", opts.BatchID)
			_ = formatter.Error(ErrCodeNotFound, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

func buildTrace(ctx context.Context, st *store.Store, opts *TraceOptions) (TraceResult, error) {
	var result TraceResult

	if opts.BatchID != "" {
		rec, err := st.ReadBatch(ctx, opts.BatchID)
		if err != nil {
			return result, err
		}
		result.FlowID = rec.FlowID
		result.Batches = []ir.BatchRecord{rec}
	} else {
		state, err := st.GetFlowState(ctx, opts.FlowID)
		if err != nil {
			return result, err
		}
		batches, err := st.ReadBatches(ctx, opts.FlowID)
		if err != nil {
			return result, err
		}
		result.FlowID = opts.FlowID
		result.ContextHash = state.ContextHash
		result.Batches = batches
		result.Stats.LastSeq = state.LastSeq
		result.Stats.LastOutcome = state.LastOutcome
	}

	if opts.Type != "" {
		result.Batches = filterActions(result.Batches, opts.Type)
	}

	for _, b := range result.Batches {
		result.Stats.Batches++
		if b.Outcome == ir.OutcomeFailed {
			result.Stats.FailedBatches++
		}
		result.Stats.Actions += len(b.Actions)
	}
	return result, nil
}

// filterActions keeps the actions of one type. Batches left without
// actions are dropped.
func filterActions(batches []ir.BatchRecord, actionType string) []ir.BatchRecord {
	out := []ir.BatchRecord{}
	for _, b := range batches {
		var kept []ir.ActionRecord
		for _, a := range b.Actions {
			if a.Type == actionType {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			continue
		}
		b.Actions = kept
		out = append(out, b)
	}
	return out
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for Flow: %s\n", result.FlowID)
	if result.ContextHash != "" {
		fmt.Fprintf(w, "Context: %s\n", truncateID(result.ContextHash))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Batches ===")
	if len(result.Batches) == 0 {
		fmt.Fprintln(w, "  (no batches)")
	}
	for _, b := range result.Batches {
		fmt.Fprintf(w, "  %s %s\n", b.BatchID, strings.ToUpper(b.Outcome))
		if b.Error != "" {
			fmt.Fprintf(w, "       Error: %s\n", b.Error)
		}
		for _, a := range b.Actions {
			fmt.Fprintf(w, "    [%d] %s %s\n", a.Seq, a.Type, a.Outcome)
			if verbose && len(a.Payload) > 0 {
				fmt.Fprintf(w, "         Payload: %s\n", formatArgs(a.Payload))
			}
			if a.Error != "" {
				fmt.Fprintf(w, "         Error: %s\n", a.Error)
			}
		}
		if verbose && b.ContextHash != "" {
			fmt.Fprintf(w, "       Context: %s\n", truncateID(b.ContextHash))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Batches: %d (%d failed)\n", result.Stats.Batches, result.Stats.FailedBatches)
	fmt.Fprintf(w, "  Actions: %d\n", result.Stats.Actions)
	if result.Stats.LastSeq > 0 {
		fmt.Fprintf(w, "  Last Seq: %d\n", result.Stats.LastSeq)
	}
}

// formatArgs formats a map of args for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
