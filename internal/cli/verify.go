package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	FlowID   string // optional - specific flow only
}

// VerifyFlowResult holds the integrity report of a single flow.
type VerifyFlowResult struct {
	FlowID        string   `json:"flow_id"`
	Snapshots     int      `json:"snapshots"`
	Batches       int      `json:"batches"`
	FailedBatches int      `json:"failed_batches"`
	LastSeq       int64    `json:"last_seq"`
	Intact        bool     `json:"intact"`
	Problems      []string `json:"problems,omitempty"`
}

// VerifyResult holds the overall integrity report.
type VerifyResult struct {
	Flows      []VerifyFlowResult `json:"flows"`
	TotalFlows int                `json:"total_flows"`
	AllIntact  bool               `json:"all_intact"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the integrity of stored snapshots and journal",
		Long: `Re-hash every stored context snapshot and check the batch journal
against it.

A flow is intact when every snapshot's document hashes to its stored hash,
action sequence numbers increase across batches, and every successful
batch's context hash matches a snapshot.

Exit codes:
  0 - All flows are intact
  1 - Integrity check failed
  2 - Command error (database not found, etc.)

Examples:
  flowrt verify --db ./flow.db
  flowrt verify --db ./flow.db --flow merchant-1
  flowrt verify --db ./flow.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.FlowID, "flow", "", "verify a specific flow only")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
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

	var flowIDs []string
	if opts.FlowID != "" {
		flowIDs = []string{opts.FlowID}
	} else if flowIDs, err = st.ListFlowIDs(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to list flows", err)
	}

	result := VerifyResult{
		Flows:     make([]VerifyFlowResult, 0, len(flowIDs)),
		AllIntact: true,
	}
	for _, id := range flowIDs {
		formatter.VerboseLog("Verifying flow %s", id)
		fr, err := verifyFlow(ctx, st, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to verify flow %s", id), err)
		}
		result.Flows = append(result.Flows, fr)
		if !fr.Intact {
			result.AllIntact = false
		}
	}
	result.TotalFlows = len(result.Flows)

	if !result.AllIntact {
		exitErr := NewExitError(ExitFailure, "integrity check failed")
		if formatter.JSON() {
			if err := formatter.Failure(result, ErrCodeIntegrity, exitErr.Message); err != nil {
				return err
			}
			return exitErr
		}
		outputVerifyText(formatter, result)
		return exitErr
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputVerifyText(formatter, result)
	return nil
}

func verifyFlow(ctx context.Context, st *store.Store, flowID string) (VerifyFlowResult, error) {
	res := VerifyFlowResult{FlowID: flowID, Intact: true}
	fail := func(format string, args ...any) {
		res.Intact = false
		res.Problems = append(res.Problems, fmt.Sprintf(format, args...))
	}

	snaps, err := st.ContextHistory(ctx, flowID)
	if err != nil {
		return res, err
	}
	res.Snapshots = len(snaps)

	hashes := make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		got, err := ir.DocumentHash(snap.Document)
		if err != nil {
			return res, err
		}
		if got != snap.Hash {
			fail("snapshot %d: stored hash %s, document hashes to %s", snap.ID, truncateID(snap.Hash), truncateID(got))
		}
		hashes[snap.Hash] = true
	}

	batches, err := st.ReadBatches(ctx, flowID)
	if err != nil {
		return res, err
	}
	res.Batches = len(batches)

	var lastSeq int64
	for _, b := range batches {
		if b.Outcome == ir.OutcomeFailed {
			res.FailedBatches++
		}
		for _, a := range b.Actions {
			if a.Seq <= lastSeq {
				fail("batch %s: action seq %d does not follow %d", b.BatchID, a.Seq, lastSeq)
			}
			lastSeq = a.Seq
		}
		if b.Outcome == ir.OutcomeOK && len(snaps) > 0 && !hashes[b.ContextHash] {
			fail("batch %s: context hash %s matches no snapshot", b.BatchID, truncateID(b.ContextHash))
		}
	}
	res.LastSeq = lastSeq

	return res, nil
}

func outputVerifyText(f *OutputFormatter, result VerifyResult) {
	w := f.Writer

	if result.TotalFlows == 0 {
		fmt.Fprintln(w, "No flows found in database.")
		return
	}

	fmt.Fprintf(w, "Verified %d flow(s)\n\n", result.TotalFlows)
	for _, fr := range result.Flows {
		mark := "✓"
		if !fr.Intact {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d snapshot(s), %d batch(es), %d failed, last seq %d\n",
			mark, fr.FlowID, fr.Snapshots, fr.Batches, fr.FailedBatches, fr.LastSeq)
		for _, p := range fr.Problems {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}

	fmt.Fprintln(w)
	if result.AllIntact {
		fmt.Fprintln(w, "✓ All flows intact")
	} else {
		fmt.Fprintln(w, "✗ Integrity check failed")
	}
}
