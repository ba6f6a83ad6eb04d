package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowrt/internal/ir"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Addr    string
	Payload string // JSON object
	Process bool   // run the pending batch after dispatching
	Timeout time.Duration

	// Client overrides the HTTP client (for testing).
	Client *http.Client
}

// InvokeResult holds the server's answers.
type InvokeResult struct {
	Dispatch map[string]any `json:"dispatch"`
	Process  map[string]any `json:"process,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <action-type>",
		Short: "Dispatch an action to a running flow",
		Long: `Dispatch one action to a flow served by "flowrt run".

The action is queued and picked up by the server's dispatcher. With
--process the pending batch is run synchronously and its result printed.

Exit codes:
  0 - Action accepted (and the batch succeeded, with --process)
  1 - The batch was aborted
  2 - Command error (bad payload, server unreachable)

Examples:
  flowrt invoke event --payload '{"eventName":"NEXT"}'
  flowrt invoke api --payload '{"url":"/cases","method":"POST","resultPath":"entity.case"}' --process
  flowrt invoke plugin --payload '{"pluginName":"stamp"}' --addr 127.0.0.1:9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "address of the flow server")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "action payload (JSON object)")
	cmd.Flags().BoolVar(&opts.Process, "process", false, "process the pending batch after dispatching")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	return cmd
}

func runInvoke(opts *InvokeOptions, actionType string, cmd *cobra.Command) error {
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

	action := ir.Action{Type: actionType}
	if opts.Payload != "" {
		if err := json.Unmarshal([]byte(opts.Payload), &action.Payload); err != nil {
			_ = formatter.Error(ErrCodeInvalidInput, "payload must be a JSON object", err.Error())
			return WrapExitError(ExitCommandError, "invalid payload", err)
		}
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	base := opts.Addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(action)
	if err != nil {
		return WrapExitError(ExitCommandError, "encode action", err)
	}

	var result InvokeResult
	formatter.VerboseLog("POST %s/api/v1/actions %s", base, body)
	status, err := postJSON(ctx, client, base+"/api/v1/actions", body, &result.Dispatch)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "dispatch failed", err)
	}
	if status != http.StatusAccepted {
		msg := fmt.Sprintf("dispatch rejected with status %d", status)
		_ = formatter.Error(ErrCodeGeneric, msg, result.Dispatch)
		return NewExitError(ExitCommandError, msg)
	}

	if opts.Process {
		formatter.VerboseLog("POST %s/api/v1/actions/process", base)
		status, err = postJSON(ctx, client, base+"/api/v1/actions/process", nil, &result.Process)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "process failed", err)
		}
		switch status {
		case http.StatusOK:
		case http.StatusUnprocessableEntity:
			msg := fmt.Sprintf("batch aborted: %v", result.Process["details"])
			if formatter.JSON() {
				if err := formatter.Failure(result, ErrCodeGeneric, msg); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(formatter.Writer, "✗ %s\n", msg)
			}
			return NewExitError(ExitFailure, msg)
		default:
			msg := fmt.Sprintf("process rejected with status %d: %v", status, result.Process["error"])
			_ = formatter.Error(ErrCodeGeneric, msg, result.Process)
			return NewExitError(ExitCommandError, msg)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s action accepted (seq %v, %v pending)\n", actionType, result.Dispatch["lastSeq"], result.Dispatch["pending"])
	if result.Process != nil {
		if id, _ := result.Process["batchId"].(string); id != "" {
			fmt.Fprintf(w, "✓ batch %s ok, context %v\n", id, result.Process["contextHash"])
		} else {
			fmt.Fprintln(w, "  nothing to process")
		}
	}
	return nil
}

// postJSON posts body and decodes the JSON answer into out.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, out *map[string]any) (int, error) {
	var r io.Reader = http.NoBody
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, r)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", url, err)
	}
	return resp.StatusCode, nil
}
