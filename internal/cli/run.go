package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowrt/internal/actions"
	"github.com/roach88/flowrt/internal/config"
	"github.com/roach88/flowrt/internal/definition"
	"github.com/roach88/flowrt/internal/engine"
	"github.com/roach88/flowrt/internal/events"
	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
	"github.com/roach88/flowrt/internal/rules"
	"github.com/roach88/flowrt/internal/server"
	"github.com/roach88/flowrt/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string

	// Flag overrides of the config file.
	Listen     string
	Database   string
	Definition string
	FlowID     string
	Context    string

	// Ready, if set, is called with the bound address once the server
	// accepts connections (for testing).
	Ready func(addr string)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve a flow over HTTP",
		Long: `Start the flow runtime: the state machine, the action dispatcher and the
HTTP API.

Settings come from --config (YAML) and are overridden by flags. With a
database the context is snapshotted on every change and every batch is
journaled; on restart the latest snapshot and the sequence counter are
restored.

Example:
  flowrt run --config ./flowrt.yaml
  flowrt run --definition ./flows/store-info.yaml --db ./flow.db --listen :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(opts, cmd)
			if err != nil {
				return err
			}
			return runFlow(cmd.Context(), opts, cfg, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file (YAML)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Definition, "definition", "", "UI definition file (JSON, YAML or CUE)")
	cmd.Flags().StringVar(&opts.FlowID, "flow", "", "flow id")
	cmd.Flags().StringVar(&opts.Context, "context", "", "initial context file (JSON or YAML)")

	return cmd
}

// loadRunConfig reads the config file and applies flag overrides.
func loadRunConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}

	override := func(flag string, dst *string, val string) {
		if cmd.Flags().Changed(flag) {
			*dst = val
		}
	}
	override("listen", &cfg.Listen, opts.Listen)
	override("db", &cfg.Database, opts.Database)
	override("definition", &cfg.Definition, opts.Definition)
	override("flow", &cfg.FlowID, opts.FlowID)
	override("context", &cfg.InitialContext, opts.Context)

	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// Runtime is a fully wired flow: machine, dispatcher, journal, event sinks
// and HTTP handler.
type Runtime struct {
	FlowID     string
	Definition *ir.Definition
	Machine    *machine.Machine
	Dispatcher *engine.Dispatcher
	Hub        *events.Hub
	Elements   *rules.ElementWatcher // nil without a definition
	Store      *store.Store          // nil without a database
	Handler    http.Handler

	closers []func()
}

// Close releases the store, the MQTT connection and the event hub.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// NewRuntime wires a flow from cfg. The caller must Close it.
func NewRuntime(ctx context.Context, cfg config.Config) (_ *Runtime, err error) {
	rt := &Runtime{FlowID: cfg.FlowID}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	plugins := actions.NewPluginRegistry()
	for _, p := range cfg.Plugins {
		script, err := actions.LoadScriptPlugin(p.Name, p.Script)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load plugin", err)
		}
		if err := plugins.Register(p.Name, script); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to register plugin", err)
		}
	}

	registry, err := actions.NewRegistry(
		actions.NewAPIHandler(
			actions.WithBaseURL(cfg.API.BaseURL),
			actions.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		),
		actions.NewEventHandler(),
		actions.NewPluginHandler(plugins),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Definition != "" {
		if rt.Definition, err = LoadDefinition(cfg.Definition); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load definition", err)
		}
		errs := definition.Validate(rt.Definition, definition.Options{
			ActionTypes: registry.Types(),
			Plugins:     plugins.Names(),
		})
		if len(errs) > 0 {
			return nil, WrapExitError(ExitFailure, "invalid definition", definition.Err(errs))
		}
	}

	initial := ir.Document{}
	var lastSeq int64
	resumed := false
	if cfg.Database != "" {
		if rt.Store, err = store.Open(cfg.Database); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		st := rt.Store
		rt.closers = append(rt.closers, func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		})

		state, err := st.GetFlowState(ctx, cfg.FlowID)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read flow state", err)
		}
		lastSeq = state.LastSeq
		if state.HasContext {
			initial, resumed = state.Context, true
			slog.Info("flow resumed",
				"flow_id", cfg.FlowID,
				"context_hash", state.ContextHash,
				"last_seq", state.LastSeq,
				"batches", state.Batches,
			)
		}
	}
	if !resumed && cfg.InitialContext != "" {
		if initial, err = LoadContext(cfg.InitialContext); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load initial context", err)
		}
	}

	rt.Hub = events.NewHub()
	rt.closers = append(rt.closers, rt.Hub.Close)
	sinks := events.Fanout{rt.Hub}
	if cfg.MQTT != nil {
		mq, err := events.DialMQTT(events.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to MQTT broker", err)
		}
		rt.closers = append(rt.closers, mq.Close)
		sinks = append(sinks, mq)
	}

	machineOpts := []machine.Option{machine.WithSink(sinks)}
	dispatcherOpts := []engine.Option{
		engine.WithFlowID(cfg.FlowID),
		engine.WithClock(engine.NewClockAt(lastSeq)),
		engine.WithActionTimeout(cfg.ActionTimeout),
	}
	var journal server.Journal
	if rt.Store != nil {
		machineOpts = append(machineOpts, machine.WithPersister(rt.Store.ContextPersister(cfg.FlowID)))
		dispatcherOpts = append(dispatcherOpts, engine.WithRecorder(rt.Store))
		journal = rt.Store
	}

	rt.Machine = machine.New(initial, ir.NewUIState(rt.Definition), machineOpts...)
	rt.Dispatcher = engine.New(rt.Machine, registry, dispatcherOpts...)

	executor := rules.NewExecutor(nil)
	if rt.Definition != nil {
		rt.Elements = rules.NewElementWatcher(executor, rt.Machine, rt.Definition)
		rt.closers = append(rt.closers, rt.Elements.Close)
	}

	srv, err := server.New(server.Options{
		FlowID:     cfg.FlowID,
		Machine:    rt.Machine,
		Dispatcher: rt.Dispatcher,
		Executor:   executor,
		Definition: rt.Definition,
		Elements:   rt.Elements,
		Hub:        rt.Hub,
		Journal:    journal,
	})
	if err != nil {
		return nil, err
	}
	rt.Handler = srv

	return rt, nil
}

func runFlow(parentCtx context.Context, opts *RunOptions, cfg config.Config, cmd *cobra.Command) error {
	if !opts.Verbose {
		setupLogging(cmd.ErrOrStderr(), opts.LogFormat, parseLevel(cfg.LogLevel))
	}

	// Use command's context if available (for testing), otherwise create one
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpServer := &http.Server{
		Handler:           rt.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- rt.Dispatcher.Run(ctx)
	}()

	addr := ln.Addr().String()
	slog.Info("flow runtime started", "flow_id", cfg.FlowID, "listen", addr, "db", cfg.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving flow %s on http://%s\n", cfg.FlowID, addr)
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	rt.Dispatcher.Stop()
	<-runDone

	if runErr != nil {
		return WrapExitError(ExitFailure, "server error", runErr)
	}
	slog.Info("flow runtime stopped gracefully")
	return nil
}
