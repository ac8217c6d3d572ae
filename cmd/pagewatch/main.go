// Command pagewatch watches one region of a web page and notifies when it
// changes.
//
// Usage:
//
//	pagewatch -c pagewatch.yaml            # one run, exit code reports the outcome
//	pagewatch preview -c pagewatch.yaml    # show what a run would see, no side effects
//	pagewatch status -c pagewatch.yaml     # show the stored digest
//	pagewatch serve -c pagewatch.yaml      # HTTP status API
//	pagewatch mcp -c pagewatch.yaml        # MCP server over stdio
//
// Exit codes: 0 done, 1 other failure, 2 configuration, 3 fetch,
// 4 extraction, 5 notification, 6 persistence, 7 state load.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagewatch/config"
	"github.com/hazyhaar/pagewatch/engine"
	"github.com/hazyhaar/pagewatch/statusapi"
	"github.com/hazyhaar/pagewatch/watch"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "pagewatch:", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *configError
	switch {
	case errors.As(err, &ce), errors.Is(err, config.ErrInvalidConfig):
		return 2
	case errors.Is(err, watch.ErrOpenState):
		return 7
	}
	switch engine.StageOf(err) {
	case engine.StageFetch:
		return 3
	case engine.StageExtract:
		return 4
	case engine.StageNotify:
		return 5
	case engine.StagePersist:
		return 6
	case engine.StageLoad:
		return 7
	}
	return 1
}

// configError marks a configuration that could not be read or parsed.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

type app struct {
	configPath string
	logLevel   string
	stderr     io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pagewatch",
		Short:         "Watch a page region and notify on change",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: a.runCmd,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (YAML, or TOML with a .toml extension)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one detection pass",
			Args:  cobra.NoArgs,
			RunE:  a.runCmd,
		},
		&cobra.Command{
			Use:   "preview",
			Short: "Fetch and extract, print items, digest and verdict; never notify or save",
			Args:  cobra.NoArgs,
			RunE:  a.previewCmd,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the stored digest",
			Args:  cobra.NoArgs,
			RunE:  a.statusCmd,
		},
		a.serveCmd(),
		&cobra.Command{
			Use:   "mcp",
			Short: "Serve the watch tools over MCP stdio",
			Args:  cobra.NoArgs,
			RunE:  a.mcpCmd,
		},
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &configError{err: err}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return &configError{err: err}
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(a.stderr, opts)
	if cfg.Log.Format == "text" {
		h = slog.NewTextHandler(a.stderr, opts)
	}
	a.cfg = cfg
	a.logger = slog.New(h)
	return nil
}

func (a *app) service(ctx context.Context) (*watch.Service, error) {
	svc, err := watch.New(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("pagewatch: config", a.cfg.Summary()...)
	return svc, nil
}

func (a *app) runCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	_, runErr := svc.Run(ctx)

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := svc.PushMetrics(pushCtx); err != nil {
		a.logger.Warn("pagewatch: push metrics", "error", err)
	}
	return runErr
}

func (a *app) previewCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Preview(ctx)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), watch.NewPreviewResponse(a.cfg.WatchID, a.cfg.TargetURL, res))
}

func (a *app) statusCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Status(ctx)
	if err != nil {
		return &engine.RunError{Stage: engine.StageLoad, Err: err}
	}
	if !st.HasBaseline {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: no baseline\n", st.WatchID)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), st)
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if addr == "" {
				addr = a.cfg.Serve.Addr
			}
			srv := statusapi.NewServer(addr, svc, a.logger)

			errc := make(chan error, 1)
			go func() {
				a.logger.Info("pagewatch: server starting", "addr", addr, "watch_id", a.cfg.WatchID)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			a.logger.Info("pagewatch: shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides serve.addr)")
	return cmd
}

func (a *app) mcpCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := mcp.NewServer(&mcp.Implementation{Name: "pagewatch", Version: version}, nil)
	svc.RegisterMCP(srv)
	a.logger.Info("pagewatch: mcp server on stdio", "watch_id", a.cfg.WatchID)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
