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
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yamonco/ward/internal/cli"
	"github.com/yamonco/ward/internal/config"
	"github.com/yamonco/ward/internal/engine"
	"github.com/yamonco/ward/internal/hook"
	"github.com/yamonco/ward/internal/ledger"
	"github.com/yamonco/ward/internal/mcpserver"
	"github.com/yamonco/ward/internal/policy"
)

// app carries the global flags and what PersistentPreRunE builds from
// them.
type app struct {
	configPath string
	root       string

	cfg    *config.Config
	logger *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "ward",
		Short:         "Hierarchical .ward policies for commands and agents",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (default: .ward.yml or ~/.config/ward/config.yml)")
	root.PersistentFlags().StringVar(&a.root, "root", "", "Root boundary; policy files above it are ignored")

	root.AddCommand(
		a.checkCmd(),
		a.infoCmd(),
		a.commentCmd(),
		a.validateCmd(),
		a.initCmd(),
		a.lockCmd(true),
		a.lockCmd(false),
		a.hookCmd(),
		a.mcpCmd(),
	)
	return root
}

func (a *app) setup() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if a.root != "" {
		cfg.Root = a.root
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(a.stderr, opts)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(a.stderr, opts)
	}
	a.cfg = cfg
	a.logger = slog.New(handler)
	return nil
}

func (a *app) engine() (*engine.Engine, error) {
	return engine.New(a.cfg, engine.WithLogger(a.logger))
}

func (a *app) checkCmd() *cobra.Command {
	var mkdir, write bool
	cmd := &cobra.Command{
		Use:   "check <path> [command]",
		Short: "Check whether a command may run at path",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := policy.Generic
			switch {
			case mkdir:
				kind = policy.DirectoryCreate
			case write:
				kind = policy.FileWrite
			}
			req := policy.Request{Target: args[0], Kind: kind}
			if len(args) == 2 {
				req.Command = args[1]
			}

			e, err := a.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			d, err := e.Check(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !d.Allowed() {
				fmt.Fprintln(a.stderr, d.Reason)
				return errDenied
			}
			fmt.Fprintln(a.stdout, "ALLOW")
			return nil
		},
	}
	cmd.Flags().BoolVar(&mkdir, "mkdir", false, "Path is a directory to be created")
	cmd.Flags().BoolVar(&write, "write", false, "Path is a file to be written")
	cmd.MarkFlagsMutuallyExclusive("mkdir", "write")
	return cmd
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [path]",
		Short: "Show the merged policy for path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.Resolve(argOr(args, 0, "."))
			if err != nil {
				return err
			}
			source := a.cfg.Source
			if source == "" {
				source = "defaults"
			}
			fmt.Fprintf(a.stdout, "config: %s\n", source)
			fmt.Fprint(a.stdout, res.Describe())
			return nil
		},
	}
}

func (a *app) commentCmd() *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "comment <path> <text...>",
		Short: "Append a note to the nearest policy file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			text := ledger.Attributed(author, strings.Join(args[1:], " "))
			if err := e.Comment(args[0], text); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "comment added")
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Author prefix for the note")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Report malformed directive values in a policy file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			issues, err := e.Validate(argOr(args, 0, "."))
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Fprintln(a.stdout, "OK")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintln(a.stdout, issue.Error())
			}
			return fmt.Errorf("%d malformed directive value(s)", len(issues))
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a starter policy file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cli.RunInit(a.stdout, argOr(args, 0, "."), a.cfg.PolicyFile, description)
			return err
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Policy description")
	return cmd
}

func (a *app) lockCmd(lock bool) *cobra.Command {
	var message string
	var force bool
	use, short := "lock", "Forbid new directories and file writes under path"
	if !lock {
		use, short = "unlock", "Lift both locks under path"
	}
	cmd := &cobra.Command{
		Use:   use + " <path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run := cli.RunUnlock
			if lock {
				run = cli.RunLock
			}
			_, err := run(a.stdout, args[0], a.cfg.PolicyFile, message, force)
			return err
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Reason recorded in the description")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing policy file")
	cmd.MarkFlagRequired("message")
	return cmd
}

func (a *app) hookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Evaluate an agent PreToolUse payload read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := hook.ReadInput(a.stdin)
			if err != nil {
				return err
			}

			e, err := a.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := hook.NewEvaluator(e, a.cfg).Evaluate(cmd.Context(), input)
			if err != nil {
				return err
			}
			if !result.Allowed {
				fmt.Fprintln(a.stderr, result.Reason)
				return errDenied
			}
			return json.NewEncoder(a.stdout).Encode(hook.Output{Decision: "allow"})
		},
	}
}

func (a *app) mcpCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ward tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := a.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Watch(ctx); err != nil {
				return fmt.Errorf("watch policy files: %w", err)
			}

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, e, a.logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			a.logger.Info("mcp server starting", "root", a.cfg.Root, "version", version)
			return mcpserver.New(e, version, a.logger).ServeStdio()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	return cmd
}

func serveMetrics(addr string, e *engine.Engine, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Metrics().Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

func argOr(args []string, i int, def string) string {
	if i < len(args) {
		return args[i]
	}
	return def
}
