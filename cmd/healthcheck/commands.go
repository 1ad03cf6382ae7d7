package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/config"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

type rootFlags struct {
	configPath   string
	unattended   bool
	toJSON       bool
	toPrometheus string
	noColor      bool
	debug        bool
}

// newRootCmd builds the command tree. The config file is read before the
// tree exists because the check options take their defaults from it.
func newRootCmd(args []string) *cobra.Command {
	flags := &rootFlags{configPath: configFlag(args)}
	cfg, err := config.Load(flags.configPath)
	if errors.Is(err, config.ErrConfigFileNotFound) && flags.configPath == config.DefaultPath {
		// without the default file, fall back to defaults plus environment
		cfg, err = config.Load("")
	}
	a := newApp(cfg, err)

	root := &cobra.Command{
		Use:   "healthcheck [module] [test]",
		Short: "Inspect the health of the storage cluster",
		Long: "healthcheck runs one-shot health checks against the local node and the cluster.\n" +
			"Without arguments every check runs; with a module only that module's checks run.",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, flags, func(ctx context.Context, d *check.Dispatcher) error {
				return d.RunAll(ctx)
			})
		},
	}
	root.SetArgs(args)
	root.SetVersionTemplate("healthcheck {{.Version}}")

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", flags.configPath, "path to healthcheck.yml")
	pf.BoolVar(&flags.unattended, "unattended", false, "print one '<test> LABEL' line per test")
	pf.BoolVar(&flags.toJSON, "to-json", false, "print the results as JSON (wins over --unattended)")
	pf.StringVar(&flags.toPrometheus, "to-prometheus", "", "also write the results to this Prometheus textfile")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable coloured output")
	pf.BoolVar(&flags.debug, "show-debug", false, "include debug entries in human output")

	for _, module := range a.reg.Modules() {
		root.AddCommand(a.moduleCmd(module, flags))
	}
	root.AddCommand(a.listCmd(), codesCmd())
	return root
}

func (a *app) moduleCmd(module string, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   module + " [test]",
		Short: fmt.Sprintf("Run the %s checks", module),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, flags, func(ctx context.Context, d *check.Dispatcher) error {
				return d.RunModule(ctx, module)
			})
		},
	}
	for _, c := range a.reg.Module(module) {
		cmd.AddCommand(a.testCmd(c, flags))
	}
	return cmd
}

func (a *app) testCmd(c check.Check, flags *rootFlags) *cobra.Command {
	values := make(map[string]*string, len(c.Options))
	cmd := &cobra.Command{
		Use:   c.Name,
		Short: c.Description,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := check.Options{}
			for name, v := range values {
				if cmd.Flags().Changed(name) {
					opts[name] = *v
				}
			}
			return a.run(cmd, flags, func(ctx context.Context, d *check.Dispatcher) error {
				return d.Run(ctx, c.Module, c.Name, opts)
			})
		},
	}
	for _, o := range c.Options {
		values[o.Name] = cmd.Flags().String(o.Name, o.Default, o.Help)
	}
	return cmd
}

// run connects the app, dispatches and writes the results. Errors returned
// before dispatching (bad config, unknown test) make the process fail.
func (a *app) run(cmd *cobra.Command, flags *rootFlags, dispatch func(context.Context, *check.Dispatcher) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	d, agg, err := a.connect(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", err)
		return err
	}
	if err := dispatch(ctx, d); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", err)
		return err
	}

	out := cmd.OutOrStdout()
	opts := result.RenderOptions{
		Color:        !flags.noColor && isTerminal(out),
		ShowDebug:    flags.debug,
		ShowSummary:  true,
		ShowCodeHint: true,
	}
	if err := agg.Serialize(out, result.ModeFor(flags.unattended, flags.toJSON), opts); err != nil {
		a.logger.Error("writing results", "error", err)
	}
	if flags.toPrometheus != "" {
		if err := agg.WritePrometheus(flags.toPrometheus); err != nil {
			a.logger.Error("writing prometheus textfile", "path", flags.toPrometheus, "error", err)
		}
	}
	return nil
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Module", "Test", "Scope", "Addon", "Options", "Description"})
			for _, c := range a.reg.All() {
				opts := make([]string, 0, len(c.Options))
				for _, o := range c.Options {
					opts = append(opts, fmt.Sprintf("--%s=%s", o.Name, o.Default))
				}
				tw.AppendRow(table.Row{c.Module, c.Name, c.Scope.String(), c.Addon, strings.Join(opts, " "), c.Description})
			}
			tw.SetStyle(table.StyleLight)
			tw.Render()
			return nil
		},
	}
}

func codesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "Print the error-code catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Code", "Name", "Description", "Hint"})
			for _, c := range result.Catalogue() {
				tw.AppendRow(table.Row{c.ID, c.Name, c.Description, c.Hint})
			}
			tw.SetStyle(table.StyleLight)
			tw.Render()
			return nil
		},
	}
}

// configFlag finds --config in args ahead of cobra's own parsing.
func configFlag(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return config.DefaultPath
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
