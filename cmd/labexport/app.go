package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ligustah/labexport/internal/config"
	"github.com/ligustah/labexport/internal/http"
	"github.com/ligustah/labexport/internal/logger"
	"github.com/ligustah/labexport/internal/workflow"
)

// Version is set via ldflags during build.
var Version = "dev"

var (
	errBadConfig = errors.New("invalid configuration")
	errUsage     = errors.New("invalid arguments")
)

type globalFlags struct {
	config   string
	url      string
	token    string
	output   string
	logLevel string
}

// app holds what one invocation needs. Config and runner are built in setup
// for every command, and again before each menu action.
type app struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	flags  globalFlags
	cfg    config.Config
	log    *logger.Logger
	runner *workflow.Runner
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := &app{in: bufio.NewReader(in), out: out, errOut: errOut}

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitSuccess
	case errors.Is(err, errUsage):
		fmt.Fprintln(errOut, errorStyle.Render(describe(err)))
		return ExitInvalidArgs
	default:
		fmt.Fprintln(errOut, errorStyle.Render(describe(err)))
		return ExitGeneralError
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "labexport",
		Short:             "Export GitLab projects to local archives",
		Long:              "labexport lists the projects of a GitLab host and exports a project's archive to disk.\nRun without a command for an interactive menu.",
		Version:           Version,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.menu(cmd.Context())
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.config, "config", "c", "", "config file (default "+config.DefaultPath+")")
	pf.StringVar(&a.flags.url, "url", "", "GitLab base URL")
	pf.StringVar(&a.flags.token, "token", "", "GitLab private token")
	pf.StringVarP(&a.flags.output, "output", "o", "", "directory for downloaded archives")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(a.listCommand(), a.exportCommand())
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	return a.configure()
}

// configure reads the configuration and rebuilds the logger and runner.
func (a *app) configure() error {
	cfg, err := config.Load(a.flags.config, config.Config{
		GitLab: config.GitLabConfig{URL: a.flags.url, Token: a.flags.token},
		Output: config.OutputConfig{Dir: a.flags.output},
		Log:    config.LogConfig{Level: a.flags.logLevel},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errBadConfig, err)
	}

	a.cfg = cfg
	a.log = logger.New(a.errOut, cfg.Log.Level)
	a.runner = workflow.New(cfg, http.NewClient(cfg.GitLab, a.log), a.log, a.out)
	return nil
}

func (a *app) listCommand() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects visible to the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := a.runner.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, renderProjects(projects))

			if !save {
				return nil
			}
			if err := a.runner.SaveProjects(projects); err != nil {
				return err
			}
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("Saved %d projects to %s", len(projects), a.runner.Store().Path())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "save the list for later exports")
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <project-id>",
		Short: "Export a project and download its archive",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return fmt.Errorf("%w: %w", errUsage, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("%w: project id must be a positive integer, got %q", errUsage, args[0])
			}
			return a.export(cmd.Context(), id)
		},
	}
}

func (a *app) export(ctx context.Context, id int64) error {
	res, err := a.runner.Export(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, describeResult(res))
	if res.MirrorErr != nil {
		fmt.Fprintln(a.out, warnStyle.Render("Archive mirror failed: "+res.MirrorErr.Error()))
	}
	return nil
}
