package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sshmux/internal/config"
	"sshmux/internal/errors"
	"sshmux/internal/executor"
	"sshmux/internal/logging"
	"sshmux/internal/output"
	"sshmux/internal/ssh"
	"sshmux/internal/template"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// InvokerFactory picks the transport for a run.
type InvokerFactory func(settings *config.Settings, fs afero.Fs, logger *logging.Logger) ssh.Invoker

// app carries everything a run touches outside the process.
type app struct {
	fs         afero.Fs
	stdout     io.Writer
	stderr     io.Writer
	newInvoker InvokerFactory
}

func main() {
	a := &app{
		fs:         afero.NewOsFs(),
		stdout:     color.Output,
		stderr:     color.Error,
		newInvoker: defaultInvoker,
	}

	if err := a.execute(os.Args[1:]); err != nil {
		os.Exit(getExitCode(err))
	}
}

func defaultInvoker(settings *config.Settings, fs afero.Fs, logger *logging.Logger) ssh.Invoker {
	if settings.Transport == config.TransportNative {
		return ssh.NewNativeInvoker(fs, logger)
	}
	return ssh.NewCommandInvoker(settings.SSHBinary, fs, logger)
}

// execute runs the root command and prints any error once.
func (a *app) execute(args []string) error {
	if args == nil {
		args = []string{}
	}
	cmd := a.newRootCmd()
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return err
}

func (a *app) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sshmux [flags]",
		Short: "Run one command on many SSH hosts at once",
		Long: `sshmux reads a command and a list of hosts from a config file, runs the
command on every host in parallel through ssh, and interleaves the output
line by line with a colored [host] tag in front of each line.

Examples:
  # Run the command from ./sshmux.toml on every host
  sshmux

  # Use another config file and print connection notices
  sshmux -c prod.toml -v

  # Only validate the config file
  sshmux --check-config

Every flag can also be set from the environment:
  ` + strings.Join(config.GetEnvVarNames(), "\n  "),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd)
		},
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sshmux %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.Flags()
	flags.StringP("config", "c", config.DefaultPath, "Path to the config file")
	flags.BoolP("verbose", "v", false, "Print the loaded config and a connecting notice per host")
	flags.Bool("check-config", false, "Validate the config file and exit")
	flags.Bool("force", false, "Allow duplicate host entries")
	flags.Int("concurrency", 0, "Maximum hosts running at once (0 for no limit)")
	flags.String("transport", config.TransportExec, "How to reach hosts (exec, native)")
	flags.String("ssh-binary", ssh.DefaultBinary, "ssh client used by the exec transport")
	flags.Bool("template", false, "Render the command as a template per host")
	flags.Bool("fail-on-error", false, "Exit 1 if any host fails")
	flags.Bool("no-color", false, "Disable colored host tags")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (json, text)")

	return rootCmd
}

func (a *app) run(cmd *cobra.Command) error {
	settings, err := config.LoadSettings(cmd.Flags())
	if err != nil {
		return &SetupError{Message: "invalid settings", Err: err}
	}

	logger := logging.NewLoggerFromConfig(settings.LogLevel, settings.LogFormat, a.stderr)

	manager := config.NewManager(a.fs)
	file, err := manager.Load(settings.Config)
	if err != nil {
		logger.LogConfigError(settings.Config, err)
		return &SetupError{Err: err}
	}
	logger.LogConfigLoad(settings.Config, len(file.Hosts))

	if settings.CheckConfig {
		if err := manager.Validate(file, settings.Force); err != nil {
			return &SetupError{Err: err}
		}
		fmt.Fprintln(a.stdout, "Config is valid.")
		return nil
	}

	if settings.Verbose {
		dump, err := yaml.Marshal(file.Hosts)
		if err != nil {
			return &SetupError{Message: "failed to render hosts", Err: err}
		}
		fmt.Fprintf(a.stdout, "Loaded config: Command='%s', Hosts=\n%s", file.Command, dump)
	}

	if err := manager.Validate(file, settings.Force); err != nil {
		return &SetupError{Err: err}
	}

	if !settings.Template && template.IsTemplate(file.Command) {
		logger.Warn("command contains template syntax but --template is off; running it verbatim", "command", file.Command)
	}

	supervisor := executor.NewSupervisor(
		a.newInvoker(settings, a.fs, logger),
		output.NewWriterSink(a.stdout, a.stderr),
		output.NewTagger(settings.NoColor || color.NoColor),
		logger,
		executor.Config{
			Concurrency: settings.Concurrency,
			Verbose:     settings.Verbose,
			Template:    settings.Template,
		},
	)

	report, err := supervisor.Run(cmd.Context(), executor.RunSpec{Command: file.Command, Targets: file.Hosts})
	if err != nil {
		return &SetupError{Err: err}
	}
	logger.Info("run finished", "summary", report.Summary())

	if settings.FailOnError {
		if err := report.Err(); err != nil {
			return &ExecutionError{Message: report.Summary(), Err: err}
		}
	}

	return nil
}

// ExecutionError represents failed hosts in a strict run (exit code 1)
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// SetupError represents an error during setup/configuration (exit code 2)
type SetupError struct {
	Message string
	Err     error
}

func (e *SetupError) Error() string {
	switch {
	case e.Message == "":
		return e.Err.Error()
	case e.Err == nil:
		return e.Message
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// getExitCode determines the appropriate exit code based on error type
// Returns:
//   - 0: Success (the run finished, failed hosts included unless --fail-on-error)
//   - 1: Execution failure (--fail-on-error and one or more hosts failed)
//   - 2: Setup error (invalid flags, configuration issues, etc.)
func getExitCode(err error) int {
	if err == nil {
		return 0
	}

	var execErr *ExecutionError
	switch {
	case stderrors.As(err, &execErr):
		return 1
	case errors.TypeOf(err) == errors.ValidationErrorType:
		return 2
	default:
		// Unknown errors, including cobra flag parse errors, are setup errors
		return 2
	}
}
