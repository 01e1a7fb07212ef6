package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"borg-tool/internal/application"
	"borg-tool/internal/display"
	appErrors "borg-tool/internal/errors"
	"borg-tool/internal/logging"
)

// CLI flag variables
var (
	cfgFile      string
	repoName     string
	verbose      bool
	quiet        bool
	logFile      string
	logFormat    string
	noColor      bool
	outputFormat string
)

// newApplication builds the application for one command. Tests swap it for
// one wired to a fake borg.
var newApplication = application.New

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "borg-tool",
	Short: "Browse, mount and back up BorgBackup repositories",
	Long: `borg-tool is an operator front end for BorgBackup. It picks a configured
repository, lists and mounts its archives through borg's FUSE support, and runs
named backup presets. Without a subcommand it starts the interactive mode.

Examples:
  # Interactive mode
  borg-tool

  # List archives of one repository as JSON
  borg-tool list --repo nas --format json

  # Show what a backup would run, then run it
  borg-tool backup home --repo nas --dry-run
  borg-tool backup home --repo nas

  # Mount an archive and release it later
  borg-tool mount atlas-20251127T010000Z --repo nas
  borg-tool umount /tmp/borg-tool-mounts/nas/atlas-20251127T010000Z --repo nas`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: validateFlags,
	RunE:              runInteractive,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/borg-tool/config.toml, then ./config.toml)")
	flags.StringVar(&repoName, "repo", "", "repository name from the config")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log borg invocations and mount transitions")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this file")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flags.BoolVar(&noColor, "no-color", false, "disable color output")
	flags.StringVar(&outputFormat, "format", "table", "listing format (table, json, yaml)")

	viper.BindPFlag("config", flags.Lookup("config"))
	viper.BindPFlag("repo", flags.Lookup("repo"))
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("quiet", flags.Lookup("quiet"))
	viper.BindPFlag("log_file", flags.Lookup("log-file"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("no_color", flags.Lookup("no-color"))
	viper.BindPFlag("format", flags.Lookup("format"))

	// Only presentation settings come from the environment; repositories
	// are configured in the file.
	viper.BindEnv("config", "BORG_TOOL_CONFIG")
	viper.BindEnv("log_file", "BORG_TOOL_LOG_FILE")
	viper.BindEnv("log_format", "BORG_TOOL_LOG_FORMAT")
	viper.BindEnv("format", "BORG_TOOL_FORMAT")

	rootCmd.AddCommand(interactiveCmd, createVersionCommand())
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start the interactive mode (default)",
	Args:  cobra.NoArgs,
	RunE:  runInteractive,
}

func runInteractive(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application.Application) error {
		return app.RunInteractive(ctx)
	})
}

// validateFlags validates CLI flags and their combinations
func validateFlags(cmd *cobra.Command, args []string) error {
	if viper.GetBool("verbose") && viper.GetBool("quiet") {
		return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}
	if _, err := display.ParseOutputFormat(viper.GetString("format")); err != nil {
		return err
	}
	switch viper.GetString("log_format") {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q (use text or json)", viper.GetString("log_format"))
	}
	return nil
}

func appOptions(cmd *cobra.Command) (application.Options, error) {
	format, err := display.ParseOutputFormat(viper.GetString("format"))
	if err != nil {
		return application.Options{}, err
	}
	return application.Options{
		ConfigPath: viper.GetString("config"),
		Repo:       viper.GetString("repo"),
		Verbose:    viper.GetBool("verbose"),
		Quiet:      viper.GetBool("quiet"),
		LogFile:    viper.GetString("log_file"),
		LogFormat:  viper.GetString("log_format"),
		NoColor:    viper.GetBool("no_color"),
		Format:     format,
		Out:        cmd.OutOrStdout(),
		Err:        cmd.ErrOrStderr(),
	}, nil
}

// reportedError has already been shown to the operator.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// withApp runs fn with a fully wired application and guarantees that every
// mount left behind is released, on return and on SIGINT/SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *application.Application) error) error {
	opts, err := appOptions(cmd)
	if err != nil {
		return err
	}

	app, err := newApplication(opts)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", appErrors.FormatUserError(err))
		return err
	}
	defer app.Close()
	app.Start()

	ctx := logging.WithOperationID(cmd.Context())
	app.Logger.WithContext(ctx).Debug(app.Describe())
	done := app.Logger.LogOperationStart(ctx, cmd.Name(), map[string]interface{}{"repo": opts.Repo})

	err = fn(ctx, app)
	done(err)

	var reported reportedError
	if err != nil && !errors.As(err, &reported) {
		app.Report(err)
	}
	return err
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "borg-tool version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
		},
	}
}
