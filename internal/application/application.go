// Package application wires the components together for one process and
// owns their shutdown.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"borg-tool/internal/backup"
	"borg-tool/internal/borg"
	"borg-tool/internal/config"
	"borg-tool/internal/display"
	appErrors "borg-tool/internal/errors"
	"borg-tool/internal/logging"
	"borg-tool/internal/mount"
	"borg-tool/internal/passphrase"
	"borg-tool/internal/probe"
	"borg-tool/internal/registry"
	"borg-tool/internal/tui"
)

// Options are the process-wide settings taken from global flags.
type Options struct {
	ConfigPath string
	Repo       string
	Verbose    bool
	Quiet      bool
	LogFile    string
	LogFormat  string
	NoColor    bool
	Format     display.OutputFormat

	Out io.Writer
	Err io.Writer
}

// Application holds every long-lived component of one run.
type Application struct {
	Config   *config.Config
	Registry *registry.Registry
	Logger   *logging.Logger
	Cache    *passphrase.Cache
	Client   *borg.Client
	Executor *backup.Executor
	Mounts   *mount.Manager
	Prober   *probe.Prober
	Printer  *display.Printer
	Host     string

	opts            Options
	classifier      *appErrors.ErrorClassifier
	shutdownHandler *appErrors.GracefulShutdownHandler
	closeOnce       sync.Once
}

// New loads the config and builds the real components.
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(opts)
	if err != nil {
		return nil, err
	}

	return Build(cfg, Deps{
		Runner:   borg.NewExecRunner(logger),
		Prompter: passphrase.NewTerminalPrompter(),
		Remote:   probe.NewSSHProber(),
		Logger:   logger,
	}, opts), nil
}

// Deps are the process boundaries of the application. Tests replace them.
type Deps struct {
	Runner   borg.Runner
	Prompter passphrase.Prompter
	Remote   probe.RemoteProber
	Logger   *logging.Logger
}

// Build wires components around an already loaded config.
func Build(cfg *config.Config, deps Deps, opts Options) *Application {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	reg := registry.New(cfg)
	client := borg.NewClient(deps.Runner, borg.NewExitClassifier(reg.WarningExitCodes()))
	cache := passphrase.NewCache(deps.Prompter)

	app := &Application{
		Config:   cfg,
		Registry: reg,
		Logger:   logger,
		Cache:    cache,
		Client:   client,
		Executor: backup.NewExecutor(client, cache, logger),
		Mounts:   mount.NewManager(client, cache, logger),
		Prober:   probe.New(deps.Remote, logger),
		Printer: display.NewPrinter(display.Options{
			Out:     opts.Out,
			Err:     opts.Err,
			Format:  opts.Format,
			NoColor: opts.NoColor,
			Quiet:   opts.Quiet,
		}),
		Host:            ShortHostname(),
		opts:            opts,
		classifier:      appErrors.NewErrorClassifier(),
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
	}

	// Shutdown runs these in reverse: mounts first, then the log sink.
	app.shutdownHandler.RegisterShutdownFunc(logger.Close)
	app.shutdownHandler.RegisterShutdownFunc(func() error {
		return app.Mounts.Shutdown(context.Background())
	})
	return app
}

func newLogger(opts Options) (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if opts.Quiet {
		level = logging.LogLevelQuiet
	} else if opts.Verbose {
		level = logging.LogLevelVerbose
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   level,
		Output:  opts.Err,
		Format:  opts.LogFormat,
		LogFile: opts.LogFile,
	})
	if err != nil {
		return nil, appErrors.NewConfigError("cannot set up logging", err)
	}
	return logger, nil
}

// Start installs the SIGINT/SIGTERM handler that releases every mount.
func (app *Application) Start() {
	app.shutdownHandler.Start()
}

// Close releases remaining mounts and the log sink and stops listening for
// signals. Later calls do nothing.
func (app *Application) Close() error {
	app.closeOnce.Do(func() {
		app.shutdownHandler.Shutdown()
		app.shutdownHandler.Stop()
	})
	return nil
}

// Selected resolves the repository named by --repo without checking that it
// exists yet; `init` needs that.
func (app *Application) Selected() (registry.Repository, error) {
	repo, _, err := app.Registry.Select(app.opts.Repo, false)
	return repo, err
}

// Repository resolves the repository of a direct command. A local repository
// whose path does not exist is an error here; interactive selection only
// shows it as missing.
func (app *Application) Repository(ctx context.Context) (registry.Repository, error) {
	repo, err := app.Selected()
	if err != nil {
		return registry.Repository{}, err
	}
	if repo.IsRemote() {
		return repo, nil
	}
	if res := app.Prober.Status(ctx, repo); res.Status == probe.StatusMissing {
		return registry.Repository{}, res.Warning
	}
	return repo, nil
}

// RunInteractive starts the terminal UI. The repository menu opens directly
// when the choice is unambiguous.
func (app *Application) RunInteractive(ctx context.Context) error {
	repo, ok, err := app.Registry.Select(app.opts.Repo, true)
	if err != nil {
		return err
	}

	// Log lines would draw over the UI.
	if app.opts.LogFile == "" && !app.opts.Verbose {
		app.Logger.SetLevel(logging.LogLevelQuiet)
	}

	var opts []tui.Option
	if ok {
		opts = append(opts, tui.WithStartRepo(repo.Name))
	}
	return tui.Run(ctx, tui.Deps{
		Registry: app.Registry,
		Prober:   app.Prober,
		Client:   app.Client,
		Cache:    app.Cache,
		Executor: app.Executor,
		Mounts:   app.Mounts,
		Logger:   app.Logger,
		Host:     app.Host,
	}, opts...)
}

// Classify turns any error into an AppError for rendering.
func (app *Application) Classify(err error) *appErrors.AppError {
	return app.classifier.ClassifyError(err)
}

// Report renders err on stderr and logs its details.
func (app *Application) Report(err error) {
	if err == nil {
		return
	}
	appErr := app.Classify(err)
	app.Logger.WithFields(map[string]interface{}{
		"error_type":  string(appErr.Type),
		"recoverable": appErr.IsRecoverable(),
		"context":     appErr.Context,
	}).Debug("Command failed")

	var cmdErr *borg.CommandError
	if errors.As(err, &cmdErr) {
		app.Printer.Error(strings.TrimSpace(cmdErr.Error()))
		return
	}
	app.Printer.Error(appErrors.FormatUserError(appErr))
}

// ShortHostname is the host name up to the first dot, from $HOSTNAME or the
// kernel, or "unknown".
func ShortHostname() string {
	name := os.Getenv("HOSTNAME")
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		}
	}
	name, _, _ = strings.Cut(strings.TrimSpace(name), ".")
	if name == "" {
		return "unknown"
	}
	return name
}

// Describe is a one-line summary of the loaded configuration for --verbose.
func (app *Application) Describe() string {
	return fmt.Sprintf("config %s, %d repositories, host %s",
		app.Config.Path, len(app.Registry.Names()), app.Host)
}
