package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"borg-tool/internal/application"
	appErrors "borg-tool/internal/errors"
	"borg-tool/internal/registry"
)

var backupDryRun bool

// backupCmd runs a named backup preset
var backupCmd = &cobra.Command{
	Use:   "backup [preset]",
	Short: "Run a backup preset against the repository",
	Long: `Run one of the repository's configured backups with borg create.

The archive is named <prefix><UTC timestamp>. With a single preset the name
may be omitted. --dry-run prints the borg command without running it.

Exit status is 0 on success and when borg reports warnings only.

Examples:
  borg-tool backup home --repo nas
  borg-tool backup home --repo nas --dry-run
  borg-tool backup --repo usb --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupDryRun, "dry-run", false, "print the plan without running borg")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application.Application) error {
		repo, err := app.Repository(ctx)
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		preset, err := choosePreset(app, repo, name)
		if err != nil {
			return err
		}

		if backupDryRun {
			plan, err := app.Executor.Plan(repo, preset, time.Now())
			if err != nil {
				return err
			}
			return app.Printer.Plan(plan)
		}

		// Ask before the spinner starts drawing over the prompt.
		if _, err := secretFor(ctx, app, repo); err != nil {
			return err
		}
		spinner := app.Printer.StartSpinner(fmt.Sprintf("Backing up '%s' to %s...", preset.Name, repo.Name))
		out, err := app.Executor.Run(ctx, repo, preset)
		spinner.Stop("")
		if err != nil && out.Kind == "" {
			return err
		}
		if perr := app.Printer.Outcome(out); perr != nil {
			return perr
		}
		if err != nil {
			return reportedError{err}
		}
		return nil
	})
}

// choosePreset resolves the preset name; an empty name is only accepted when
// the repository has exactly one preset.
func choosePreset(app *application.Application, repo registry.Repository, name string) (registry.Preset, error) {
	if name != "" {
		return app.Registry.Preset(repo, name)
	}

	presets := app.Registry.Presets(repo)
	switch len(presets) {
	case 1:
		return presets[0], nil
	case 0:
		return registry.Preset{}, appErrors.NewPresetNotFoundError(repo.Name, "", nil).
			WithUserMessage(fmt.Sprintf("No backups configured for repo '%s'. Add one with `borg-tool config add-preset`.", repo.Name))
	}
	return registry.Preset{}, appErrors.NewPresetNotFoundError(repo.Name, "", repo.PresetNames()).
		WithUserMessage("Several backups configured. Choose one of: " + strings.Join(repo.PresetNames(), ", "))
}
