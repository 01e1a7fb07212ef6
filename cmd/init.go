package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"borg-tool/internal/application"
	"borg-tool/internal/passphrase"
)

var initEncryption string

// initCmd creates the configured repository with borg init
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the selected repository with borg init",
	Long: `Initialise the repository selected with --repo. The location comes from
the config file; add it first with 'borg-tool config add-repo'.

Examples:
  borg-tool init --repo usb
  borg-tool init --repo nas --encryption repokey-blake2`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initEncryption, "encryption", "repokey", "borg encryption mode (none, repokey, keyfile, ...)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application.Application) error {
		// The repository does not exist yet, so no existence check.
		repo, err := app.Selected()
		if err != nil {
			return err
		}

		secret := passphrase.None()
		if initEncryption != "none" && !repo.NoPassphrase {
			if secret, err = app.Cache.GetOrPrompt(ctx, repo.Location); err != nil {
				return err
			}
		}

		spinner := app.Printer.StartSpinner(fmt.Sprintf("Initialising %s...", repo.Location))
		err = app.Client.Init(ctx, repo, initEncryption, secret)
		spinner.Stop("")
		if err != nil {
			return err
		}
		app.Printer.Success(fmt.Sprintf("Initialised repository '%s' at %s (encryption: %s)", repo.Name, repo.Location, initEncryption))
		return nil
	})
}
