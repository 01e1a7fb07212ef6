package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"borg-tool/internal/application"
	"borg-tool/internal/borg"
	"borg-tool/internal/passphrase"
	"borg-tool/internal/registry"
)

// listCmd lists the archives of one repository
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives in a repository",
	Long: `List the archives of the selected repository, oldest first.

Examples:
  borg-tool list --repo nas
  borg-tool list --repo nas --format json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

// filesCmd lists the items of one archive
var filesCmd = &cobra.Command{
	Use:   "files [archive]",
	Short: "List files in an archive (default: the latest)",
	Long: `List the files stored in an archive. Without an argument the most
recent archive of the repository is used.

Examples:
  borg-tool files --repo nas
  borg-tool files atlas-20251127T010000Z --repo nas --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFiles,
}

// reposCmd shows every configured repository with its status
var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Show configured repositories and whether they are reachable",
	Args:  cobra.NoArgs,
	RunE:  runRepos,
}

func init() {
	rootCmd.AddCommand(listCmd, filesCmd, reposCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application.Application) error {
		repo, err := app.Repository(ctx)
		if err != nil {
			return err
		}
		archives, err := listArchives(ctx, app, repo)
		if err != nil {
			return err
		}
		return app.Printer.Archives(repo.Name, archives)
	})
}

func runFiles(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application.Application) error {
		repo, err := app.Repository(ctx)
		if err != nil {
			return err
		}

		var archive string
		if len(args) == 1 {
			archive = args[0]
		} else {
			archives, err := listArchives(ctx, app, repo)
			if err != nil {
				return err
			}
			if len(archives) == 0 {
				app.Printer.Info(fmt.Sprintf("No archives found in %s", repo.Name))
				return nil
			}
			archive = archives[len(archives)-1].Name
		}

		secret, err := secretFor(ctx, app, repo)
		if err != nil {
			return err
		}
		spinner := app.Printer.StartSpinner(fmt.Sprintf("Reading %s...", archive))
		items, err := app.Client.ListItems(ctx, repo, archive, secret)
		spinner.Stop("")
		if err != nil {
			return err
		}
		return app.Printer.Items(archive, items)
	})
}

func runRepos(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application.Application) error {
		return app.Printer.RepoStatuses(app.Prober.StatusAll(ctx, app.Registry.Repositories()))
	})
}

func listArchives(ctx context.Context, app *application.Application, repo registry.Repository) ([]borg.Archive, error) {
	secret, err := secretFor(ctx, app, repo)
	if err != nil {
		return nil, err
	}
	spinner := app.Printer.StartSpinner(fmt.Sprintf("Listing archives in %s...", repo.Name))
	archives, err := app.Client.ListArchives(ctx, repo, secret)
	spinner.Stop("")
	return archives, err
}

// secretFor asks for the passphrase once per process unless the repository
// is configured without one.
func secretFor(ctx context.Context, app *application.Application, repo registry.Repository) (passphrase.Secret, error) {
	if repo.NoPassphrase {
		return passphrase.None(), nil
	}
	return app.Cache.GetOrPrompt(ctx, repo.Location)
}
