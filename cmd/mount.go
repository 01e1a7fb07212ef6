package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"borg-tool/internal/application"
	"borg-tool/internal/display"
	"borg-tool/internal/mount"
)

var mountTarget string

// mountCmd mounts one archive and leaves it mounted
var mountCmd = &cobra.Command{
	Use:   "mount <archive>",
	Short: "Mount an archive with borg's FUSE support",
	Long: `Mount an archive read-only. Without --target the archive is mounted under
the repository's mount root. The mount outlives the command; release it with
'borg-tool umount'.

Examples:
  borg-tool mount atlas-20251127T010000Z --repo nas
  borg-tool mount atlas-20251127T010000Z --repo nas --target /mnt/restore`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

// umountCmd releases a mountpoint created earlier
var umountCmd = &cobra.Command{
	Use:   "umount <mountpoint>",
	Short: "Unmount an archive mounted earlier",
	Args:  cobra.ExactArgs(1),
	RunE:  runUmount,
}

func init() {
	mountCmd.Flags().StringVar(&mountTarget, "target", "", "mountpoint (default: <mount root>/<repo>/<archive>)")
	rootCmd.AddCommand(mountCmd, umountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application.Application) error {
		repo, err := app.Repository(ctx)
		if err != nil {
			return err
		}
		archive := args[0]

		target := mountTarget
		if target == "" {
			target = mount.DefaultMountpoint(repo, archive)
		}
		// A mount left by an earlier run is reported, not stacked on.
		if existing, mounted, err := app.Mounts.Adopt(repo, target); err != nil {
			return err
		} else if mounted {
			app.Mounts.Detach(existing.Mountpoint)
			app.Printer.Info(fmt.Sprintf("Already mounted at %s", existing.Mountpoint))
			return nil
		}

		if _, err := secretFor(ctx, app, repo); err != nil {
			return err
		}
		spinner := app.Printer.StartSpinner(fmt.Sprintf("Mounting %s...", archive))
		session, err := app.Mounts.Mount(ctx, repo, archive, target)
		spinner.Stop("")
		var already *mount.AlreadyMountedError
		if errors.As(err, &already) {
			app.Printer.Info(fmt.Sprintf("Already mounted at %s", already.Session.Mountpoint))
			return nil
		}
		if err != nil {
			return err
		}

		// The command's exit must not unmount what it just mounted.
		app.Mounts.Detach(session.Mountpoint)

		if app.Printer.Format() != display.FormatTable {
			return app.Printer.Sessions([]mount.Session{session})
		}
		fmt.Fprintln(cmd.OutOrStdout(), session.Mountpoint)
		app.Printer.Success(fmt.Sprintf("Mounted %s. Release it with: borg-tool umount %s", archive, session.Mountpoint))
		return nil
	})
}

func runUmount(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application.Application) error {
		repo, err := app.Repository(ctx)
		if err != nil {
			return err
		}

		session, mounted, err := app.Mounts.Adopt(repo, args[0])
		if err != nil {
			return err
		}
		if !mounted {
			app.Printer.Info(fmt.Sprintf("Nothing mounted at %s", args[0]))
			return nil
		}

		if err := app.Mounts.Unmount(ctx, session.Mountpoint); err != nil {
			return err
		}
		app.Printer.Success(fmt.Sprintf("Unmounted %s", session.Mountpoint))
		return nil
	})
}
