package cmd

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"borg-tool/internal/config"
	"borg-tool/internal/display"
	"borg-tool/internal/registry"
)

var (
	// config add-repo flags
	addRepoName          string
	addRepoLocation      string
	addRepoBorgBin       string
	addRepoMountRoot     string
	addRepoArchivePrefix string
	addRepoNoPassphrase  bool
	addRepoNoProbeSSH    bool

	// config add-preset flags
	addPresetName          string
	addPresetIncludes      []string
	addPresetExcludes      []string
	addPresetCompression   string
	addPresetExcludeCaches bool
	addPresetOneFileSystem bool
	addPresetArchivePrefix string
)

// configCmd groups the config file helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and extend the config file",
	Long: `Add repositories and backup presets to the config file without editing
TOML by hand. The previous file is kept as <file>.bak.

Examples:
  borg-tool config add-repo --name nas --location ssh://backup@nas/./borg
  borg-tool config add-preset --repo nas --name home --include /home --exclude '/home/*/.cache'
  borg-tool config path`,
}

var configAddRepoCmd = &cobra.Command{
	Use:   "add-repo",
	Short: "Add a repository to the config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigAddRepo,
}

var configAddPresetCmd = &cobra.Command{
	Use:   "add-preset",
	Short: "Add a backup preset to the repository named by --repo",
	Args:  cobra.NoArgs,
	RunE:  runConfigAddPreset,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	f := configAddRepoCmd.Flags()
	f.StringVar(&addRepoName, "name", "", "repository name (required)")
	f.StringVar(&addRepoLocation, "location", "", "borg repository path or ssh:// URL (required)")
	f.StringVar(&addRepoBorgBin, "borg-bin", "", "borg binary for this repository")
	f.StringVar(&addRepoMountRoot, "mount-root", "", "directory archives are mounted under")
	f.StringVar(&addRepoArchivePrefix, "archive-prefix", "", "archive name prefix, used verbatim (default: none)")
	f.BoolVar(&addRepoNoPassphrase, "no-passphrase", false, "repository is not encrypted")
	f.BoolVar(&addRepoNoProbeSSH, "no-probe-ssh", false, "skip the SSH reachability check")
	configAddRepoCmd.MarkFlagRequired("name")
	configAddRepoCmd.MarkFlagRequired("location")

	f = configAddPresetCmd.Flags()
	f.StringVar(&addPresetName, "name", "", "preset name (required)")
	f.StringSliceVar(&addPresetIncludes, "include", nil, "path to back up (repeatable)")
	f.StringSliceVar(&addPresetExcludes, "exclude", nil, "borg exclude pattern (repeatable)")
	f.StringVar(&addPresetCompression, "compression", "", "borg compression spec, e.g. zstd,5")
	f.BoolVar(&addPresetExcludeCaches, "exclude-caches", false, "skip directories tagged with CACHEDIR.TAG")
	f.BoolVar(&addPresetOneFileSystem, "one-file-system", false, "stay on one file system")
	f.StringVar(&addPresetArchivePrefix, "archive-prefix", "", "archive name prefix for this preset")
	configAddPresetCmd.MarkFlagRequired("name")
	configAddPresetCmd.MarkFlagRequired("include")

	configCmd.AddCommand(configAddRepoCmd, configAddPresetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigAddRepo(cmd *cobra.Command, args []string) error {
	printer := configPrinter(cmd)
	cfg, path, err := loadOrEmpty()
	if err != nil {
		printer.Error(display.WarningText(err))
		return err
	}

	repo := config.RepoConfig{
		Name:          addRepoName,
		Repo:          addRepoLocation,
		BorgBin:       addRepoBorgBin,
		MountRoot:     addRepoMountRoot,
		ArchivePrefix: addRepoArchivePrefix,
		NoPassphrase:  addRepoNoPassphrase,
	}
	if addRepoNoProbeSSH {
		probe := false
		repo.ProbeSSH = &probe
	}

	next, err := cfg.AddRepository(repo)
	if err != nil {
		printer.Error(display.WarningText(err))
		return err
	}
	return saveAndReport(printer, next, path, fmt.Sprintf("Added repository '%s'", addRepoName))
}

func runConfigAddPreset(cmd *cobra.Command, args []string) error {
	printer := configPrinter(cmd)
	cfg, path, err := loadOrEmpty()
	if err != nil {
		printer.Error(display.WarningText(err))
		return err
	}

	// A lone repository needs no --repo.
	repoName := viper.GetString("repo")
	if repos := cfg.EffectiveRepos(); repoName == "" && len(repos) == 1 {
		repoName = repos[0].Name
	}

	next, err := cfg.AddPreset(repoName, config.PresetConfig{
		Name:          addPresetName,
		Includes:      addPresetIncludes,
		Excludes:      addPresetExcludes,
		Compression:   addPresetCompression,
		ExcludeCaches: addPresetExcludeCaches,
		OneFileSystem: addPresetOneFileSystem,
		ArchivePrefix: addPresetArchivePrefix,
	})
	if err != nil {
		printer.Error(display.WarningText(err))
		return err
	}
	return saveAndReport(printer, next, path, fmt.Sprintf("Added backup '%s' to repository '%s'", addPresetName, repoName))
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	explicit := viper.GetString("config")
	for _, path := range config.Candidates(explicit) {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), targetPath(explicit))
	configPrinter(cmd).Info("The file does not exist yet")
	return nil
}

// loadOrEmpty reads the config in use, or starts an empty one when no
// candidate file exists yet. It returns the path the result should be saved to.
func loadOrEmpty() (*config.Config, string, error) {
	explicit := viper.GetString("config")
	for _, path := range config.Candidates(explicit) {
		_, err := os.Stat(path)
		if stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}

	return config.NewConfig(), targetPath(explicit), nil
}

func targetPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return config.DefaultPath()
}

// saveAndReport writes the snapshot and reloads it, so what was written is
// what the next command will see.
func saveAndReport(printer *display.Printer, cfg *config.Config, path, message string) error {
	if err := cfg.Save(path); err != nil {
		printer.Error(display.WarningText(err))
		return err
	}
	reloaded, err := config.LoadFile(path)
	if err != nil {
		printer.Error(display.WarningText(err))
		return err
	}
	reg := registry.New(reloaded)
	printer.Success(fmt.Sprintf("%s in %s (%d repositories)", message, path, len(reg.Names())))
	return nil
}

func configPrinter(cmd *cobra.Command) *display.Printer {
	return display.NewPrinter(display.Options{
		Out:     cmd.OutOrStdout(),
		Err:     cmd.ErrOrStderr(),
		NoColor: viper.GetBool("no_color"),
		Quiet:   viper.GetBool("quiet"),
	})
}
