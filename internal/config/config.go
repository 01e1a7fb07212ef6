package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "borg-tool/internal/errors"
)

const (
	// AppName names the config directory and the env prefix
	AppName = "borg-tool"
	// EnvPrefix is prepended to scalar overrides, e.g. BORG_TOOL_BORG_BIN
	EnvPrefix = "BORG_TOOL"
	// LegacyRepoName is given to the repository declared by the legacy top-level `repo` key
	LegacyRepoName = "default"
	// DefaultBorgBin is used when neither the repository nor the globals name a binary
	DefaultBorgBin = "borg"
)

// Config is one loaded snapshot of the config file.
type Config struct {
	BorgBin          string       `mapstructure:"borg_bin"`
	MountRoot        string       `mapstructure:"mount_root"`
	ProbeSSH         bool         `mapstructure:"probe_ssh"`
	WarningExitCodes []int        `mapstructure:"warning_exit_codes"`
	Repo             string       `mapstructure:"repo"`
	Repos            []RepoConfig `mapstructure:"repos"`

	// Path is the file the snapshot was read from; empty for in-memory configs
	Path string `mapstructure:"-"`

	// fileGlobals are the top-level settings as written in the file, and
	// loaded the same settings after env overrides and defaults. Save uses
	// them so an override never becomes part of the file.
	fileGlobals map[string]interface{}
	loaded      map[string]interface{}
}

// globalKeys are the top-level settings env overrides and defaults apply to.
var globalKeys = []string{"borg_bin", "mount_root", "probe_ssh", "warning_exit_codes"}

// RepoConfig is a [[repos]] entry.
type RepoConfig struct {
	Name          string         `mapstructure:"name"`
	Repo          string         `mapstructure:"repo"`
	BorgBin       string         `mapstructure:"borg_bin"`
	MountRoot     string         `mapstructure:"mount_root"`
	ProbeSSH      *bool          `mapstructure:"probe_ssh"`
	ArchivePrefix string         `mapstructure:"archive_prefix"`
	NoPassphrase  bool           `mapstructure:"no_passphrase"`
	Backups       []PresetConfig `mapstructure:"backups"`
}

// PresetConfig is a [[repos.backups]] entry.
type PresetConfig struct {
	Name          string   `mapstructure:"name"`
	Includes      []string `mapstructure:"includes"`
	Excludes      []string `mapstructure:"excludes"`
	Compression   string   `mapstructure:"compression"`
	OneFileSystem bool     `mapstructure:"one_file_system"`
	ExcludeCaches bool     `mapstructure:"exclude_caches"`
	ArchivePrefix string   `mapstructure:"archive_prefix"`
}

// NewConfig returns an empty snapshot carrying the defaults.
func NewConfig() *Config {
	c := &Config{ProbeSSH: true}
	c.SetDefaults()
	return c
}

// DefaultMountRoot is where archives are mounted when no mount_root is configured.
func DefaultMountRoot() string {
	return filepath.Join(os.TempDir(), "borg-tool-mounts")
}

// DefaultWarningExitCodes returns borg's legacy warning code 1 plus its
// modern warning range 100-127.
func DefaultWarningExitCodes() []int {
	codes := []int{1}
	for c := 100; c <= 127; c++ {
		codes = append(codes, c)
	}
	return codes
}

// DefaultPath returns the per-user config location.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName, "config.toml")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", AppName, "config.toml")
	}
	return "config.toml"
}

// Candidates lists the files Load tries, in order.
func Candidates(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	def := DefaultPath()
	if def == "config.toml" {
		return []string{def}
	}
	return []string{def, "config.toml"}
}

// Load discovers and reads the config. An explicit path must exist. Without
// one, candidates are tried in order and only a missing file moves on to the
// next; any other failure is returned immediately.
func Load(explicit string) (*Config, error) {
	candidates := Candidates(explicit)

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) && explicit == "" {
				continue
			}
			return nil, apperrors.NewConfigError(fmt.Sprintf("cannot read config file %s", path), err)
		}
		return LoadFile(path)
	}

	return nil, apperrors.NewConfigError(
		fmt.Sprintf("no config file found. Tried: %s", strings.Join(candidates, ", ")), nil).
		WithUserMessage(fmt.Sprintf("No config file found. Tried: %s. Create one with `borg-tool config add-repo`.",
			strings.Join(candidates, ", ")))
}

// LoadFile reads and validates one TOML file.
func LoadFile(path string) (*Config, error) {
	file := viper.New()
	file.SetConfigType("toml")
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("invalid TOML in %s", path), err)
	}

	v := newViper()
	if err := v.MergeConfigMap(file.AllSettings()); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("cannot decode %s", path), err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("cannot decode %s", path), err)
	}
	c.Path = path
	c.SetDefaults()

	c.fileGlobals = make(map[string]interface{})
	for _, key := range globalKeys {
		if file.IsSet(key) {
			c.fileGlobals[key] = file.Get(key)
		}
	}
	c.loaded = c.globals()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("borg_bin", DefaultBorgBin)
	v.SetDefault("mount_root", DefaultMountRoot())
	v.SetDefault("probe_ssh", true)
	v.SetDefault("warning_exit_codes", DefaultWarningExitCodes())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults fills zero-valued globals.
func (c *Config) SetDefaults() {
	if c.BorgBin == "" {
		c.BorgBin = DefaultBorgBin
	}
	if c.MountRoot == "" {
		c.MountRoot = DefaultMountRoot()
	}
	if len(c.WarningExitCodes) == 0 {
		c.WarningExitCodes = DefaultWarningExitCodes()
	}
}

func (c *Config) globals() map[string]interface{} {
	return map[string]interface{}{
		"borg_bin":           c.BorgBin,
		"mount_root":         c.MountRoot,
		"probe_ssh":          c.ProbeSSH,
		"warning_exit_codes": append([]int(nil), c.WarningExitCodes...),
	}
}

// Validate checks the structural rules every snapshot must satisfy.
func (c *Config) Validate() error {
	repos := c.EffectiveRepos()
	if len(repos) == 0 {
		return apperrors.NewConfigError("no repositories configured", nil).
			WithUserMessage("No repositories configured in config file")
	}

	seen := make(map[string]bool, len(repos))
	for i, r := range repos {
		if strings.TrimSpace(r.Name) == "" {
			return apperrors.NewConfigError(fmt.Sprintf("repository #%d has no name", i+1), nil)
		}
		if seen[r.Name] {
			return apperrors.NewConfigError(fmt.Sprintf("duplicate repository name '%s'", r.Name), nil)
		}
		seen[r.Name] = true

		if strings.TrimSpace(r.Repo) == "" {
			return apperrors.NewConfigError(fmt.Sprintf("repository '%s' has an empty repo location", r.Name), nil)
		}

		presets := make(map[string]bool, len(r.Backups))
		for j, p := range r.Backups {
			if strings.TrimSpace(p.Name) == "" {
				return apperrors.NewConfigError(
					fmt.Sprintf("backup #%d in repository '%s' has no name", j+1, r.Name), nil)
			}
			if presets[p.Name] {
				return apperrors.NewConfigError(
					fmt.Sprintf("duplicate backup name '%s' in repository '%s'", p.Name, r.Name), nil)
			}
			presets[p.Name] = true
		}
	}

	for _, code := range c.WarningExitCodes {
		if code <= 0 {
			return apperrors.NewConfigError(fmt.Sprintf("warning_exit_codes: %d is not a warning code", code), nil)
		}
	}
	return nil
}

// EffectiveRepos returns the configured repositories, falling back to the
// legacy single `repo` key when no [[repos]] are present.
func (c *Config) EffectiveRepos() []RepoConfig {
	if len(c.Repos) > 0 {
		return c.Repos
	}
	if strings.TrimSpace(c.Repo) != "" {
		return []RepoConfig{{Name: LegacyRepoName, Repo: c.Repo}}
	}
	return nil
}

func (c *Config) clone() *Config {
	out := *c
	out.WarningExitCodes = append([]int(nil), c.WarningExitCodes...)
	out.Repos = make([]RepoConfig, len(c.Repos))
	for i, r := range c.Repos {
		r.Backups = append([]PresetConfig(nil), r.Backups...)
		if r.ProbeSSH != nil {
			b := *r.ProbeSSH
			r.ProbeSSH = &b
		}
		out.Repos[i] = r
	}
	return &out
}

// AddRepository returns a new snapshot with repo appended. A legacy single
// repo is converted to a [[repos]] entry first so it survives the save.
func (c *Config) AddRepository(repo RepoConfig) (*Config, error) {
	next := c.clone()
	if len(next.Repos) == 0 && strings.TrimSpace(next.Repo) != "" {
		next.Repos = []RepoConfig{{Name: LegacyRepoName, Repo: next.Repo}}
	}
	next.Repo = ""
	next.Repos = append(next.Repos, repo)

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// AddPreset returns a new snapshot with preset appended to the named repository.
func (c *Config) AddPreset(repoName string, preset PresetConfig) (*Config, error) {
	next := c.clone()
	if len(next.Repos) == 0 && strings.TrimSpace(next.Repo) != "" {
		next.Repos = []RepoConfig{{Name: LegacyRepoName, Repo: next.Repo}}
		next.Repo = ""
	}

	for i := range next.Repos {
		if next.Repos[i].Name == repoName {
			next.Repos[i].Backups = append(next.Repos[i].Backups, preset)
			if err := next.Validate(); err != nil {
				return nil, err
			}
			return next, nil
		}
	}

	names := make([]string, 0, len(next.Repos))
	for _, r := range next.Repos {
		names = append(names, r.Name)
	}
	return nil, apperrors.NewRepoNotFoundError(repoName, names)
}
