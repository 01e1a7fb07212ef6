package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"

	apperrors "borg-tool/internal/errors"
)

// Save writes the snapshot as TOML to path, keeping a .bak copy of any
// existing file. Callers reload afterwards to get a fresh registry.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewConfigError("cannot create config directory", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return apperrors.NewConfigError("cannot lock config file", err)
	}
	defer lock.Unlock()

	if data, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", data, 0o600); err != nil {
			return apperrors.NewConfigError("cannot back up existing config", err)
		}
	}

	v := viper.New()
	v.SetConfigType("toml")
	for key, value := range c.persistedGlobals() {
		v.Set(key, value)
	}
	if c.Repo != "" && len(c.Repos) == 0 {
		v.Set("repo", c.Repo)
	}
	if len(c.Repos) > 0 {
		v.Set("repos", reposToSettings(c.Repos))
	}

	if err := v.WriteConfigAs(path); err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("cannot write config %s", path), err)
	}
	return nil
}

// persistedGlobals picks the top-level settings to write. A setting changed
// since load is written as is. Otherwise the file's own value is kept, and a
// setting the file never had stays out, even when an env override or a
// default gave it a value.
func (c *Config) persistedGlobals() map[string]interface{} {
	baseline := c.loaded
	if baseline == nil {
		baseline = NewConfig().globals()
	}

	out := make(map[string]interface{})
	for key, value := range c.globals() {
		if !reflect.DeepEqual(value, baseline[key]) {
			out[key] = value
			continue
		}
		if raw, ok := c.fileGlobals[key]; ok {
			out[key] = raw
		}
	}
	return out
}

func reposToSettings(repos []RepoConfig) []interface{} {
	out := make([]interface{}, 0, len(repos))
	for _, r := range repos {
		m := map[string]interface{}{
			"name": r.Name,
			"repo": r.Repo,
		}
		if r.BorgBin != "" {
			m["borg_bin"] = r.BorgBin
		}
		if r.MountRoot != "" {
			m["mount_root"] = r.MountRoot
		}
		if r.ProbeSSH != nil {
			m["probe_ssh"] = *r.ProbeSSH
		}
		if r.ArchivePrefix != "" {
			m["archive_prefix"] = r.ArchivePrefix
		}
		if r.NoPassphrase {
			m["no_passphrase"] = true
		}
		if len(r.Backups) > 0 {
			backups := make([]interface{}, 0, len(r.Backups))
			for _, p := range r.Backups {
				backups = append(backups, presetToSettings(p))
			}
			m["backups"] = backups
		}
		out = append(out, m)
	}
	return out
}

func presetToSettings(p PresetConfig) map[string]interface{} {
	m := map[string]interface{}{
		"name":     p.Name,
		"includes": stringsOrEmpty(p.Includes),
		"excludes": stringsOrEmpty(p.Excludes),
	}
	if p.Compression != "" {
		m["compression"] = p.Compression
	}
	if p.OneFileSystem {
		m["one_file_system"] = true
	}
	if p.ExcludeCaches {
		m["exclude_caches"] = true
	}
	if p.ArchivePrefix != "" {
		m["archive_prefix"] = p.ArchivePrefix
	}
	return m
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
