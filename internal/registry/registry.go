// Package registry is the read-only view of configured repositories and
// their backup presets. A Registry is built from one config snapshot and is
// never mutated; the config wizard saves, reloads and builds a new one.
package registry

import (
	"path/filepath"
	"strings"

	"borg-tool/internal/config"
	apperrors "borg-tool/internal/errors"
)

// Repository is a named borg repository with every fallback resolved.
type Repository struct {
	Name          string
	Location      string
	BorgBin       string
	MountRoot     string
	ProbeSSH      bool
	ArchivePrefix string
	NoPassphrase  bool
	Presets       []Preset
}

// Preset is a named backup job bound to one repository.
type Preset struct {
	Name          string
	Includes      []string
	Excludes      []string
	Compression   string
	ExcludeCaches bool
	OneFileSystem bool
	ArchivePrefix string
}

// IsRemote reports whether the location is an ssh:// URL or scp-style address.
func (r Repository) IsRemote() bool {
	return IsRemoteLocation(r.Location)
}

// IsRemoteLocation reports whether loc addresses a remote repository.
func IsRemoteLocation(loc string) bool {
	if strings.Contains(loc, "://") {
		return true
	}
	return strings.Contains(loc, "@") && strings.Contains(loc, ":")
}

// LocalPath returns the cleaned absolute path of a local repository, or ""
// for remote or relative locations.
func (r Repository) LocalPath() string {
	if r.IsRemote() || !filepath.IsAbs(r.Location) {
		return ""
	}
	return filepath.Clean(r.Location)
}

// PresetNames lists preset names in config order.
func (r Repository) PresetNames() []string {
	names := make([]string, 0, len(r.Presets))
	for _, p := range r.Presets {
		names = append(names, p.Name)
	}
	return names
}

// Registry holds repositories in config order.
type Registry struct {
	repos            []Repository
	warningExitCodes []int
}

// New builds a registry from a validated config snapshot.
func New(cfg *config.Config) *Registry {
	reg := &Registry{
		warningExitCodes: append([]int(nil), cfg.WarningExitCodes...),
	}

	for _, rc := range cfg.EffectiveRepos() {
		repo := Repository{
			Name:          rc.Name,
			Location:      strings.TrimSpace(rc.Repo),
			BorgBin:       firstNonEmpty(rc.BorgBin, cfg.BorgBin, config.DefaultBorgBin),
			MountRoot:     firstNonEmpty(rc.MountRoot, cfg.MountRoot, config.DefaultMountRoot()),
			ProbeSSH:      cfg.ProbeSSH,
			ArchivePrefix: rc.ArchivePrefix,
			NoPassphrase:  rc.NoPassphrase,
		}
		if rc.ProbeSSH != nil {
			repo.ProbeSSH = *rc.ProbeSSH
		}
		for _, pc := range rc.Backups {
			repo.Presets = append(repo.Presets, Preset{
				Name:          pc.Name,
				Includes:      append([]string(nil), pc.Includes...),
				Excludes:      append([]string(nil), pc.Excludes...),
				Compression:   strings.TrimSpace(pc.Compression),
				ExcludeCaches: pc.ExcludeCaches,
				OneFileSystem: pc.OneFileSystem,
				ArchivePrefix: pc.ArchivePrefix,
			})
		}
		reg.repos = append(reg.repos, repo)
	}
	return reg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Repositories returns all repositories in config order.
func (r *Registry) Repositories() []Repository {
	return append([]Repository(nil), r.repos...)
}

// Names returns repository names in config order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.repos))
	for _, repo := range r.repos {
		names = append(names, repo.Name)
	}
	return names
}

// WarningExitCodes is the configured classification table.
func (r *Registry) WarningExitCodes() []int {
	return append([]int(nil), r.warningExitCodes...)
}

// Repository looks a repository up by name.
func (r *Registry) Repository(name string) (Repository, error) {
	for _, repo := range r.repos {
		if repo.Name == name {
			return repo, nil
		}
	}
	return Repository{}, apperrors.NewRepoNotFoundError(name, r.Names())
}

// Presets returns the repository's presets in config order.
func (r *Registry) Presets(repo Repository) []Preset {
	return append([]Preset(nil), repo.Presets...)
}

// Preset looks a preset up by name within repo.
func (r *Registry) Preset(repo Repository, name string) (Preset, error) {
	for _, p := range repo.Presets {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, apperrors.NewPresetNotFoundError(repo.Name, name, repo.PresetNames())
}

// Select resolves the repository a command should work on. ok is false when
// the caller has to ask the operator, which only happens for interactive
// callers with several repositories and no request.
func (r *Registry) Select(requested string, interactive bool) (repo Repository, ok bool, err error) {
	if len(r.repos) == 1 {
		only := r.repos[0]
		if requested != "" && requested != only.Name {
			return Repository{}, false, apperrors.NewRepoNotFoundError(requested, r.Names()).
				WithUserMessage("Repo '" + requested + "' not found. Only available repo: " + only.Name)
		}
		return only, true, nil
	}

	if requested != "" {
		repo, err := r.Repository(requested)
		if err != nil {
			return Repository{}, false, err
		}
		return repo, true, nil
	}

	if interactive {
		return Repository{}, false, nil
	}

	return Repository{}, false, apperrors.NewAppError(apperrors.ErrorTypeRepoNotFound,
		"multiple repositories configured", nil).
		WithUserMessage("Multiple repos configured. Please choose with --repo <name>. Available: " +
			strings.Join(r.Names(), ", "))
}
