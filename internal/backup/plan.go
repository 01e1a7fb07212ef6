package backup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"borg-tool/internal/borg"
	apperrors "borg-tool/internal/errors"
	"borg-tool/internal/registry"
)

// TimestampLayout is the archive-name timestamp: UTC, second precision,
// sortable by name and by time alike.
const TimestampLayout = "20060102T150405Z"

// Plan is a fully resolved backup run. Building one has no side effects.
type Plan struct {
	Repository registry.Repository
	Preset     registry.Preset
	Archive    string
	Options    borg.CreateOptions
	// AutoExcludes are the excludes added by self-exclusion
	AutoExcludes []string
}

// Args returns the borg argument vector the plan runs.
func (p Plan) Args() []string {
	return borg.CreateArgs(p.Repository.Location, p.Options)
}

// ArchiveName joins prefix and the UTC timestamp of now.
func ArchiveName(prefix string, now time.Time) string {
	return prefix + now.UTC().Format(TimestampLayout)
}

// ToolDir is the directory of the running executable with symlinks resolved.
func ToolDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// BuildPlan resolves preset into a plan for repo at time now. toolDir is
// excluded whenever an include would sweep it in; so is a local repository.
func BuildPlan(repo registry.Repository, preset registry.Preset, toolDir string, now time.Time) (Plan, error) {
	includes := normalize(preset.Includes)
	if len(includes) == 0 {
		return Plan{}, apperrors.NewAppError(apperrors.ErrorTypeEmptyIncludeSet,
			"backup has no includes", nil).
			WithContext("repo", repo.Name).
			WithContext("preset", preset.Name).
			WithUserMessage("Backup '" + preset.Name + "' has no includes configured")
	}
	excludes := normalize(preset.Excludes)

	var auto []string
	for _, dir := range selfExcludeCandidates(repo, toolDir) {
		if containsPath(excludes, dir) || !coveredBy(includes, dir) {
			continue
		}
		excludes = append(excludes, dir)
		auto = append(auto, dir)
	}

	prefix := preset.ArchivePrefix
	if prefix == "" {
		prefix = repo.ArchivePrefix
	}
	archive := ArchiveName(prefix, now)

	return Plan{
		Repository: repo,
		Preset:     preset,
		Archive:    archive,
		Options: borg.CreateOptions{
			Archive:       archive,
			Includes:      includes,
			Excludes:      excludes,
			Compression:   preset.Compression,
			OneFileSystem: preset.OneFileSystem,
			ExcludeCaches: preset.ExcludeCaches,
		},
		AutoExcludes: auto,
	}, nil
}

func selfExcludeCandidates(repo registry.Repository, toolDir string) []string {
	var out []string
	if toolDir != "" {
		out = append(out, canonical(toolDir))
	}
	if local := repo.LocalPath(); local != "" {
		if _, err := os.Stat(local); err == nil {
			out = append(out, canonical(local))
		}
	}
	return out
}

func canonical(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	return filepath.Clean(p)
}

// normalize trims entries, drops blanks and duplicates, and keeps order.
func normalize(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func containsPath(list []string, p string) bool {
	for _, e := range list {
		if filepath.Clean(e) == p {
			return true
		}
	}
	return false
}

func coveredBy(includes []string, dir string) bool {
	for _, inc := range includes {
		if isAncestorOrEqual(inc, dir) {
			return true
		}
	}
	return false
}

// isAncestorOrEqual reports whether dir lies at or below base.
func isAncestorOrEqual(base, dir string) bool {
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	rel, err := filepath.Rel(filepath.Clean(base), dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
