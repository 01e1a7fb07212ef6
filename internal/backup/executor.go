package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"borg-tool/internal/borg"
	apperrors "borg-tool/internal/errors"
	"borg-tool/internal/logging"
	"borg-tool/internal/passphrase"
	"borg-tool/internal/registry"
)

// StderrTailLines is how many non-empty stderr lines a failed outcome keeps.
const StderrTailLines = 20

// SudoHint is appended to failure reports that mention a permission problem.
const SudoHint = " (hint: run with sudo for system paths)"

// OutcomeKind classifies a finished run.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeWarning OutcomeKind = "warning"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the classified result of one backup run.
type Outcome struct {
	Kind       OutcomeKind   `json:"kind" yaml:"kind"`
	Repository string        `json:"repository" yaml:"repository"`
	Preset     string        `json:"preset" yaml:"preset"`
	Archive    string        `json:"archive" yaml:"archive"`
	ExitCode   int           `json:"exit_code" yaml:"exit_code"`
	Details    []string      `json:"details,omitempty" yaml:"details,omitempty"`
	StderrTail []string      `json:"stderr_tail,omitempty" yaml:"stderr_tail,omitempty"`
	Hint       string        `json:"hint,omitempty" yaml:"hint,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Executor turns presets into borg create runs.
type Executor struct {
	client  *borg.Client
	cache   *passphrase.Cache
	logger  *logging.Logger
	toolDir string
	now     func() time.Time
}

// NewExecutor creates an executor that excludes the running binary's
// directory. Use WithToolDir to override it.
func NewExecutor(client *borg.Client, cache *passphrase.Cache, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	dir, err := ToolDir()
	if err != nil {
		logger.Warnf("Cannot resolve own directory, self-exclusion disabled: %v", err)
	}
	return &Executor{
		client:  client,
		cache:   cache,
		logger:  logger,
		toolDir: dir,
		now:     time.Now,
	}
}

// WithToolDir overrides the directory excluded from backups.
func (e *Executor) WithToolDir(dir string) *Executor {
	e.toolDir = dir
	return e
}

// WithClock overrides the time source used for archive names.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Plan resolves a run without executing it.
func (e *Executor) Plan(repo registry.Repository, preset registry.Preset, now time.Time) (Plan, error) {
	return BuildPlan(repo, preset, e.toolDir, now)
}

// Run executes preset against repo. A Failed outcome is returned together
// with a BackupFailed error; warnings are not errors.
func (e *Executor) Run(ctx context.Context, repo registry.Repository, preset registry.Preset) (Outcome, error) {
	plan, err := e.Plan(repo, preset, e.now())
	if err != nil {
		return Outcome{}, err
	}

	secret := passphrase.None()
	if !repo.NoPassphrase {
		secret, err = e.cache.GetOrPrompt(ctx, repo.Location)
		if err != nil {
			return Outcome{}, err
		}
	}

	for _, dir := range plan.AutoExcludes {
		e.logger.WithField("exclude", dir).Debug("Excluding own path from backup")
	}

	res, err := e.client.Create(ctx, repo, plan.Options, secret)
	if err != nil {
		return Outcome{}, err
	}

	out := e.classify(plan, res)
	e.logger.LogBackupOutcome(ctx, repo.Name, preset.Name, plan.Archive, string(out.Kind), res.ExitCode, res.Duration)

	if out.Kind == OutcomeFailed {
		return out, failedError(out)
	}
	return out, nil
}

func (e *Executor) classify(plan Plan, res borg.Result) Outcome {
	out := Outcome{
		Repository: plan.Repository.Name,
		Preset:     plan.Preset.Name,
		Archive:    plan.Archive,
		ExitCode:   res.ExitCode,
		Duration:   res.Duration,
	}

	lines := nonEmptyLines(string(res.Stderr))
	switch e.client.Classifier().Classify(res.ExitCode) {
	case borg.ExitSuccess:
		out.Kind = OutcomeSuccess
	case borg.ExitWarning:
		out.Kind = OutcomeWarning
		out.Details = lines
	default:
		out.Kind = OutcomeFailed
		out.StderrTail = tail(lines, StderrTailLines)
		if mentionsPermission(out.StderrTail) {
			out.Hint = SudoHint
		}
	}
	return out
}

func failedError(out Outcome) error {
	msg := fmt.Sprintf("Backup failed with status %d", out.ExitCode)
	if len(out.StderrTail) > 0 {
		msg += ": " + strings.Join(out.StderrTail, "\n")
	}
	msg += out.Hint

	return apperrors.NewAppError(apperrors.ErrorTypeBackupFailed,
		fmt.Sprintf("borg create exited with %d", out.ExitCode), nil).
		WithContext("repo", out.Repository).
		WithContext("preset", out.Preset).
		WithContext("archive", out.Archive).
		WithContext("exit_code", out.ExitCode).
		WithUserMessage(msg)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r ")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func mentionsPermission(lines []string) bool {
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), "permission denied") {
			return true
		}
	}
	return false
}
