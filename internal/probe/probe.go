// Package probe labels repositories with a reachability status before the
// operator picks one. Probe failures are warnings and never block selection.
package probe

import (
	"context"
	"errors"
	"os"

	apperrors "borg-tool/internal/errors"
	"borg-tool/internal/logging"
	"borg-tool/internal/registry"
)

// Status is the label shown beside a repository.
type Status string

const (
	StatusOK         Status = "ok"
	StatusMissing    Status = "missing"
	StatusRemoteOK   Status = "remote-ok"
	StatusRemoteAuth Status = "remote-auth?"
	StatusUnknown    Status = "remote?"
)

// Result pairs a repository with its status and the warning behind it, if any.
type Result struct {
	Repository registry.Repository
	Status     Status
	Warning    error
}

// Prober computes statuses.
type Prober struct {
	remote RemoteProber
	stat   func(string) (os.FileInfo, error)
	logger *logging.Logger
}

// New creates a prober. A nil remote prober disables SSH checks.
func New(remote RemoteProber, logger *logging.Logger) *Prober {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Prober{remote: remote, stat: os.Stat, logger: logger}
}

// Status checks one repository.
func (p *Prober) Status(ctx context.Context, repo registry.Repository) Result {
	res := Result{Repository: repo}

	if repo.IsRemote() {
		res.Status, res.Warning = p.remoteStatus(ctx, repo)
		if res.Warning != nil {
			p.logger.WithFields(map[string]interface{}{
				"repo":   repo.Name,
				"status": string(res.Status),
			}).Warnf("SSH probe: %v", res.Warning)
		}
		return res
	}

	if _, err := p.stat(repo.Location); err != nil {
		res.Status = StatusMissing
		res.Warning = apperrors.NewAppError(apperrors.ErrorTypeRepoNotFound,
			"repository path not found", err).
			WithUserMessage("Repo '" + repo.Name + "' path '" + repo.Location + "' not found.")
		return res
	}
	res.Status = StatusOK
	return res
}

func (p *Prober) remoteStatus(ctx context.Context, repo registry.Repository) (Status, error) {
	if !repo.ProbeSSH || p.remote == nil {
		return StatusUnknown, nil
	}

	target, ok := ParseSSHTarget(repo.Location)
	if !ok {
		return StatusUnknown, nil
	}

	err := p.remote.Probe(ctx, target)
	switch {
	case err == nil:
		return StatusRemoteOK, nil
	case errors.Is(err, ErrAuthRejected):
		return StatusRemoteAuth, sshWarning(repo, "seems to require SSH auth (no key?)", err)
	default:
		return StatusUnknown, sshWarning(repo, "is not reachable over SSH", err)
	}
}

func sshWarning(repo registry.Repository, what string, cause error) error {
	return apperrors.NewRecoverableError(apperrors.ErrorTypeSSHProbeFailed, "ssh probe failed", cause).
		WithContext("repo", repo.Name).
		WithUserMessage("Repo '" + repo.Name + "' " + what)
}

// StatusAll probes every repository in order.
func (p *Prober) StatusAll(ctx context.Context, repos []registry.Repository) []Result {
	results := make([]Result, 0, len(repos))
	for _, repo := range repos {
		results = append(results, p.Status(ctx, repo))
	}
	return results
}
