package application

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borg-tool/internal/borg"
	"borg-tool/internal/config"
	appErrors "borg-tool/internal/errors"
)

type fixedPrompter struct{}

func (fixedPrompter) Prompt(string) (string, error) { return "pw", nil }

func testApp(t *testing.T, repos []config.RepoConfig, requested string) (*Application, *borg.FakeRunner, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{BorgBin: "borg", MountRoot: t.TempDir(), Repos: repos}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	runner := borg.NewFakeRunner()
	errOut := &bytes.Buffer{}
	app := Build(cfg, Deps{Runner: runner, Prompter: fixedPrompter{}}, Options{
		Repo: requested,
		Out:  &bytes.Buffer{},
		Err:  errOut,
	})
	return app, runner, errOut
}

func TestBuild_WiresComponents(t *testing.T) {
	app, _, _ := testApp(t, []config.RepoConfig{{Name: "nas", Repo: "ssh://nas/borg"}}, "")

	assert.NotNil(t, app.Registry)
	assert.NotNil(t, app.Client)
	assert.NotNil(t, app.Executor)
	assert.NotNil(t, app.Mounts)
	assert.NotNil(t, app.Prober)
	assert.NotNil(t, app.Printer)
	assert.NotEmpty(t, app.Host)
	assert.Contains(t, app.Describe(), "1 repositories")
}

func TestRepository_Selection(t *testing.T) {
	local := t.TempDir()
	repos := []config.RepoConfig{
		{Name: "nas", Repo: "ssh://nas/borg"},
		{Name: "usb", Repo: local},
		{Name: "gone", Repo: filepath.Join(local, "missing")},
	}
	ctx := context.Background()

	app, _, _ := testApp(t, repos, "usb")
	repo, err := app.Repository(ctx)
	require.NoError(t, err)
	assert.Equal(t, "usb", repo.Name)

	app, _, _ = testApp(t, repos, "nas")
	repo, err = app.Repository(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nas", repo.Name)

	app, _, _ = testApp(t, repos, "gone")
	_, err = app.Repository(ctx)
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeRepoNotFound))
	assert.Contains(t, appErrors.FormatUserError(err), "not found")

	app, _, _ = testApp(t, repos, "")
	_, err = app.Repository(ctx)
	require.Error(t, err)
	assert.Contains(t, appErrors.FormatUserError(err), "Available: nas, usb, gone")
}

func TestClose_ReleasesMountsOnce(t *testing.T) {
	app, runner, _ := testApp(t, []config.RepoConfig{{Name: "nas", Repo: "ssh://nas/borg", NoPassphrase: true}}, "")
	repo, err := app.Repository(context.Background())
	require.NoError(t, err)

	_, err = app.Mounts.Mount(context.Background(), repo, "a1", "")
	require.NoError(t, err)

	require.NoError(t, app.Close())
	require.NoError(t, app.Close())
	assert.Len(t, runner.CallsFor("umount"), 1)
	assert.Empty(t, app.Mounts.Sessions())
}

func TestClose_KeepsDetachedMounts(t *testing.T) {
	app, runner, _ := testApp(t, []config.RepoConfig{{Name: "nas", Repo: "ssh://nas/borg", NoPassphrase: true}}, "")
	repo, err := app.Repository(context.Background())
	require.NoError(t, err)

	s, err := app.Mounts.Mount(context.Background(), repo, "a1", "")
	require.NoError(t, err)
	_, ok := app.Mounts.Detach(s.Mountpoint)
	require.True(t, ok)

	require.NoError(t, app.Close())
	assert.Empty(t, runner.CallsFor("umount"))
}

func TestReport(t *testing.T) {
	app, _, errOut := testApp(t, []config.RepoConfig{{Name: "nas", Repo: "ssh://nas/borg"}}, "")

	app.Report(&borg.CommandError{Action: "list", ExitCode: 2, Stderr: "Connection closed by remote host"})
	assert.Contains(t, errOut.String(), "borg list failed with status 2: Connection closed by remote host")

	errOut.Reset()
	app.Report(&exec.Error{Name: "borg", Err: exec.ErrNotFound})
	assert.Contains(t, errOut.String(), "borg binary not found")

	errOut.Reset()
	app.Report(nil)
	assert.Empty(t, errOut.String())
}

func TestClassify(t *testing.T) {
	app, _, _ := testApp(t, []config.RepoConfig{{Name: "nas", Repo: "ssh://nas/borg"}}, "")
	assert.Equal(t, appErrors.ErrorTypeInterruption, app.Classify(context.Canceled).Type)
}

func TestShortHostname(t *testing.T) {
	t.Setenv("HOSTNAME", "atlas.lan.example")
	assert.Equal(t, "atlas", ShortHostname())

	t.Setenv("HOSTNAME", " ")
	assert.NotEmpty(t, ShortHostname())
}
