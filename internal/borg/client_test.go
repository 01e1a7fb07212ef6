package borg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "borg-tool/internal/errors"
	"borg-tool/internal/passphrase"
	"borg-tool/internal/registry"
)

var testRepo = registry.Repository{
	Name:     "laptop",
	Location: "/srv/borg/laptop",
	BorgBin:  "borg",
}

func promptedSecret(t *testing.T, value string) passphrase.Secret {
	t.Helper()
	cache := passphrase.NewCache(nil).WithLookupEnv(func(k string) (string, bool) {
		if k == passphrase.EnvPassphrase {
			return value, true
		}
		return "", false
	})
	s, err := cache.GetOrPrompt(context.Background(), "")
	require.NoError(t, err)
	return s
}

func TestListArchives(t *testing.T) {
	fake := NewFakeRunner().OnStdout("list", `{
  "archives": [
    {"archive": "nightly-20251126T020000Z", "id": "aa11", "time": "2025-11-26T02:00:01.000000"},
    {"archive": "nightly-20251127T020000Z", "id": "bb22", "time": "2025-11-27T02:00:01.000000"}
  ],
  "repository": {"id": "r1", "location": "/srv/borg/laptop"}
}`)
	client := NewClient(fake, nil)

	archives, err := client.ListArchives(context.Background(), testRepo, promptedSecret(t, "pw"))
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, "nightly-20251126T020000Z", archives[0].Name)
	assert.Equal(t, "bb22", archives[1].ID)
	assert.Equal(t, "2025-11-27T02:00:01.000000", archives[1].Time)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "borg", calls[0].Binary)
	assert.Equal(t, []string{"list", "--json", "/srv/borg/laptop"}, calls[0].Args)
	assert.Equal(t, []string{"BORG_PASSPHRASE=pw"}, calls[0].Env)
	for _, arg := range calls[0].Args {
		assert.NotContains(t, arg, "pw", "passphrase must never be an argument")
	}
}

func TestListArchives_Errors(t *testing.T) {
	t.Run("exit code", func(t *testing.T) {
		fake := NewFakeRunner().OnExit("list", 2, "Repository /srv/borg/laptop does not exist.\n")
		_, err := NewClient(fake, nil).ListArchives(context.Background(), testRepo, passphrase.None())

		var cmdErr *CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, 2, cmdErr.ExitCode)
		assert.Equal(t, "borg list failed with status 2: Repository /srv/borg/laptop does not exist.", err.Error())
	})

	t.Run("bad json", func(t *testing.T) {
		fake := NewFakeRunner().OnStdout("list", "not json")
		_, err := NewClient(fake, nil).ListArchives(context.Background(), testRepo, passphrase.None())
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeEngine))
	})

	t.Run("binary missing", func(t *testing.T) {
		fake := NewFakeRunner().On("list", Result{ExitCode: -1}, &exec.Error{Name: "borg", Err: exec.ErrNotFound})
		_, err := NewClient(fake, nil).ListArchives(context.Background(), testRepo, passphrase.None())
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
	})

	t.Run("warning exit still decodes", func(t *testing.T) {
		fake := NewFakeRunner().On("list", Result{ExitCode: 1, Stdout: []byte(`{"archives": []}`)}, nil)
		archives, err := NewClient(fake, nil).ListArchives(context.Background(), testRepo, passphrase.None())
		require.NoError(t, err)
		assert.Empty(t, archives)
	})
}

func TestListItems(t *testing.T) {
	fake := NewFakeRunner().OnStdout("list",
		`{"type": "d", "mode": "drwxr-xr-x", "path": "home", "size": 0}`+"\n\n"+
			`{"type": "-", "mode": "-rw-r--r--", "path": "home/ana/notes.txt", "size": 1234}`+"\n")
	client := NewClient(fake, nil)

	items, err := client.ListItems(context.Background(), testRepo, "a1", passphrase.None())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, Item{Path: "home/ana/notes.txt", Type: "-", Size: 1234}, items[1])
	assert.Equal(t, []string{"list", "--json-lines", "/srv/borg/laptop::a1"}, fake.Calls()[0].Args)
}

func TestParseItems_BadLine(t *testing.T) {
	_, err := ParseItems([]byte("{\"path\": \"a\"}\n{broken\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON line 2")
}

func TestStripComponents(t *testing.T) {
	tests := map[string]int{
		"etc":                0,
		"etc/hosts":          1,
		"home/ana/notes.txt": 2,
		"/etc/hosts":         1,
		"home/ana/":          1,
		"":                   0,
	}
	for in, want := range tests {
		assert.Equal(t, want, StripComponents(in), in)
	}
}

func TestExtract(t *testing.T) {
	fake := NewFakeRunner()
	dest := filepath.Join(t.TempDir(), "restore")

	err := NewClient(fake, nil).Extract(context.Background(), testRepo, "a1", "home/ana/notes.txt", dest, passphrase.None())
	require.NoError(t, err)

	assert.DirExists(t, dest)
	call := fake.Calls()[0]
	assert.Equal(t, dest, call.Dir)
	assert.Equal(t, []string{"extract", "--strip-components", "2", "/srv/borg/laptop::a1", "home/ana/notes.txt"}, call.Args)
}

func TestCreateArgs(t *testing.T) {
	args := CreateArgs("/srv/borg", CreateOptions{
		Archive:       "nightly-20251127T153045Z",
		Includes:      []string{"/home", "/etc"},
		Excludes:      []string{"/home/*/.cache", "/opt/borg-tool"},
		Compression:   "zstd,5",
		OneFileSystem: true,
		ExcludeCaches: true,
	})

	assert.Equal(t, []string{
		"create",
		"--compression", "zstd,5",
		"--one-file-system",
		"--exclude-caches",
		"--exclude", "/home/*/.cache",
		"--exclude", "/opt/borg-tool",
		"/srv/borg::nightly-20251127T153045Z",
		"/home", "/etc",
	}, args)

	minimal := CreateArgs("/srv/borg", CreateOptions{Archive: "a", Includes: []string{"/data"}})
	assert.Equal(t, []string{"create", "/srv/borg::a", "/data"}, minimal)
}

func TestMountAndUmount(t *testing.T) {
	fake := NewFakeRunner().OnExit("umount", 1, "")
	client := NewClient(fake, NewExitClassifier([]int{107}))

	require.NoError(t, client.Mount(context.Background(), testRepo, "a1", "/mnt/a1", promptedSecret(t, "pw")))
	err := client.Umount(context.Background(), testRepo, "/mnt/a1")
	require.Error(t, err, "1 is not a warning in this table")

	mount := fake.CallsFor("mount")[0]
	assert.Equal(t, []string{"mount", "/srv/borg/laptop::a1", "/mnt/a1"}, mount.Args)
	assert.Equal(t, []string{"BORG_PASSPHRASE=pw"}, mount.Env)

	umount := fake.CallsFor("umount")[0]
	assert.Equal(t, []string{"umount", "/mnt/a1"}, umount.Args)
	assert.Empty(t, umount.Env)
}

func TestInit(t *testing.T) {
	fake := NewFakeRunner()
	err := NewClient(fake, nil).Init(context.Background(), testRepo, "repokey-blake2", passphrase.None())
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "--encryption", "repokey-blake2", "/srv/borg/laptop"}, fake.Calls()[0].Args)
}

func TestMountSupported(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		err  error
		want bool
	}{
		{name: "help text", res: Result{Stdout: []byte("usage: borg mount ...")}, want: true},
		{name: "no fuse", res: Result{ExitCode: 2, Stderr: []byte("borg mount not available: no FUSE support, BORG_FUSE_IMPL=pyfuse3,llfuse.")}, want: false},
		{name: "odd exit assumed available", res: Result{ExitCode: 2}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := NewFakeRunner().On("mount --help", tt.res, tt.err)
			got, err := NewClient(fake, nil).MountSupported(context.Background(), testRepo)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitClassifier(t *testing.T) {
	def := NewExitClassifier(nil)
	assert.Equal(t, ExitSuccess, def.Classify(0))
	assert.Equal(t, ExitWarning, def.Classify(1))
	assert.Equal(t, ExitWarning, def.Classify(100))
	assert.Equal(t, ExitWarning, def.Classify(127))
	assert.Equal(t, ExitError, def.Classify(2))
	assert.Equal(t, ExitError, def.Classify(128))
	assert.Equal(t, ExitError, def.Classify(-1))

	custom := NewExitClassifier([]int{3})
	assert.Equal(t, ExitError, custom.Classify(1))
	assert.Equal(t, ExitWarning, custom.Classify(3))
	assert.Equal(t, "warning", ExitWarning.String())
}

func TestFakeRunner_QueueAndHook(t *testing.T) {
	var seen []string
	fake := NewFakeRunner().
		OnExit("umount", 1, "busy").
		OnExit("umount", 0, "")
	fake.Hook = func(inv Invocation) { seen = append(seen, OperationKey(inv.Args)) }

	for _, want := range []int{1, 0, 0} {
		res, err := fake.Execute(context.Background(), Invocation{Args: []string{"umount", "/mnt"}})
		require.NoError(t, err)
		assert.Equal(t, want, res.ExitCode)
	}
	assert.Equal(t, []string{"umount", "umount", "umount"}, seen)
	assert.Len(t, fake.CallsFor("umount"), 3)
	assert.Empty(t, fake.CallsFor("mount"))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts need a unix shell")
	}
	path := filepath.Join(t.TempDir(), "fake-borg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecRunner(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args.txt")
	bin := writeScript(t, `printf '%s\n' "$@" > "`+capture+`"
echo "out"
echo "pass=$BORG_PASSPHRASE" >&2
exit 3
`)

	runner := NewExecRunner(nil)
	runner.Stdin = nil
	res, err := runner.Execute(context.Background(), Invocation{
		Binary: bin,
		Args:   []string{"create", "/srv::a", "/home dir"},
		Env:    []string{"BORG_PASSPHRASE=s3cret"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "pass=s3cret\n", string(res.Stderr))

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "/srv::a", "/home dir"}, strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	runner := NewExecRunner(nil)
	res, err := runner.Execute(context.Background(), Invocation{Binary: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)

	var pathErr *os.PathError
	var execErr *exec.Error
	assert.True(t, errors.As(err, &pathErr) || errors.As(err, &execErr))
}
