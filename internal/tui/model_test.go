package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borg-tool/internal/backup"
	"borg-tool/internal/borg"
	"borg-tool/internal/config"
	"borg-tool/internal/mount"
	"borg-tool/internal/navigator"
	"borg-tool/internal/passphrase"
	"borg-tool/internal/probe"
	"borg-tool/internal/registry"
)

type countingPrompter struct{ calls int }

func (p *countingPrompter) Prompt(string) (string, error) {
	p.calls++
	return "pw", nil
}

func noEnv(string) (string, bool) { return "", false }

type flowEnv struct {
	runner   *borg.FakeRunner
	prompter *countingPrompter
	mounts   *mount.Manager
	deps     Deps
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()
	cfg := &config.Config{
		BorgBin:   "borg",
		MountRoot: t.TempDir(),
		Repos: []config.RepoConfig{
			{
				Name: "nas",
				Repo: "ssh://backup@nas/./borg",
				Backups: []config.PresetConfig{
					{Name: "home", Includes: []string{"/home"}},
				},
			},
			{Name: "usb", Repo: filepath.Join(t.TempDir(), "missing"), NoPassphrase: true},
		},
	}
	cfg.SetDefaults()
	reg := registry.New(cfg)

	runner := borg.NewFakeRunner()
	client := borg.NewClient(runner, nil)
	prompter := &countingPrompter{}
	cache := passphrase.NewCache(prompter).WithLookupEnv(noEnv)
	mounts := mount.NewManager(client, cache, nil)
	executor := backup.NewExecutor(client, cache, nil).WithToolDir("/opt/borg-tool")

	return &flowEnv{
		runner:   runner,
		prompter: prompter,
		mounts:   mounts,
		deps: Deps{
			Registry: reg,
			Prober:   probe.New(nil, nil),
			Client:   client,
			Cache:    cache,
			Executor: executor,
			Mounts:   mounts,
			Host:     "atlas",
		},
	}
}

func (e *flowEnv) model(opts ...Option) *Model {
	opts = append([]Option{WithEffects(InlineEffects)}, opts...)
	return New(context.Background(), e.deps, opts...)
}

func flowKey(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "ctrl+u":
		return tea.KeyMsg{Type: tea.KeyCtrlU}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func flowApplyMsg(t *testing.T, m *Model, msg tea.Msg) *Model {
	t.Helper()
	next, cmd := m.Update(msg)
	got, ok := next.(*Model)
	if !ok {
		t.Fatalf("Update returned %T, want *Model", next)
	}
	return flowDrainCmd(t, got, cmd)
}

func flowPress(t *testing.T, m *Model, keys ...string) *Model {
	t.Helper()
	for _, k := range keys {
		m = flowApplyMsg(t, m, flowKey(k))
	}
	return m
}

func flowType(t *testing.T, m *Model, input string) *Model {
	t.Helper()
	for _, r := range input {
		m = flowApplyMsg(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func flowDrainCmd(t *testing.T, m *Model, cmd tea.Cmd) *Model {
	t.Helper()
	for i := 0; cmd != nil && i < 32; i++ {
		msg := cmd()
		cmd = nil
		switch msg := msg.(type) {
		case nil:
			return m
		case tea.QuitMsg:
			return m
		case tea.BatchMsg:
			for _, c := range msg {
				m = flowDrainCmd(t, m, c)
			}
		default:
			next, nextCmd := m.Update(msg)
			m = next.(*Model)
			cmd = nextCmd
		}
	}
	if cmd != nil {
		t.Fatal("command chain exceeded max depth")
	}
	return m
}

func flowInit(t *testing.T, m *Model) *Model {
	t.Helper()
	return flowDrainCmd(t, m, m.Init())
}

const archivesJSON = `{"archives": [
	{"archive": "atlas-20251126T010000Z", "time": "2025-11-26T01:00:03.000000", "id": "aa"},
	{"archive": "atlas-20251127T010000Z", "time": "2025-11-27T01:00:02.000000", "id": "bb"}
]}`

const itemsJSONLines = `{"path": "etc", "type": "d", "size": 0}
{"path": "etc/hosts", "type": "-", "size": 220}
`

func TestFlow_RepoSelectionShowsStatusesAndHeader(t *testing.T) {
	env := newFlowEnv(t)
	m := flowInit(t, env.model())

	assert.Equal(t, navigator.RepoSelection{}, m.State())
	view := m.View()
	assert.Contains(t, view, "Host: atlas | Repo: - | Mount: -")
	assert.Contains(t, view, "nas")
	assert.Contains(t, view, string(probe.StatusUnknown))
	assert.Contains(t, view, string(probe.StatusMissing))
}

func TestFlow_EscPathsBackToExit(t *testing.T) {
	env := newFlowEnv(t)
	m := flowInit(t, env.model())

	m = flowPress(t, m, "enter")
	assert.Equal(t, navigator.MainMenu{Repo: "nas"}, m.State())
	assert.Contains(t, m.View(), "Repo: nas (ssh://backup@nas/./borg)")

	m = flowPress(t, m, "esc")
	assert.Equal(t, navigator.RepoSelection{}, m.State())

	m = flowPress(t, m, "esc")
	assert.Equal(t, navigator.Exited{}, m.State())
	assert.Empty(t, m.View())
	assert.Empty(t, env.runner.Calls())
}

func TestFlow_ListPickMountBrowseUnmount(t *testing.T) {
	env := newFlowEnv(t)
	env.runner.OnStdout("list", archivesJSON).OnStdout("list", itemsJSONLines)
	m := flowInit(t, env.model(WithStartRepo("nas")))

	// Browse archives
	m = flowPress(t, m, "enter")
	assert.Equal(t, navigator.MountBrowser{Repo: "nas"}, m.State())
	assert.Contains(t, m.View(), "atlas-20251127T010000Z")

	m = flowPress(t, m, "down", "enter")
	require.Equal(t, navigator.MountBrowser{Repo: "nas", Archive: "atlas-20251127T010000Z"}, m.State())

	mp := filepath.Join(env.deps.Registry.Repositories()[0].MountRoot, "nas", "atlas-20251127T010000Z")
	require.Len(t, env.runner.CallsFor("mount"), 1)
	assert.Contains(t, m.View(), "Mount: "+mp)
	assert.Contains(t, m.View(), "Mounted atlas-20251127T010000Z at "+mp)

	// Browse files
	m = flowPress(t, m, "enter")
	assert.Equal(t, navigator.FileBrowser{Repo: "nas", Archive: "atlas-20251127T010000Z", Mountpoint: mp}, m.State())
	assert.Contains(t, m.View(), "etc/hosts")

	m = flowPress(t, m, "u")
	assert.Equal(t, navigator.MainMenu{Repo: "nas"}, m.State())
	assert.Contains(t, m.View(), "Unmounted "+mp)
	assert.Empty(t, env.mounts.Sessions())
	assert.Len(t, env.runner.CallsFor("umount"), 1)

	assert.Equal(t, 1, env.prompter.calls)
}

func TestFlow_MountedArchiveIsReusedFromMainMenu(t *testing.T) {
	env := newFlowEnv(t)
	env.runner.OnStdout("list", archivesJSON).OnStdout("list", itemsJSONLines)
	m := flowInit(t, env.model(WithStartRepo("nas")))

	m = flowPress(t, m, "enter", "enter")
	require.Len(t, env.mounts.Sessions(), 1)
	m = flowPress(t, m, "esc")
	require.Equal(t, navigator.MainMenu{Repo: "nas"}, m.State())
	assert.Contains(t, m.View(), "Mounted: atlas-20251126T010000Z")

	// Browse archives, Back up: home, Mounted: ...
	m = flowPress(t, m, "down", "down", "enter")
	sess := env.mounts.Sessions()[0]
	assert.Equal(t, navigator.FileBrowser{Repo: "nas", Archive: sess.Archive, Mountpoint: sess.Mountpoint}, m.State())
	assert.Len(t, env.runner.CallsFor("mount"), 1)
}

func TestFlow_BackupOutcomeThenBack(t *testing.T) {
	env := newFlowEnv(t)
	env.runner.OnExit("create", 1, "warning: file changed while we backed it up\n")
	m := flowInit(t, env.model(WithStartRepo("nas")))

	m = flowPress(t, m, "down", "enter")
	assert.Equal(t, navigator.BackupRunning{Repo: "nas", Preset: "home"}, m.State())

	creates := env.runner.CallsFor("create")
	require.Len(t, creates, 1)
	assert.Equal(t, []string{"BORG_PASSPHRASE=pw"}, creates[0].Env)

	view := m.View()
	assert.Contains(t, view, "completed with warnings (status 1)")
	assert.Contains(t, view, "file changed while we backed it up")

	m = flowPress(t, m, "enter")
	assert.Equal(t, navigator.MainMenu{Repo: "nas"}, m.State())
}

func TestFlow_BackupFailureKeepsNavigatorUsable(t *testing.T) {
	env := newFlowEnv(t)
	env.runner.OnExit("create", 2, "/root: Permission denied\n")
	m := flowInit(t, env.model(WithStartRepo("nas")))

	m = flowPress(t, m, "down", "enter")
	view := m.View()
	assert.Contains(t, view, "failed with status 2")
	assert.Contains(t, view, "run with sudo")

	m = flowPress(t, m, "esc")
	assert.Equal(t, navigator.MainMenu{Repo: "nas"}, m.State())
}

func TestFlow_ListFailureIsShown(t *testing.T) {
	env := newFlowEnv(t)
	env.runner.OnExit("list", 2, "Repository ssh://backup@nas/./borg does not exist.\n")
	m := flowInit(t, env.model(WithStartRepo("nas")))

	m = flowPress(t, m, "enter")
	assert.Equal(t, navigator.MountBrowser{Repo: "nas"}, m.State())
	assert.Contains(t, m.View(), "does not exist")
	assert.Contains(t, m.View(), "(nothing here)")

	m = flowPress(t, m, "esc")
	assert.Equal(t, navigator.MainMenu{Repo: "nas"}, m.State())
}

func TestFlow_ExtractSelectedItem(t *testing.T) {
	env := newFlowEnv(t)
	env.runner.OnStdout("list", archivesJSON).OnStdout("list", itemsJSONLines)
	m := flowInit(t, env.model(WithStartRepo("nas")))

	m = flowPress(t, m, "enter", "enter", "enter")
	require.IsType(t, navigator.FileBrowser{}, m.State())

	dest := filepath.Join(t.TempDir(), "restore")
	m = flowPress(t, m, "down", "enter")
	require.True(t, m.prompting)
	assert.Contains(t, m.View(), "Extract to:")

	m = flowPress(t, m, "ctrl+u")
	m = flowType(t, m, dest)
	m = flowPress(t, m, "enter")

	extracts := env.runner.CallsFor("extract")
	require.Len(t, extracts, 1)
	assert.Equal(t, []string{"extract", "--strip-components", "1",
		"ssh://backup@nas/./borg::atlas-20251126T010000Z", "etc/hosts"}, extracts[0].Args)
	assert.Equal(t, dest, extracts[0].Dir)
	assert.Contains(t, m.View(), "Extracted etc/hosts to "+dest)
	assert.DirExists(t, dest)
}

func TestFlow_ExtractPromptEscCancels(t *testing.T) {
	env := newFlowEnv(t)
	env.runner.OnStdout("list", archivesJSON).OnStdout("list", itemsJSONLines)
	m := flowInit(t, env.model(WithStartRepo("nas")))

	m = flowPress(t, m, "enter", "enter", "enter", "enter")
	require.True(t, m.prompting)

	m = flowPress(t, m, "q", "esc")
	assert.False(t, m.prompting)
	assert.IsType(t, navigator.FileBrowser{}, m.State())
	assert.Empty(t, env.runner.CallsFor("extract"))
}

func TestFlow_StaleResultIsIgnored(t *testing.T) {
	env := newFlowEnv(t)
	m := flowInit(t, env.model(WithStartRepo("nas")))

	m = flowApplyMsg(t, m, archivesMsg{seq: m.seq - 1, archives: []borg.Archive{{Name: "late"}}})
	assert.Nil(t, m.archives)
	assert.NotContains(t, m.View(), "late")
}

func TestFlow_CtrlCExits(t *testing.T) {
	env := newFlowEnv(t)
	m := flowInit(t, env.model(WithStartRepo("nas")))

	next, cmd := m.Update(flowKey("ctrl+c"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, navigator.Exited{}, next.(*Model).State())
}

func TestFlow_UnknownStartRepoFallsBackToSelection(t *testing.T) {
	env := newFlowEnv(t)
	m := flowInit(t, env.model(WithStartRepo("gone")))

	assert.Equal(t, navigator.RepoSelection{}, m.State())
	assert.True(t, strings.Contains(m.View(), "gone"))
}

func TestWindow(t *testing.T) {
	tests := []struct {
		n, cursor, height int
		start, end        int
	}{
		{3, 0, 5, 0, 3},
		{20, 0, 5, 0, 5},
		{20, 10, 5, 8, 13},
		{20, 19, 5, 15, 20},
	}
	for _, tt := range tests {
		start, end := window(tt.n, tt.cursor, tt.height)
		assert.Equal(t, tt.start, start)
		assert.Equal(t, tt.end, end)
	}
}

func TestEffectCommand_PrintsBusyLine(t *testing.T) {
	var buf strings.Builder
	c := &effectCommand{busy: "Mounting a1", run: func() tea.Msg { return extractMsg{path: "x"} }}
	c.SetStderr(&buf)
	require.NoError(t, c.Run())
	assert.Equal(t, "Mounting a1...\n", buf.String())
	assert.Equal(t, extractMsg{path: "x"}, c.result)
}
