package navigator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscPaths(t *testing.T) {
	tests := []struct {
		from State
		want State
	}{
		{RepoSelection{}, Exited{}},
		{MainMenu{Repo: "r"}, RepoSelection{}},
		{BackupRunning{Repo: "r", Preset: "p"}, MainMenu{Repo: "r"}},
		{MountBrowser{Repo: "r"}, MainMenu{Repo: "r"}},
		{MountBrowser{Repo: "r", Archive: "a"}, MainMenu{Repo: "r"}},
		{FileBrowser{Repo: "r", Archive: "a"}, MainMenu{Repo: "r"}},
		{FileBrowser{Repo: "r", Archive: "a", Mountpoint: "/m"}, MainMenu{Repo: "r"}},
		{Exited{}, Exited{}},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.from, Esc{}))
		})
	}
}

func TestMainMenuEscTwiceExits(t *testing.T) {
	s := State(MainMenu{Repo: "nas"})
	s = Transition(s, Esc{})
	assert.Equal(t, RepoSelection{}, s)
	s = Transition(s, Esc{})
	assert.Equal(t, Exited{}, s)
}

func TestForwardTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		action Action
		want   State
	}{
		{"select repo", RepoSelection{}, Select{Repo: "r"}, MainMenu{Repo: "r"}},
		{"list archives", MainMenu{Repo: "r"}, List{}, MountBrowser{Repo: "r"}},
		{"run backup", MainMenu{Repo: "r"}, Backup{Preset: "p"}, BackupRunning{Repo: "r", Preset: "p"}},
		{"mount archive", MainMenu{Repo: "r"}, Mount{Archive: "a"}, MountBrowser{Repo: "r", Archive: "a"}},
		{"browse session", MainMenu{Repo: "r"}, Browse{Archive: "a", Mountpoint: "/m"}, FileBrowser{Repo: "r", Archive: "a", Mountpoint: "/m"}},
		{"quit", MainMenu{Repo: "r"}, Quit{}, Exited{}},
		{"pick archive", MountBrowser{Repo: "r"}, PickArchive{Archive: "a"}, MountBrowser{Repo: "r", Archive: "a"}},
		{"browse picked", MountBrowser{Repo: "r", Archive: "a"}, Browse{Archive: "a"}, FileBrowser{Repo: "r", Archive: "a"}},
		{"backup done", BackupRunning{Repo: "r", Preset: "p"}, Done{}, MainMenu{Repo: "r"}},
		{"mount done", MountBrowser{Repo: "r", Archive: "a"}, Done{}, MainMenu{Repo: "r"}},
		{"browse done", FileBrowser{Repo: "r", Archive: "a"}, Done{}, MainMenu{Repo: "r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.from, tt.action))
		})
	}
}

func TestUndefinedPairsKeepState(t *testing.T) {
	tests := []struct {
		from   State
		action Action
	}{
		{RepoSelection{}, List{}},
		{RepoSelection{}, Done{}},
		{RepoSelection{}, Select{}},
		{MainMenu{Repo: "r"}, Done{}},
		{MainMenu{Repo: "r"}, PickArchive{Archive: "a"}},
		{MainMenu{Repo: "r"}, Backup{}},
		{MainMenu{Repo: "r"}, Select{Repo: "other"}},
		{BackupRunning{Repo: "r", Preset: "p"}, Quit{}},
		{BackupRunning{Repo: "r", Preset: "p"}, Backup{Preset: "q"}},
		{MountBrowser{Repo: "r", Archive: "a"}, PickArchive{Archive: "b"}},
		{MountBrowser{Repo: "r"}, Browse{Archive: "a"}},
		{MountBrowser{Repo: "r", Archive: "a"}, Browse{Archive: "b"}},
		{FileBrowser{Repo: "r", Archive: "a"}, List{}},
		{Exited{}, Select{Repo: "r"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.from, Transition(tt.from, tt.action), "%s %T", tt.from, tt.action)
	}
}

func TestStartAt(t *testing.T) {
	assert.Equal(t, RepoSelection{}, Start())
	assert.Equal(t, RepoSelection{}, StartAt(""))
	assert.Equal(t, MainMenu{Repo: "r"}, StartAt("r"))
}

func TestRepo(t *testing.T) {
	assert.Equal(t, "", Repo(RepoSelection{}))
	assert.Equal(t, "r", Repo(MainMenu{Repo: "r"}))
	assert.Equal(t, "r", Repo(BackupRunning{Repo: "r"}))
	assert.Equal(t, "r", Repo(MountBrowser{Repo: "r"}))
	assert.Equal(t, "r", Repo(FileBrowser{Repo: "r"}))
	assert.Equal(t, "", Repo(Exited{}))
}
