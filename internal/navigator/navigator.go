// Package navigator is the interactive mode's state machine. States and
// actions are closed sets of plain values and Transition is a pure function;
// side effects belong to whoever renders the states.
package navigator

import "fmt"

// State is one screen of the interactive mode.
type State interface {
	fmt.Stringer
	isState()
}

// RepoSelection lists the configured repositories.
type RepoSelection struct{}

// MainMenu is the per-repository menu.
type MainMenu struct {
	Repo string
}

// BackupRunning runs one preset against Repo.
type BackupRunning struct {
	Repo   string
	Preset string
}

// MountBrowser lists archives when Archive is empty and shows the actions
// for one archive otherwise.
type MountBrowser struct {
	Repo    string
	Archive string
}

// FileBrowser lists the items of an archive. Mountpoint is set when the
// archive is also mounted.
type FileBrowser struct {
	Repo       string
	Archive    string
	Mountpoint string
}

// Exited ends the interactive session.
type Exited struct{}

func (RepoSelection) isState() {}
func (MainMenu) isState()      {}
func (BackupRunning) isState() {}
func (MountBrowser) isState()  {}
func (FileBrowser) isState()   {}
func (Exited) isState()        {}

func (RepoSelection) String() string { return "repo-selection" }
func (s MainMenu) String() string    { return "main-menu(" + s.Repo + ")" }
func (s BackupRunning) String() string {
	return "backup-running(" + s.Repo + ", " + s.Preset + ")"
}
func (s MountBrowser) String() string {
	return "mount-browser(" + s.Repo + ", " + s.Archive + ")"
}
func (s FileBrowser) String() string {
	return "file-browser(" + s.Repo + ", " + s.Archive + ")"
}
func (Exited) String() string { return "exited" }

// Action is an operator intent.
type Action interface {
	isAction()
}

type (
	// Select picks a repository.
	Select struct{ Repo string }
	// List opens the archive list.
	List struct{}
	// Backup starts a preset.
	Backup struct{ Preset string }
	// Mount opens the actions of one archive directly.
	Mount struct{ Archive string }
	// PickArchive chooses an archive from the list.
	PickArchive struct{ Archive string }
	// Browse opens the file browser.
	Browse struct{ Archive, Mountpoint string }
	// Done reports that the current screen finished its work.
	Done struct{}
	// Esc goes back one level.
	Esc struct{}
	// Quit leaves from the main menu.
	Quit struct{}
)

func (Select) isAction()      {}
func (List) isAction()        {}
func (Backup) isAction()      {}
func (Mount) isAction()       {}
func (PickArchive) isAction() {}
func (Browse) isAction()      {}
func (Done) isAction()        {}
func (Esc) isAction()         {}
func (Quit) isAction()        {}

// Start is the initial state.
func Start() State { return RepoSelection{} }

// StartAt skips repository selection when the repository is already known.
func StartAt(repo string) State {
	if repo == "" {
		return RepoSelection{}
	}
	return MainMenu{Repo: repo}
}

// Transition returns the state reached from s by a. Pairs with no defined
// transition return s unchanged.
func Transition(s State, a Action) State {
	switch s := s.(type) {
	case RepoSelection:
		switch a := a.(type) {
		case Select:
			if a.Repo != "" {
				return MainMenu{Repo: a.Repo}
			}
		case Esc, Quit:
			return Exited{}
		}

	case MainMenu:
		switch a := a.(type) {
		case List:
			return MountBrowser{Repo: s.Repo}
		case Backup:
			if a.Preset != "" {
				return BackupRunning{Repo: s.Repo, Preset: a.Preset}
			}
		case Mount:
			if a.Archive != "" {
				return MountBrowser{Repo: s.Repo, Archive: a.Archive}
			}
		case Browse:
			if a.Archive != "" {
				return FileBrowser{Repo: s.Repo, Archive: a.Archive, Mountpoint: a.Mountpoint}
			}
		case Esc:
			return RepoSelection{}
		case Quit:
			return Exited{}
		}

	case BackupRunning:
		switch a.(type) {
		case Done, Esc:
			return MainMenu{Repo: s.Repo}
		}

	case MountBrowser:
		switch a := a.(type) {
		case PickArchive:
			if s.Archive == "" && a.Archive != "" {
				return MountBrowser{Repo: s.Repo, Archive: a.Archive}
			}
		case Browse:
			if s.Archive != "" && a.Archive == s.Archive {
				return FileBrowser{Repo: s.Repo, Archive: a.Archive, Mountpoint: a.Mountpoint}
			}
		case Done, Esc:
			return MainMenu{Repo: s.Repo}
		}

	case FileBrowser:
		switch a.(type) {
		case Done, Esc:
			return MainMenu{Repo: s.Repo}
		}
	}
	return s
}

// Repo returns the repository a state is bound to, if any.
func Repo(s State) string {
	switch s := s.(type) {
	case MainMenu:
		return s.Repo
	case BackupRunning:
		return s.Repo
	case MountBrowser:
		return s.Repo
	case FileBrowser:
		return s.Repo
	}
	return ""
}
