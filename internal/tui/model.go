// Package tui is the interactive mode. It renders navigator states with
// bubbletea and performs the side effect each state implies. Effects block
// the program: while borg runs no key is read.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"borg-tool/internal/backup"
	"borg-tool/internal/borg"
	apperrors "borg-tool/internal/errors"
	"borg-tool/internal/logging"
	"borg-tool/internal/mount"
	"borg-tool/internal/navigator"
	"borg-tool/internal/passphrase"
	"borg-tool/internal/probe"
	"borg-tool/internal/registry"
)

// Deps are the components the interactive mode drives.
type Deps struct {
	Registry *registry.Registry
	Prober   *probe.Prober
	Client   *borg.Client
	Cache    *passphrase.Cache
	Executor *backup.Executor
	Mounts   *mount.Manager
	Logger   *logging.Logger
	Host     string
}

// Option configures a Model.
type Option func(*Model)

// WithEffects replaces the effect runner. The default is ExecEffects.
func WithEffects(r EffectRunner) Option {
	return func(m *Model) { m.effects = r }
}

// WithStartRepo opens the main menu of repo instead of the repository list.
func WithStartRepo(repo string) Option {
	return func(m *Model) { m.state = navigator.StartAt(repo) }
}

type noticeKind int

const (
	noticeInfo noticeKind = iota
	noticeSuccess
	noticeWarning
	noticeError
)

type notice struct {
	kind noticeKind
	text string
}

// Model is the bubbletea model of the interactive mode.
type Model struct {
	ctx     context.Context
	deps    Deps
	effects EffectRunner
	keys    keyMap
	help    help.Model

	state    navigator.State
	repo     registry.Repository
	statuses map[string]probe.Result
	cursor   int
	seq      int
	busy     bool
	notice   notice
	height   int

	archives []borg.Archive
	items    []borg.Item
	session  *mount.Session
	outcome  *backup.Outcome

	prompting bool
	extractOf string
	input     textinput.Model
}

// New creates the model. The context is passed to every effect.
func New(ctx context.Context, deps Deps, opts ...Option) *Model {
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Host == "" {
		deps.Host = "unknown"
	}

	input := textinput.New()
	input.Prompt = "Extract to: "
	input.Placeholder = "."
	input.CharLimit = 4096
	input.Cursor.SetMode(cursor.CursorStatic)

	m := &Model{
		ctx:      ctx,
		deps:     deps,
		effects:  ExecEffects,
		keys:     defaultKeys(),
		help:     help.New(),
		state:    navigator.Start(),
		statuses: make(map[string]probe.Result),
		height:   24,
		input:    input,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State is the current navigator state.
func (m *Model) State() navigator.State { return m.state }

// Run starts the interactive program and blocks until the operator leaves.
func Run(ctx context.Context, deps Deps, opts ...Option) error {
	p := tea.NewProgram(New(ctx, deps, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.probeCmd()}
	if _, ok := m.state.(navigator.RepoSelection); !ok {
		cmds = append(cmds, m.enter())
	}
	return tea.Batch(cmds...)
}

type statusesMsg []probe.Result

type archivesMsg struct {
	seq      int
	archives []borg.Archive
	err      error
}

type itemsMsg struct {
	seq   int
	items []borg.Item
	err   error
}

type backupMsg struct {
	seq     int
	outcome backup.Outcome
	err     error
}

type mountMsg struct {
	seq     int
	session mount.Session
	err     error
}

type unmountMsg struct {
	seq        int
	mountpoint string
	err        error
}

type extractMsg struct {
	seq  int
	path string
	dest string
	err  error
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case statusesMsg:
		for _, r := range msg {
			m.statuses[r.Repository.Name] = r
		}
		return m, nil

	case effectFailedMsg:
		m.busy = false
		m.fail(msg.err)
		return m, nil

	case archivesMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
			return m, nil
		}
		m.archives = msg.archives
		if len(m.archives) == 0 {
			m.notify(noticeInfo, fmt.Sprintf("No archives found in %s", m.repo.Name))
		}
		return m, nil

	case itemsMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
			return m, nil
		}
		m.items = msg.items
		return m, nil

	case backupMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.busy = false
		if msg.err != nil && msg.outcome.Kind == "" {
			m.fail(msg.err)
			return m, nil
		}
		out := msg.outcome
		m.outcome = &out
		switch out.Kind {
		case backup.OutcomeSuccess:
			m.notify(noticeSuccess, fmt.Sprintf("Backup '%s' completed: %s", out.Preset, out.Archive))
		case backup.OutcomeWarning:
			m.notify(noticeWarning, fmt.Sprintf("Backup '%s' completed with warnings (status %d)", out.Preset, out.ExitCode))
		default:
			m.notify(noticeError, fmt.Sprintf("Backup '%s' failed with status %d%s", out.Preset, out.ExitCode, out.Hint))
		}
		return m, nil

	case mountMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.busy = false
		var already *mount.AlreadyMountedError
		switch {
		case errors.As(msg.err, &already):
			s := already.Session
			m.session = &s
			m.notify(noticeInfo, apperrors.FormatUserError(already))
		case msg.err != nil:
			m.fail(msg.err)
		default:
			s := msg.session
			m.session = &s
			m.notify(noticeSuccess, fmt.Sprintf("Mounted %s at %s", s.Archive, s.Mountpoint))
		}
		return m, nil

	case unmountMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
			return m, nil
		}
		m.session = nil
		m.notify(noticeSuccess, fmt.Sprintf("Unmounted %s", msg.mountpoint))
		return m, m.apply(navigator.Done{})

	case extractMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
			return m, nil
		}
		m.notify(noticeSuccess, fmt.Sprintf("Extracted %s to %s", msg.path, msg.dest))
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, m.keys.Abort) {
		m.state = navigator.Exited{}
		return tea.Quit
	}
	if m.busy {
		return nil
	}
	if m.prompting {
		return m.handlePromptKey(msg)
	}

	m.notice = notice{}
	entries := m.entries()

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(entries)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Enter):
		if m.cursor < len(entries) && entries[m.cursor].run != nil {
			return entries[m.cursor].run()
		}
	case key.Matches(msg, m.keys.Back):
		return m.apply(navigator.Esc{})
	case key.Matches(msg, m.keys.Quit):
		return m.apply(navigator.Quit{})
	case key.Matches(msg, m.keys.Unmount):
		if s, ok := m.state.(navigator.FileBrowser); ok && s.Mountpoint != "" {
			return m.unmountCmd(s.Mountpoint)
		}
		if m.session != nil {
			if _, ok := m.state.(navigator.MountBrowser); ok {
				return m.unmountCmd(m.session.Mountpoint)
			}
		}
	}
	return nil
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		m.prompting = false
		m.input.Blur()
		return nil
	case tea.KeyEnter:
		m.prompting = false
		m.input.Blur()
		dest := m.input.Value()
		if dest == "" {
			dest = "."
		}
		return m.extractCmd(m.extractOf, dest)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// apply moves the navigator and starts the new state's effect.
func (m *Model) apply(a navigator.Action) tea.Cmd {
	next := navigator.Transition(m.state, a)
	if next == m.state {
		return nil
	}
	m.deps.Logger.WithFields(map[string]interface{}{
		"from": m.state.String(),
		"to":   next.String(),
	}).Debug("Navigator transition")

	m.state = next
	m.cursor = 0
	m.seq++
	m.busy = false
	return m.enter()
}

func (m *Model) enter() tea.Cmd {
	switch s := m.state.(type) {
	case navigator.RepoSelection:
		m.repo = registry.Repository{}
		m.session = nil

	case navigator.MainMenu:
		repo, err := m.deps.Registry.Repository(s.Repo)
		if err != nil {
			m.fail(err)
			return m.apply(navigator.Esc{})
		}
		m.repo = repo
		m.session = nil
		m.archives = nil
		m.items = nil
		m.outcome = nil

	case navigator.BackupRunning:
		preset, err := m.deps.Registry.Preset(m.repo, s.Preset)
		if err != nil {
			m.fail(err)
			return m.apply(navigator.Done{})
		}
		m.outcome = nil
		return m.effect(fmt.Sprintf("Running backup '%s' on %s", preset.Name, m.repo.Name), func(seq int) tea.Msg {
			out, err := m.deps.Executor.Run(m.ctx, m.repo, preset)
			return backupMsg{seq: seq, outcome: out, err: err}
		})

	case navigator.MountBrowser:
		if s.Archive == "" {
			m.archives = nil
			return m.effect("Listing archives of "+m.repo.Name, func(seq int) tea.Msg {
				secret, err := m.secret()
				if err != nil {
					return archivesMsg{seq: seq, err: err}
				}
				archives, err := m.deps.Client.ListArchives(m.ctx, m.repo, secret)
				return archivesMsg{seq: seq, archives: archives, err: err}
			})
		}
		if existing, ok := m.deps.Mounts.SessionFor(m.repo.Name, s.Archive); ok {
			m.session = &existing
			return nil
		}
		m.session = nil
		return m.effect("Mounting "+s.Archive, func(seq int) tea.Msg {
			sess, err := m.deps.Mounts.Mount(m.ctx, m.repo, s.Archive, "")
			return mountMsg{seq: seq, session: sess, err: err}
		})

	case navigator.FileBrowser:
		m.items = nil
		return m.effect("Listing files of "+s.Archive, func(seq int) tea.Msg {
			secret, err := m.secret()
			if err != nil {
				return itemsMsg{seq: seq, err: err}
			}
			items, err := m.deps.Client.ListItems(m.ctx, m.repo, s.Archive, secret)
			return itemsMsg{seq: seq, items: items, err: err}
		})

	case navigator.Exited:
		return tea.Quit
	}
	return nil
}

func (m *Model) effect(busy string, fn func(seq int) tea.Msg) tea.Cmd {
	seq := m.seq
	m.busy = true
	return m.effects(busy, func() tea.Msg { return fn(seq) })
}

func (m *Model) probeCmd() tea.Cmd {
	if m.deps.Prober == nil {
		return nil
	}
	repos := m.deps.Registry.Repositories()
	return func() tea.Msg {
		return statusesMsg(m.deps.Prober.StatusAll(m.ctx, repos))
	}
}

func (m *Model) unmountCmd(mp string) tea.Cmd {
	m.notice = notice{}
	return m.effect("Unmounting "+mp, func(seq int) tea.Msg {
		return unmountMsg{seq: seq, mountpoint: mp, err: m.deps.Mounts.Unmount(m.ctx, mp)}
	})
}

func (m *Model) extractCmd(path, dest string) tea.Cmd {
	s, ok := m.state.(navigator.FileBrowser)
	if !ok {
		return nil
	}
	return m.effect(fmt.Sprintf("Extracting %s to %s", path, dest), func(seq int) tea.Msg {
		secret, err := m.secret()
		if err != nil {
			return extractMsg{seq: seq, err: err}
		}
		err = m.deps.Client.Extract(m.ctx, m.repo, s.Archive, path, dest, secret)
		return extractMsg{seq: seq, path: path, dest: dest, err: err}
	})
}

func (m *Model) openExtractPrompt(path string) tea.Cmd {
	m.prompting = true
	m.extractOf = path
	m.input.SetValue(".")
	m.input.CursorEnd()
	return m.input.Focus()
}

func (m *Model) secret() (passphrase.Secret, error) {
	if m.repo.NoPassphrase {
		return passphrase.None(), nil
	}
	return m.deps.Cache.GetOrPrompt(m.ctx, m.repo.Location)
}

func (m *Model) notify(kind noticeKind, text string) {
	m.notice = notice{kind: kind, text: text}
}

func (m *Model) fail(err error) {
	m.deps.Logger.WithField("state", m.state.String()).WithError(err).Debug("Interactive operation failed")
	m.notify(noticeError, apperrors.FormatUserError(err))
}

// entry is one selectable line of the current screen.
type entry struct {
	label  string
	detail string
	run    func() tea.Cmd
}

func (m *Model) entries() []entry {
	switch s := m.state.(type) {
	case navigator.RepoSelection:
		var out []entry
		for _, repo := range m.deps.Registry.Repositories() {
			name := repo.Name
			detail := "..."
			if r, ok := m.statuses[name]; ok {
				detail = string(r.Status)
			}
			out = append(out, entry{
				label:  name,
				detail: detail,
				run:    func() tea.Cmd { return m.apply(navigator.Select{Repo: name}) },
			})
		}
		return out

	case navigator.MainMenu:
		out := []entry{{
			label: "Browse archives",
			run:   func() tea.Cmd { return m.apply(navigator.List{}) },
		}}
		for _, p := range m.repo.Presets {
			name := p.Name
			out = append(out, entry{
				label: "Back up: " + name,
				run:   func() tea.Cmd { return m.apply(navigator.Backup{Preset: name}) },
			})
		}
		for _, sess := range m.deps.Mounts.Sessions() {
			if sess.Repository != m.repo.Name {
				continue
			}
			out = append(out, entry{
				label:  "Mounted: " + sess.Archive,
				detail: sess.Mountpoint,
				run: func() tea.Cmd {
					return m.apply(navigator.Browse{Archive: sess.Archive, Mountpoint: sess.Mountpoint})
				},
			})
		}
		out = append(out,
			entry{label: "Change repository", run: func() tea.Cmd { return m.apply(navigator.Esc{}) }},
			entry{label: "Quit", run: func() tea.Cmd { return m.apply(navigator.Quit{}) }},
		)
		return out

	case navigator.BackupRunning:
		if m.busy {
			return nil
		}
		return []entry{{label: "Back", run: func() tea.Cmd { return m.apply(navigator.Done{}) }}}

	case navigator.MountBrowser:
		if s.Archive == "" {
			out := make([]entry, 0, len(m.archives))
			for _, a := range m.archives {
				name := a.Name
				out = append(out, entry{
					label:  name,
					detail: a.Time,
					run:    func() tea.Cmd { return m.apply(navigator.PickArchive{Archive: name}) },
				})
			}
			return out
		}
		var out []entry
		mp := ""
		if m.session != nil {
			mp = m.session.Mountpoint
		}
		out = append(out, entry{
			label: "Browse files",
			run: func() tea.Cmd {
				return m.apply(navigator.Browse{Archive: s.Archive, Mountpoint: mp})
			},
		})
		if m.session != nil {
			out = append(out, entry{label: "Unmount", detail: mp, run: func() tea.Cmd { return m.unmountCmd(mp) }})
		}
		return append(out, entry{label: "Back", run: func() tea.Cmd { return m.apply(navigator.Done{}) }})

	case navigator.FileBrowser:
		out := make([]entry, 0, len(m.items))
		for _, it := range m.items {
			path := it.Path
			out = append(out, entry{
				label:  path,
				detail: it.Type,
				run:    func() tea.Cmd { return m.openExtractPrompt(path) },
			})
		}
		return out
	}
	return nil
}
