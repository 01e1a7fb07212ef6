package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"borg-tool/internal/backup"
	"borg-tool/internal/navigator"
	"borg-tool/internal/probe"
)

func (m *Model) View() string {
	if _, ok := m.state.(navigator.Exited); ok {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(m.header()))
	b.WriteString("\n")

	body := []string{titleStyle.Render(m.title())}
	if extra := m.details(); extra != "" {
		body = append(body, extra)
	}
	if m.busy {
		body = append(body, mutedStyle.Render("Working..."))
	} else {
		body = append(body, m.renderEntries())
	}
	if m.prompting {
		body = append(body, m.input.View())
	}
	if m.notice.text != "" {
		body = append(body, m.renderNotice())
	}
	b.WriteString(bodyStyle.Render(lipgloss.JoinVertical(lipgloss.Left, body...)))
	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render(m.help.ShortHelpView(m.helpKeys())))
	return b.String()
}

// header is the status line shown on every screen.
func (m *Model) header() string {
	repo := "-"
	if m.repo.Name != "" {
		repo = fmt.Sprintf("%s (%s)", m.repo.Name, m.repo.Location)
	}
	mp := "-"
	switch {
	case m.session != nil:
		mp = m.session.Mountpoint
	default:
		if s, ok := m.state.(navigator.FileBrowser); ok && s.Mountpoint != "" {
			mp = s.Mountpoint
		}
	}
	return fmt.Sprintf("Host: %s | Repo: %s | Mount: %s", m.deps.Host, repo, mp)
}

func (m *Model) title() string {
	switch s := m.state.(type) {
	case navigator.RepoSelection:
		return "Select repository"
	case navigator.MainMenu:
		return "Repository " + s.Repo
	case navigator.BackupRunning:
		return "Backup " + s.Preset
	case navigator.MountBrowser:
		if s.Archive == "" {
			return "Archives in " + s.Repo
		}
		return "Archive " + s.Archive
	case navigator.FileBrowser:
		return "Files in " + s.Archive
	}
	return ""
}

func (m *Model) details() string {
	if _, ok := m.state.(navigator.BackupRunning); !ok || m.outcome == nil {
		return ""
	}
	out := m.outcome
	lines := []string{fmt.Sprintf("Archive: %s", out.Archive)}
	if out.Duration > 0 {
		lines = append(lines, fmt.Sprintf("Took:    %s", out.Duration.Round(100*time.Millisecond)))
	}
	var extra []string
	switch out.Kind {
	case backup.OutcomeWarning:
		extra = out.Details
	case backup.OutcomeFailed:
		extra = out.StderrTail
	}
	for _, l := range extra {
		lines = append(lines, mutedStyle.Render("  "+l))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderEntries() string {
	entries := m.entries()
	if len(entries) == 0 {
		return mutedStyle.Render("(nothing here)")
	}

	start, end := window(len(entries), m.cursor, m.listHeight())
	var b strings.Builder
	for i := start; i < end; i++ {
		e := entries[i]
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> " + e.label))
		} else {
			b.WriteString("  " + e.label)
		}
		if e.detail != "" {
			b.WriteString("  " + m.renderDetail(e.detail))
		}
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	if end-start < len(entries) {
		b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("%d/%d", m.cursor+1, len(entries))))
	}
	return b.String()
}

func (m *Model) renderDetail(detail string) string {
	if _, ok := m.state.(navigator.RepoSelection); ok {
		switch probe.Status(detail) {
		case probe.StatusOK, probe.StatusRemoteOK:
			return statusOKStyle.Render(detail)
		case probe.StatusMissing, probe.StatusRemoteAuth:
			return warningStyle.Render(detail)
		}
	}
	return mutedStyle.Render(detail)
}

func (m *Model) renderNotice() string {
	switch m.notice.kind {
	case noticeSuccess:
		return successStyle.Render(m.notice.text)
	case noticeWarning:
		return warningStyle.Render(m.notice.text)
	case noticeError:
		return errorStyle.Render(m.notice.text)
	}
	return mutedStyle.Render(m.notice.text)
}

func (m *Model) helpKeys() []key.Binding {
	if m.prompting {
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "extract")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		}
	}
	keys := m.keys.listHelp()
	switch s := m.state.(type) {
	case navigator.RepoSelection, navigator.MainMenu:
		keys = append(keys, m.keys.Quit)
	case navigator.FileBrowser:
		if s.Mountpoint != "" {
			keys = append(keys, m.keys.Unmount)
		}
	case navigator.MountBrowser:
		if m.session != nil {
			keys = append(keys, m.keys.Unmount)
		}
	}
	return keys
}

// listHeight leaves room for the header, title, notice and help lines.
func (m *Model) listHeight() int {
	h := m.height - 9
	if h < 5 {
		h = 5
	}
	return h
}

// window returns the [start, end) range of n rows that keeps cursor visible.
func window(n, cursor, height int) (int, int) {
	if n <= height {
		return 0, n
	}
	start := cursor - height/2
	if start < 0 {
		start = 0
	}
	if start+height > n {
		start = n - height
	}
	return start, start + height
}
