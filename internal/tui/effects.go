package tui

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

// EffectRunner turns a blocking operation into a command. The result of fn
// is delivered to Update as a message.
type EffectRunner func(busy string, fn func() tea.Msg) tea.Cmd

// ExecEffects releases the terminal for the duration of fn: no input is read
// while borg runs, the busy line is visible, and a passphrase prompt can use
// the terminal directly.
func ExecEffects(busy string, fn func() tea.Msg) tea.Cmd {
	c := &effectCommand{busy: busy, run: fn, stderr: os.Stderr}
	return tea.Exec(c, func(err error) tea.Msg {
		if err != nil {
			return effectFailedMsg{err: err}
		}
		return c.result
	})
}

// InlineEffects runs fn as an ordinary command; used by tests.
func InlineEffects(_ string, fn func() tea.Msg) tea.Cmd {
	return func() tea.Msg { return fn() }
}

type effectFailedMsg struct{ err error }

// effectCommand adapts a Go function to tea.ExecCommand.
type effectCommand struct {
	busy   string
	run    func() tea.Msg
	result tea.Msg
	stderr io.Writer
}

func (c *effectCommand) Run() error {
	if c.busy != "" {
		fmt.Fprintf(c.stderr, "%s...\n", c.busy)
	}
	c.result = c.run()
	return nil
}

func (c *effectCommand) SetStdin(io.Reader) {}

func (c *effectCommand) SetStdout(io.Writer) {}

func (c *effectCommand) SetStderr(w io.Writer) {
	if w != nil {
		c.stderr = w
	}
}
