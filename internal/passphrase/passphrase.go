// Package passphrase holds the repository secret for one process run.
//
// A Cache is created once at startup and handed to every component that
// talks to borg. The first GetOrPrompt call resolves the secret from the
// environment or a single terminal prompt; later calls return it without I/O.
// A Cache is used from one goroutine at a time.
package passphrase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	apperrors "borg-tool/internal/errors"
)

const (
	// EnvPassphrase carries the secret itself
	EnvPassphrase = "BORG_PASSPHRASE"
	// EnvPassCommand tells borg to run a command for the secret
	EnvPassCommand = "BORG_PASSCOMMAND"
)

// ErrNoTerminal is returned by prompters that cannot reach an interactive terminal.
var ErrNoTerminal = errors.New("stdin is not a terminal")

// Source says where a secret came from.
type Source string

const (
	SourceNone        Source = "none"
	SourceEnvironment Source = "environment"
	SourceCommand     Source = "passcommand"
	SourcePrompt      Source = "prompt"
)

// Secret is an opaque passphrase. Its formatted forms are redacted.
type Secret struct {
	value  string
	source Source
}

// None is the secret used for repositories without a passphrase.
func None() Secret {
	return Secret{source: SourceNone}
}

// Env returns the child-process environment entries that hand the secret to
// borg. A BORG_PASSCOMMAND secret is inherited by the child and adds nothing.
func (s Secret) Env() []string {
	switch s.source {
	case SourceEnvironment, SourcePrompt:
		return []string{EnvPassphrase + "=" + s.value}
	default:
		return nil
	}
}

// Source reports where the secret came from.
func (s Secret) Source() Source {
	if s.source == "" {
		return SourceNone
	}
	return s.source
}

func (s Secret) String() string   { return "[redacted]" }
func (s Secret) GoString() string { return "passphrase.Secret{[redacted]}" }

// Prompter asks the operator for the passphrase with echo disabled.
type Prompter interface {
	Prompt(label string) (string, error)
}

// TerminalPrompter reads from a terminal file descriptor.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Prompt implements Prompter.
func (p *TerminalPrompter) Prompt(label string) (string, error) {
	fd := p.In.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return "", ErrNoTerminal
	}

	fmt.Fprint(p.Out, label)
	raw, err := term.ReadPassword(int(fd))
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(raw), nil
}

// Cache stores at most one secret per run.
type Cache struct {
	prompter  Prompter
	lookupEnv func(string) (string, bool)
	secret    *Secret
}

// NewCache creates a cache that prompts through prompter.
func NewCache(prompter Prompter) *Cache {
	return &Cache{prompter: prompter, lookupEnv: os.LookupEnv}
}

// WithLookupEnv replaces environment lookup; used by tests.
func (c *Cache) WithLookupEnv(fn func(string) (string, bool)) *Cache {
	c.lookupEnv = fn
	return c
}

// IsCached reports whether a secret has been resolved.
func (c *Cache) IsCached() bool {
	return c.secret != nil
}

// GetOrPrompt returns the cached secret, resolving it on first use.
// location only labels the prompt. Nothing is cached on failure, so a later
// call may still succeed.
func (c *Cache) GetOrPrompt(ctx context.Context, location string) (Secret, error) {
	if c.secret != nil {
		return *c.secret, nil
	}
	if err := ctx.Err(); err != nil {
		return Secret{}, err
	}

	if _, ok := c.lookupEnv(EnvPassCommand); ok {
		return c.store(Secret{source: SourceCommand}), nil
	}
	if v, ok := c.lookupEnv(EnvPassphrase); ok {
		return c.store(Secret{value: v, source: SourceEnvironment}), nil
	}

	if c.prompter == nil {
		return Secret{}, unavailable(ErrNoTerminal)
	}

	label := "Enter passphrase"
	if strings.TrimSpace(location) != "" {
		label += " for repo " + location
	}
	label += " (leave empty if none): "

	v, err := c.prompter.Prompt(label)
	if err != nil {
		return Secret{}, unavailable(err)
	}
	return c.store(Secret{value: v, source: SourcePrompt}), nil
}

func (c *Cache) store(s Secret) Secret {
	c.secret = &s
	return s
}

func unavailable(cause error) error {
	return apperrors.NewPassphraseUnavailableError("passphrase unavailable", cause).
		WithUserMessage(fmt.Sprintf("No passphrase available: %v. Set %s or %s, or run from a terminal.",
			cause, EnvPassphrase, EnvPassCommand))
}
