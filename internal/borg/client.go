// Package borg shapes every call to the borg binary and decodes its output.
// Nothing here understands borg's repository format; the package only builds
// argument vectors, runs them through a Runner and interprets exit codes.
package borg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	apperrors "borg-tool/internal/errors"
	"borg-tool/internal/passphrase"
	"borg-tool/internal/registry"
)

// Archive is one entry of `borg list --json`.
type Archive struct {
	Name string `json:"archive" yaml:"name"`
	Time string `json:"time" yaml:"time"`
	ID   string `json:"id" yaml:"id"`
}

// Item is one line of `borg list --json-lines <archive>`.
type Item struct {
	Path string `json:"path" yaml:"path"`
	Type string `json:"type" yaml:"type"`
	Size int64  `json:"size" yaml:"size"`
}

type listResponse struct {
	Archives []Archive `json:"archives"`
}

// CommandError is a borg process that ran and exited with an error code.
type CommandError struct {
	Action   string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("borg %s failed with status %d", e.Action, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Client issues borg operations for configured repositories.
type Client struct {
	runner     Runner
	classifier *ExitClassifier
}

// NewClient creates a client. A nil classifier uses the default warning table.
func NewClient(runner Runner, classifier *ExitClassifier) *Client {
	if classifier == nil {
		classifier = NewExitClassifier(nil)
	}
	return &Client{runner: runner, classifier: classifier}
}

// Classifier returns the exit-code table in use.
func (c *Client) Classifier() *ExitClassifier {
	return c.classifier
}

// ArchiveRef renders the repository::archive locator.
func ArchiveRef(location, archive string) string {
	return location + "::" + archive
}

func (c *Client) run(ctx context.Context, repo registry.Repository, args []string, secret passphrase.Secret, dir string) (Result, error) {
	res, err := c.runner.Execute(ctx, Invocation{
		Binary: repo.BorgBin,
		Args:   args,
		Env:    secret.Env(),
		Dir:    dir,
	})
	if err != nil {
		return res, apperrors.WrapError(err, fmt.Sprintf("cannot run %s", repo.BorgBin))
	}
	return res, nil
}

// check turns a finished run into an error unless borg reported success or a warning.
func (c *Client) check(action string, res Result) error {
	if c.classifier.Classify(res.ExitCode) == ExitError {
		return &CommandError{
			Action:   action,
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(string(res.Stderr)),
		}
	}
	return nil
}

// ListArchives runs `borg list --json <repo>`.
func (c *Client) ListArchives(ctx context.Context, repo registry.Repository, secret passphrase.Secret) ([]Archive, error) {
	res, err := c.run(ctx, repo, []string{"list", "--json", repo.Location}, secret, "")
	if err != nil {
		return nil, err
	}
	if err := c.check("list", res); err != nil {
		return nil, err
	}

	var parsed listResponse
	if err := json.Unmarshal(res.Stdout, &parsed); err != nil {
		return nil, apperrors.NewEngineError("failed to parse borg JSON output", err)
	}
	return parsed.Archives, nil
}

// ListItems runs `borg list --json-lines <repo>::<archive>`.
func (c *Client) ListItems(ctx context.Context, repo registry.Repository, archive string, secret passphrase.Secret) ([]Item, error) {
	res, err := c.run(ctx, repo, []string{"list", "--json-lines", ArchiveRef(repo.Location, archive)}, secret, "")
	if err != nil {
		return nil, err
	}
	if err := c.check("list items", res); err != nil {
		return nil, err
	}
	return ParseItems(res.Stdout)
}

// ParseItems decodes JSON-lines output, skipping blank lines.
func ParseItems(data []byte) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(text), &item); err != nil {
			return nil, apperrors.NewEngineError(
				fmt.Sprintf("failed to parse JSON line %d from borg output", line), err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.NewEngineError("failed to read borg output", err)
	}
	return items, nil
}

// StripComponents is the number of leading path elements borg should drop so
// that only the selected entry lands in the destination.
func StripComponents(pathInArchive string) int {
	clean := strings.Trim(path.Clean("/"+pathInArchive), "/")
	if clean == "" {
		return 0
	}
	return strings.Count(clean, "/")
}

// Extract writes one entry of an archive into dest.
func (c *Client) Extract(ctx context.Context, repo registry.Repository, archive, pathInArchive, dest string, secret passphrase.Secret) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("create destination %s", dest))
	}

	args := []string{"extract"}
	if n := StripComponents(pathInArchive); n > 0 {
		args = append(args, "--strip-components", strconv.Itoa(n))
	}
	args = append(args, ArchiveRef(repo.Location, archive), pathInArchive)

	res, err := c.run(ctx, repo, args, secret, dest)
	if err != nil {
		return err
	}
	return c.check("extract", res)
}

// CreateOptions are the per-run inputs of `borg create`.
type CreateOptions struct {
	Archive       string
	Includes      []string
	Excludes      []string
	Compression   string
	OneFileSystem bool
	ExcludeCaches bool
}

// CreateArgs builds the argument vector for `borg create` in a fixed order:
// flags, excludes, locator, includes.
func CreateArgs(location string, opts CreateOptions) []string {
	args := []string{"create"}
	if opts.Compression != "" {
		args = append(args, "--compression", opts.Compression)
	}
	if opts.OneFileSystem {
		args = append(args, "--one-file-system")
	}
	if opts.ExcludeCaches {
		args = append(args, "--exclude-caches")
	}
	for _, pattern := range opts.Excludes {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, ArchiveRef(location, opts.Archive))
	args = append(args, opts.Includes...)
	return args
}

// Create runs `borg create` and returns the raw result; the caller classifies it.
func (c *Client) Create(ctx context.Context, repo registry.Repository, opts CreateOptions, secret passphrase.Secret) (Result, error) {
	return c.run(ctx, repo, CreateArgs(repo.Location, opts), secret, "")
}

// Mount runs `borg mount <repo>::<archive> <mountpoint>`.
func (c *Client) Mount(ctx context.Context, repo registry.Repository, archive, mountpoint string, secret passphrase.Secret) error {
	res, err := c.run(ctx, repo, []string{"mount", ArchiveRef(repo.Location, archive), mountpoint}, secret, "")
	if err != nil {
		return err
	}
	return c.check("mount", res)
}

// Umount runs `borg umount <mountpoint>`.
func (c *Client) Umount(ctx context.Context, repo registry.Repository, mountpoint string) error {
	res, err := c.run(ctx, repo, []string{"umount", mountpoint}, passphrase.None(), "")
	if err != nil {
		return err
	}
	return c.check("umount", res)
}

// Init runs `borg init --encryption <mode> <repo>`.
func (c *Client) Init(ctx context.Context, repo registry.Repository, encryption string, secret passphrase.Secret) error {
	res, err := c.run(ctx, repo, []string{"init", "--encryption", encryption, repo.Location}, secret, "")
	if err != nil {
		return err
	}
	return c.check("init", res)
}

// MountSupported asks `borg mount --help` whether FUSE support is compiled in.
// Anything other than an explicit "no fuse support" counts as supported.
func (c *Client) MountSupported(ctx context.Context, repo registry.Repository) (bool, error) {
	res, err := c.run(ctx, repo, []string{"mount", "--help"}, passphrase.None(), "")
	if err != nil {
		return false, err
	}
	combined := strings.ToLower(string(res.Stdout) + "\n" + string(res.Stderr))
	return !strings.Contains(combined, "no fuse support"), nil
}
