// Package mount owns the table of FUSE mount sessions. Every archive the
// tool mounts is tracked here from the moment the mountpoint is prepared
// until it is released, so that no exit path leaves a mount behind.
package mount

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"borg-tool/internal/registry"
)

// State is a session's position in the mount lifecycle.
type State int

const (
	StateUnmounted State = iota
	StateMounting
	StateMounted
	StateUnmounting
)

func (s State) String() string {
	switch s {
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateUnmounting:
		return "unmounting"
	default:
		return "unmounted"
	}
}

// Session is one archive mounted at one mountpoint. Sessions handed out by
// the manager are copies.
type Session struct {
	Repository string    `json:"repository" yaml:"repository"`
	Archive    string    `json:"archive" yaml:"archive"`
	Mountpoint string    `json:"mountpoint" yaml:"mountpoint"`
	State      State     `json:"-" yaml:"-"`
	CreatedDir bool      `json:"created_dir" yaml:"created_dir"`
	MountedAt  time.Time `json:"mounted_at" yaml:"mounted_at"`

	repo registry.Repository
}

// AlreadyMountedError is returned when the requested archive already has a
// Mounted session. It carries that session.
type AlreadyMountedError struct {
	Session Session
	cause   error
}

func (e *AlreadyMountedError) Error() string {
	return fmt.Sprintf("archive %s of %s is already mounted at %s",
		e.Session.Archive, e.Session.Repository, e.Session.Mountpoint)
}

func (e *AlreadyMountedError) Unwrap() error { return e.cause }

type archiveKey struct {
	repo    string
	archive string
}

// SafeName percent-encodes the bytes of s that do not belong in a single
// path element. The encoding is reversible, so distinct names never share a
// mountpoint.
func SafeName(s string) string {
	switch s {
	case "":
		return "%"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if safeByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func safeByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("._-:+@=,", c) >= 0
}

// DefaultMountpoint is <mount_root>/<repo>/<archive>.
func DefaultMountpoint(repo registry.Repository, archive string) string {
	return filepath.Join(repo.MountRoot, SafeName(repo.Name), SafeName(archive))
}

func cleanMountpoint(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
