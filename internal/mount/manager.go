package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"borg-tool/internal/borg"
	apperrors "borg-tool/internal/errors"
	"borg-tool/internal/logging"
	"borg-tool/internal/passphrase"
	"borg-tool/internal/registry"
)

// Manager tracks mount sessions by mountpoint. Operations come from one
// control goroutine; the only other caller is the signal handler's
// Shutdown, which waits for any mount or unmount still running in borg.
type Manager struct {
	client *borg.Client
	cache  *passphrase.Cache
	logger *logging.Logger

	mu        sync.Mutex
	idle      *sync.Cond
	inflight  int
	closing   bool
	sessions  map[string]*Session
	byArchive map[archiveKey]string

	isMountpoint func(string) (bool, error)
	now          func() time.Time
}

// NewManager creates an empty session table.
func NewManager(client *borg.Client, cache *passphrase.Cache, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &Manager{
		client:       client,
		cache:        cache,
		logger:       logger,
		sessions:     make(map[string]*Session),
		byArchive:    make(map[archiveKey]string),
		isMountpoint: IsMountpoint,
		now:          time.Now,
	}
	m.idle = sync.NewCond(&m.mu)
	return m
}

// WithMountpointCheck replaces OS mountpoint detection; used by tests.
func (m *Manager) WithMountpointCheck(fn func(string) (bool, error)) *Manager {
	m.isMountpoint = fn
	return m
}

// Mount mounts archive of repo at target, or at the default mountpoint when
// target is empty. If the archive already has a Mounted session the result is
// an *AlreadyMountedError carrying it and borg is not called.
func (m *Manager) Mount(ctx context.Context, repo registry.Repository, archive, target string) (Session, error) {
	if target == "" {
		target = DefaultMountpoint(repo, archive)
	}
	mp := cleanMountpoint(target)

	if err := m.checkMountable(repo, archive, mp); err != nil {
		var already *AlreadyMountedError
		if errors.As(err, &already) {
			return already.Session, err
		}
		return Session{}, err
	}

	supported, err := m.client.MountSupported(ctx, repo)
	if err != nil {
		return Session{}, apperrors.NewMountFailedError(archive, mp, err)
	}
	if !supported {
		return Session{}, apperrors.NewMountFailedError(archive, mp, errors.New("borg reports no FUSE support")).
			WithUserMessage("This borg build has no FUSE support; install llfuse or pyfuse3 to mount archives")
	}

	created, err := prepareMountpoint(mp)
	if err != nil {
		return Session{}, err
	}

	secret := passphrase.None()
	if !repo.NoPassphrase {
		secret, err = m.cache.GetOrPrompt(ctx, repo.Location)
		if err != nil {
			m.removeCreated(mp, created)
			return Session{}, err
		}
	}

	s := &Session{
		Repository: repo.Name,
		Archive:    archive,
		Mountpoint: mp,
		CreatedDir: created,
		repo:       repo,
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		m.removeCreated(mp, created)
		return Session{}, shuttingDown(archive, mp)
	}
	m.insert(s)
	m.transition(s, StateMounting)
	m.inflight++
	m.mu.Unlock()

	mountErr := m.client.Mount(ctx, repo, archive, mp, secret)

	m.mu.Lock()
	defer m.settle()
	if mountErr != nil {
		m.transition(s, StateUnmounted)
		m.remove(s)
		m.removeCreated(mp, created)
		return Session{}, mountFailed(archive, mp, mountErr)
	}

	s.MountedAt = m.now()
	m.transition(s, StateMounted)
	return *s, nil
}

// checkMountable rejects an archive that is already Mounted and a
// mountpoint held by another session.
func (m *Manager) checkMountable(repo registry.Repository, archive, mp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return shuttingDown(archive, mp)
	}

	key := archiveKey{repo: repo.Name, archive: archive}
	if held, ok := m.byArchive[key]; ok {
		if s := m.sessions[held]; s != nil && s.State == StateMounted {
			return &AlreadyMountedError{
				Session: *s,
				cause: apperrors.NewAppError(apperrors.ErrorTypeAlreadyMounted, "archive already mounted", nil).
					WithContext("mountpoint", held).
					WithUserMessage(fmt.Sprintf("Archive '%s' is already mounted at %s", archive, held)),
			}
		}
	}

	if s, ok := m.sessions[mp]; ok {
		return notEmpty(mp, fmt.Sprintf("in use by archive '%s'", s.Archive))
	}
	return nil
}

// Unmount releases the session at mountpoint. Unknown mountpoints are a
// no-op. On failure the session stays Mounted so the caller may retry.
func (m *Manager) Unmount(ctx context.Context, mountpoint string) error {
	mp := cleanMountpoint(mountpoint)

	m.mu.Lock()
	s, ok := m.sessions[mp]
	for ok && s.State == StateUnmounting {
		m.idle.Wait()
		s, ok = m.sessions[mp]
	}
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.transition(s, StateUnmounting)
	m.inflight++
	m.mu.Unlock()

	umountErr := m.client.Umount(ctx, s.repo, mp)

	m.mu.Lock()
	defer m.settle()
	if umountErr != nil {
		m.transition(s, StateMounted)
		return apperrors.NewUnmountFailedError(mp, umountErr).
			WithUserMessage(fmt.Sprintf("Unmounting %s failed: %s", mp, diagnostic(umountErr)))
	}

	m.transition(s, StateUnmounted)
	m.remove(s)
	m.removeCreated(mp, s.CreatedDir)
	return nil
}

// Adopt registers a mount made by an earlier process so it can be released.
// It returns false when mountpoint is not currently a mountpoint.
func (m *Manager) Adopt(repo registry.Repository, mountpoint string) (Session, bool, error) {
	mp := cleanMountpoint(mountpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[mp]; ok {
		return *s, true, nil
	}

	mounted, err := m.isMountpoint(mp)
	if err != nil {
		return Session{}, false, apperrors.WrapError(err, fmt.Sprintf("inspect %s", mp))
	}
	if !mounted {
		return Session{}, false, nil
	}

	s := &Session{
		Repository: repo.Name,
		Mountpoint: mp,
		State:      StateMounted,
		repo:       repo,
	}
	m.insert(s)
	m.logger.LogMountTransition(repo.Name, "", mp, "external", StateMounted.String())
	return *s, true, nil
}

// Detach drops a Mounted session from the table without unmounting it,
// leaving the archive mounted after the process exits.
func (m *Manager) Detach(mountpoint string) (Session, bool) {
	mp := cleanMountpoint(mountpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[mp]
	if !ok || s.State != StateMounted {
		return Session{}, false
	}
	m.remove(s)
	m.logger.LogMountTransition(s.Repository, s.Archive, mp, s.State.String(), "detached")
	return *s, true
}

// Shutdown refuses new mounts, waits for any mount or unmount still
// running in borg to settle and then unmounts every remaining session.
// Failures are logged and returned joined; sessions that fail stay in the
// table.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for m.inflight > 0 {
		m.idle.Wait()
	}
	pending := m.snapshot()
	m.mu.Unlock()

	var errs []error
	for _, s := range pending {
		if s.State != StateMounted {
			continue
		}
		if err := m.Unmount(ctx, s.Mountpoint); err != nil {
			m.logger.WithField("mountpoint", s.Mountpoint).Warnf("Leaving mount behind: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sessions returns a snapshot sorted by mountpoint.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Manager) snapshot() []Session {
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mountpoint < out[j].Mountpoint })
	return out
}

// Session looks up the session at mountpoint.
func (m *Manager) Session(mountpoint string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[cleanMountpoint(mountpoint)]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SessionFor looks up the session of one archive.
func (m *Manager) SessionFor(repoName, archive string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.byArchive[archiveKey{repo: repoName, archive: archive}]
	if !ok {
		return Session{}, false
	}
	s, ok := m.sessions[mp]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// settle ends an engine call started under the lock and releases it.
func (m *Manager) settle() {
	m.inflight--
	m.idle.Broadcast()
	m.mu.Unlock()
}

func (m *Manager) insert(s *Session) {
	m.sessions[s.Mountpoint] = s
	if s.Archive != "" {
		m.byArchive[archiveKey{repo: s.Repository, archive: s.Archive}] = s.Mountpoint
	}
}

func (m *Manager) remove(s *Session) {
	delete(m.sessions, s.Mountpoint)
	key := archiveKey{repo: s.Repository, archive: s.Archive}
	if m.byArchive[key] == s.Mountpoint {
		delete(m.byArchive, key)
	}
}

func (m *Manager) transition(s *Session, to State) {
	from := s.State
	s.State = to
	m.logger.LogMountTransition(s.Repository, s.Archive, s.Mountpoint, from.String(), to.String())
}

func (m *Manager) removeCreated(mp string, created bool) {
	if !created {
		return
	}
	if err := os.Remove(mp); err != nil && !os.IsNotExist(err) {
		m.logger.WithField("mountpoint", mp).Debugf("Could not remove mountpoint: %v", err)
	}
}

// prepareMountpoint makes sure mp is an empty directory, creating it when
// missing. It reports whether it created it.
func prepareMountpoint(mp string) (bool, error) {
	info, err := os.Stat(mp)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(mp, 0o755); err != nil {
			return false, apperrors.WrapError(err, fmt.Sprintf("create mountpoint %s", mp))
		}
		return true, nil
	case err != nil:
		return false, apperrors.WrapError(err, fmt.Sprintf("inspect mountpoint %s", mp))
	case !info.IsDir():
		return false, notEmpty(mp, "not a directory")
	}

	empty, err := isEmptyDir(mp)
	if err != nil {
		return false, apperrors.WrapError(err, fmt.Sprintf("read mountpoint %s", mp))
	}
	if !empty {
		return false, notEmpty(mp, "directory is not empty")
	}
	return false, nil
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

func notEmpty(mp, why string) error {
	return apperrors.NewRecoverableError(apperrors.ErrorTypeMountpointNotEmpty,
		"mountpoint unusable", nil).
		WithContext("mountpoint", mp).
		WithUserMessage(fmt.Sprintf("Cannot mount at %s: %s", mp, why))
}

func shuttingDown(archive, mp string) error {
	return apperrors.NewMountFailedError(archive, mp, errors.New("shutting down")).
		WithUserMessage(fmt.Sprintf("Not mounting '%s': shutting down", archive))
}

func mountFailed(archive, mp string, err error) error {
	return apperrors.NewMountFailedError(archive, mp, err).
		WithUserMessage(fmt.Sprintf("Mounting '%s' at %s failed: %s", archive, mp, diagnostic(err)))
}

// diagnostic is borg's own message when there is one.
func diagnostic(err error) string {
	var cmdErr *borg.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Stderr != "" {
		lines := strings.Split(cmdErr.Stderr, "\n")
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return apperrors.FormatUserError(err)
}
