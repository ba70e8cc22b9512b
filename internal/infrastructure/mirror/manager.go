package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deltadrift/internal/bootstrap/config"
	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/domain/drift"
	"deltadrift/internal/errs"
)

// ErrRepositoryMissing reports that no local mirror exists for the
// repository.
var ErrRepositoryMissing = errors.New("local repository not found")

// Error is a failed git invocation against a mirror, carrying the stderr the
// subprocess produced.
type Error struct {
	Op     string
	Repo   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("mirror %s %s: %v", e.Op, e.Repo, e.Err)
	if strings.TrimSpace(e.Stderr) != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

type runGitFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

// Manager keeps one working clone per repository under
// <base_path>/<owner>/<repo>. Mutating operations on the same repository are
// serialized with a per-repository lock; concurrent jobs against different
// repositories proceed independently.
type Manager struct {
	basePath     string
	cloneTimeout time.Duration
	syncTimeout  time.Duration
	diffTimeout  time.Duration
	runGit       runGitFunc

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(cfg config.MirrorConfig) *Manager {
	return &Manager{
		basePath:     cfg.BasePath,
		cloneTimeout: secondsOrDefault(cfg.CloneTimeoutSeconds, 1000),
		syncTimeout:  secondsOrDefault(cfg.SyncTimeoutSeconds, 120),
		diffTimeout:  secondsOrDefault(cfg.DiffTimeoutSeconds, 60),
		runGit:       runGit,
		locks:        make(map[string]*sync.Mutex),
	}
}

func secondsOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	return cmd.CombinedOutput()
}

func (m *Manager) repoLock(fullName string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[fullName]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[fullName] = lock
	}
	return lock
}

func (m *Manager) repoPath(fullName string) (string, error) {
	owner, name, err := drift.SplitFullName(fullName)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.basePath, owner, name), nil
}

func remoteURL(fullName string, token string) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, fullName)
}

// EnsureCloned clones the repository at its configured target branch.
// Idempotent: a mirror that already exists is left untouched.
func (m *Manager) EnsureCloned(ctx context.Context, fullName string, token string, branch string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := m.repoPath(fullName)
	if err != nil {
		return err
	}

	lock := m.repoLock(fullName)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return errs.Wrap(err, "check mirror path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(err, "create mirror owner directory")
	}

	cloneCtx, cancel := context.WithTimeout(ctx, m.cloneTimeout)
	defer cancel()

	output, err := m.runGit(cloneCtx, "", "clone", "--branch", branch, remoteURL(fullName, token), path)
	if err != nil {
		// Drop the partial clone so a retry starts clean.
		_ = os.RemoveAll(path)
		return &Error{Op: "clone", Repo: fullName, Stderr: redactToken(string(output), token), Err: gitErr(cloneCtx, err)}
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "mirror")),
		"repository cloned",
		slog.String("repo", fullName),
		slog.String("path", path),
		slog.String("branch", branch),
	)
	return nil
}

// SyncBranches refreshes the origin URL with a fresh token, fetches, then
// checks out and pulls each branch. A branch that fails to update is logged
// and skipped; the repository being absent, the URL rewrite failing, or the
// fetch failing fails the whole call.
func (m *Manager) SyncBranches(ctx context.Context, fullName string, token string, branches []string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := m.repoPath(fullName)
	if err != nil {
		return err
	}

	lock := m.repoLock(fullName)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRepositoryMissing, fullName)
		}
		return errs.Wrap(err, "check mirror path")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "mirror"), slog.String("repo", fullName))

	if output, err := m.gitWithTimeout(ctx, path, "remote", "set-url", "origin", remoteURL(fullName, token)); err != nil {
		return &Error{Op: "set-url", Repo: fullName, Stderr: redactToken(string(output), token), Err: err}
	}
	if output, err := m.gitWithTimeout(ctx, path, "fetch", "origin"); err != nil {
		return &Error{Op: "fetch", Repo: fullName, Stderr: redactToken(string(output), token), Err: err}
	}

	for _, branch := range branches {
		branch = strings.TrimSpace(branch)
		if branch == "" {
			continue
		}

		if output, err := m.gitWithTimeout(ctx, path, "checkout", branch); err != nil {
			logging.Warn(logCtx, "branch checkout failed, skipping",
				slog.String("branch", branch),
				slog.String("stderr", redactToken(string(output), token)),
			)
			continue
		}
		if output, err := m.gitWithTimeout(ctx, path, "pull", "origin", branch); err != nil {
			logging.Warn(logCtx, "branch pull failed, skipping",
				slog.String("branch", branch),
				slog.String("stderr", redactToken(string(output), token)),
			)
			continue
		}
	}
	return nil
}

// Remove deletes the mirror directory. An absent mirror is not an error.
func (m *Manager) Remove(ctx context.Context, fullName string) (bool, error) {
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := m.repoPath(fullName)
	if err != nil {
		return false, err
	}

	lock := m.repoLock(fullName)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errs.Wrap(err, "check mirror path")
	}

	if err := os.RemoveAll(path); err != nil {
		return false, errs.Wrapf(err, "remove mirror %s", fullName)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "mirror")),
		"mirror removed",
		slog.String("repo", fullName),
		slog.String("path", path),
	)
	return true, nil
}

// Diff returns the `git diff --name-status base...head` lines for the
// mirror.
func (m *Manager) Diff(ctx context.Context, fullName string, baseSHA string, headSHA string) ([]string, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := m.repoPath(fullName)
	if err != nil {
		return nil, err
	}

	lock := m.repoLock(fullName)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRepositoryMissing, fullName)
		}
		return nil, errs.Wrap(err, "check mirror path")
	}

	diffCtx, cancel := context.WithTimeout(ctx, m.diffTimeout)
	defer cancel()

	output, err := m.runGit(diffCtx, path, "diff", "--name-status", baseSHA+"..."+headSHA)
	if err != nil {
		return nil, &Error{Op: "diff", Repo: fullName, Stderr: string(output), Err: gitErr(diffCtx, err)}
	}

	raw := strings.Split(strings.ReplaceAll(string(output), "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (m *Manager) gitWithTimeout(ctx context.Context, dir string, args ...string) ([]byte, error) {
	gitCtx, cancel := context.WithTimeout(ctx, m.syncTimeout)
	defer cancel()

	output, err := m.runGit(gitCtx, dir, args...)
	if err != nil {
		return output, gitErr(gitCtx, err)
	}
	return output, nil
}

func gitErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(context.DeadlineExceeded, "git command timed out")
	}
	return err
}

func redactToken(output string, token string) string {
	if strings.TrimSpace(token) == "" {
		return output
	}
	return strings.ReplaceAll(output, token, "***")
}
