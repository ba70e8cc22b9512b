package ports

import "context"

// Mirror maintains local on-disk clones of tracked repositories. It is the
// only component allowed to touch the mirror directory tree or the git
// binary.
type Mirror interface {
	// EnsureCloned clones the repository if absent; a present mirror is a
	// success without re-cloning.
	EnsureCloned(ctx context.Context, fullName string, token string, branch string) error
	// SyncBranches refreshes the remote URL with a fresh token, fetches, and
	// checks out + pulls each requested branch. Per-branch failures are
	// logged and skipped; only a missing repository, a remote rewrite
	// failure, or a fetch failure fails the call.
	SyncBranches(ctx context.Context, fullName string, token string, branches []string) error
	// Remove deletes the mirror directory; returns false when it was already
	// absent.
	Remove(ctx context.Context, fullName string) (bool, error)
	// Diff returns the name-status lines between two commits.
	Diff(ctx context.Context, fullName string, baseSHA string, headSHA string) ([]string, error)
}
