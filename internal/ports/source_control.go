package ports

import "context"

type RepoSummary struct {
	Name        string
	Description string
	Language    string
	Stars       int
	Forks       int
	AvatarURL   string
}

type CheckRunUpdate struct {
	Status     string
	Conclusion string
	Title      string
	Summary    string
}

// SourceControl issues authenticated calls against the provider on behalf of
// one app installation.
type SourceControl interface {
	// InstallationToken returns a short-lived installation-scoped access
	// token suitable for embedding in git remote URLs.
	InstallationToken(ctx context.Context, installationID int64) (string, error)
	FetchRepoSummary(ctx context.Context, installationID int64, owner string, name string) (RepoSummary, error)
	// CreateCheckRun creates a queued status check and returns its id, or
	// nil when creation failed; callers proceed without a check run.
	CreateCheckRun(ctx context.Context, installationID int64, repoFullName string, headSHA string) *int64
	// UpdateCheckRun patches the check run best-effort and reports success.
	UpdateCheckRun(ctx context.Context, installationID int64, repoFullName string, checkRunID int64, update CheckRunUpdate) bool
}
