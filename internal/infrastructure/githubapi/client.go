package githubapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v68/github"

	"deltadrift/internal/bootstrap/config"
	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/domain/drift"
	"deltadrift/internal/errs"
	"deltadrift/internal/ports"
)

const checkRunName = "Documentation Drift Analysis"

// AuthError reports a failure to obtain installation credentials.
type AuthError struct {
	InstallationID int64
	Err            error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("github auth for installation %d: %v", e.InstallationID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemoteError reports a non-success response from the provider API.
type RemoteError struct {
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("github api status %d: %v", e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

type installationEntry struct {
	transport *ghinstallation.Transport
	client    *github.Client
}

// Client implements ports.SourceControl against the GitHub App API. One
// authenticated transport is kept per installation; ghinstallation refreshes
// the installation token under it as tokens expire. The app private key is
// loaded on first use so commands that never call out (init-db, worker setup)
// run with an unconfigured app.
type Client struct {
	cfg config.GitHubConfig

	mu            sync.Mutex
	appTransport  *ghinstallation.AppsTransport
	installations map[int64]installationEntry
}

func NewClient(cfg config.GitHubConfig) *Client {
	return &Client{
		cfg:           cfg,
		installations: make(map[int64]installationEntry),
	}
}

// apps returns the shared app-level transport, loading the signing key on the
// first call. Callers hold c.mu.
func (c *Client) apps() (*ghinstallation.AppsTransport, error) {
	if c.appTransport != nil {
		return c.appTransport, nil
	}

	if c.cfg.AppID == 0 {
		return nil, errors.New("github.app_id is required")
	}
	if c.cfg.PrivateKeyPath == "" {
		return nil, errors.New("github.private_key_path is required")
	}

	appTransport, err := ghinstallation.NewAppsTransportKeyFromFile(http.DefaultTransport, c.cfg.AppID, c.cfg.PrivateKeyPath)
	if err != nil {
		return nil, errs.Wrap(err, "load github app key")
	}
	if c.cfg.APIBaseURL != "" {
		appTransport.BaseURL = c.cfg.APIBaseURL
	}

	c.appTransport = appTransport
	return appTransport, nil
}

func (c *Client) entry(installationID int64) (installationEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.installations[installationID]; ok {
		return entry, nil
	}

	appTransport, err := c.apps()
	if err != nil {
		return installationEntry{}, err
	}

	transport := ghinstallation.NewFromAppsTransport(appTransport, installationID)
	httpClient := &http.Client{Transport: transport}

	client := github.NewClient(httpClient)
	if c.cfg.APIBaseURL != "" {
		transport.BaseURL = c.cfg.APIBaseURL
		withBase, err := client.WithEnterpriseURLs(c.cfg.APIBaseURL, c.cfg.APIBaseURL)
		if err != nil {
			return installationEntry{}, errs.Wrap(err, "configure api base url")
		}
		client = withBase
	}

	entry := installationEntry{transport: transport, client: client}
	c.installations[installationID] = entry
	return entry, nil
}

func (c *Client) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entry, err := c.entry(installationID)
	if err != nil {
		return "", &AuthError{InstallationID: installationID, Err: err}
	}

	token, err := entry.transport.Token(ctx)
	if err != nil {
		return "", &AuthError{InstallationID: installationID, Err: err}
	}
	return token, nil
}

func (c *Client) FetchRepoSummary(ctx context.Context, installationID int64, owner string, name string) (ports.RepoSummary, error) {
	if ctx == nil {
		return ports.RepoSummary{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return ports.RepoSummary{}, err
	}

	entry, err := c.entry(installationID)
	if err != nil {
		return ports.RepoSummary{}, &AuthError{InstallationID: installationID, Err: err}
	}

	repo, resp, err := entry.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return ports.RepoSummary{}, &RemoteError{StatusCode: status, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return ports.RepoSummary{}, &RemoteError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("fetch repository %s/%s", owner, name),
		}
	}

	summary := ports.RepoSummary{
		Name:        repo.GetFullName(),
		Description: repo.GetDescription(),
		Language:    repo.GetLanguage(),
		Stars:       repo.GetStargazersCount(),
		Forks:       repo.GetForksCount(),
	}
	if repo.GetOwner() != nil {
		summary.AvatarURL = repo.GetOwner().GetAvatarURL()
	}
	return summary, nil
}

// CreateCheckRun is best-effort: PRs must still be analyzed when the checks
// API is unavailable, so failures log and return nil instead of erroring.
func (c *Client) CreateCheckRun(ctx context.Context, installationID int64, repoFullName string, headSHA string) *int64 {
	if ctx == nil || ctx.Err() != nil {
		return nil
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "githubapi"),
		slog.String("repo", repoFullName),
	)

	owner, name, err := drift.SplitFullName(repoFullName)
	if err != nil {
		logging.Warn(logCtx, "check run skipped: bad repository name", slog.Any("error", err))
		return nil
	}

	entry, err := c.entry(installationID)
	if err != nil {
		logging.Warn(logCtx, "check run skipped: installation transport", slog.Any("error", err))
		return nil
	}

	run, _, err := entry.client.Checks.CreateCheckRun(ctx, owner, name, github.CreateCheckRunOptions{
		Name:    checkRunName,
		HeadSHA: headSHA,
		Status:  github.Ptr("queued"),
	})
	if err != nil {
		logging.Warn(logCtx, "check run creation failed", slog.Any("error", err))
		return nil
	}
	if run == nil || run.ID == nil {
		logging.Warn(logCtx, "check run creation returned no id")
		return nil
	}

	id := run.GetID()
	return &id
}

func (c *Client) UpdateCheckRun(ctx context.Context, installationID int64, repoFullName string, checkRunID int64, update ports.CheckRunUpdate) bool {
	if ctx == nil || ctx.Err() != nil {
		return false
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "githubapi"),
		slog.String("repo", repoFullName),
		slog.Int64("check_run_id", checkRunID),
	)

	owner, name, err := drift.SplitFullName(repoFullName)
	if err != nil {
		logging.Warn(logCtx, "check run update skipped: bad repository name", slog.Any("error", err))
		return false
	}

	entry, err := c.entry(installationID)
	if err != nil {
		logging.Warn(logCtx, "check run update skipped: installation transport", slog.Any("error", err))
		return false
	}

	opts := github.UpdateCheckRunOptions{Name: checkRunName}
	if update.Status != "" {
		opts.Status = github.Ptr(update.Status)
	}
	if update.Conclusion != "" {
		opts.Conclusion = github.Ptr(update.Conclusion)
	}
	if update.Title != "" || update.Summary != "" {
		opts.Output = &github.CheckRunOutput{
			Title:   github.Ptr(update.Title),
			Summary: github.Ptr(update.Summary),
		}
	}

	if _, _, err := entry.client.Checks.UpdateCheckRun(ctx, owner, name, checkRunID, opts); err != nil {
		logging.Warn(logCtx, "check run update failed", slog.Any("error", err))
		return false
	}
	return true
}
