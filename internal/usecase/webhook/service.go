package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/domain/drift"
	"deltadrift/internal/errs"
	"deltadrift/internal/ports"
)

// Service routes parsed webhook events into directory updates, mirror
// maintenance and drift event creation.
type Service struct {
	uow       ports.UnitOfWork
	directory ports.DirectoryRepository
	drifts    ports.DriftEventRepository
	mirror    ports.Mirror
	github    ports.SourceControl
	queue     ports.JobQueue
}

func NewService(
	uow ports.UnitOfWork,
	directory ports.DirectoryRepository,
	drifts ports.DriftEventRepository,
	mirror ports.Mirror,
	github ports.SourceControl,
	queue ports.JobQueue,
) *Service {
	return &Service{
		uow:       uow,
		directory: directory,
		drifts:    drifts,
		mirror:    mirror,
		github:    github,
		queue:     queue,
	}
}

// HandleEvent dispatches one parsed event. A nil event is a delivery the
// parser chose to ignore and succeeds without side effects.
func (s *Service) HandleEvent(ctx context.Context, event drift.WebhookEvent) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return nil
	}

	switch e := event.(type) {
	case drift.InstallationCreated:
		return s.handleInstallationCreated(ctx, e)
	case drift.InstallationDeleted:
		return s.handleInstallationDeleted(ctx, e)
	case drift.InstallationSuspended:
		return s.handleInstallationSuspended(ctx, e)
	case drift.RepositoriesAdded:
		return s.handleRepositoriesAdded(ctx, e)
	case drift.RepositoriesRemoved:
		return s.handleRepositoriesRemoved(ctx, e)
	case drift.PullRequestChanged:
		return s.handlePullRequest(ctx, e)
	default:
		return fmt.Errorf("unhandled webhook event %T", event)
	}
}

func (s *Service) handleInstallationCreated(ctx context.Context, e drift.InstallationCreated) error {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.webhook"),
		slog.Int64("installation_id", e.InstallationID),
	)

	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		userID, err := s.directory.FindUserIDByGitHubID(txCtx, e.SenderUserID)
		if err != nil {
			return err
		}
		if userID == nil {
			logging.Info(logCtx, "installation sender has no local user, linking deferred",
				slog.Int64("sender_user_id", e.SenderUserID))
		}

		if err := s.directory.UpsertInstallation(txCtx, ports.InstallationUpsert{
			InstallationID: e.InstallationID,
			AccountName:    e.Account.Login,
			AccountType:    e.Account.Type,
			UserID:         userID,
		}); err != nil {
			return err
		}

		return s.directory.UpsertRepositories(txCtx, e.InstallationID, repositoryUpserts(e.Repositories, e.Account.AvatarURL))
	})
	if err != nil {
		return err
	}

	s.cloneRepositories(ctx, logCtx, e.InstallationID, e.Repositories)
	return nil
}

// cloneRepositories seeds mirrors for freshly granted repositories. The
// directory rows are already committed, so a clone failure here only delays
// the first analysis; it is logged and the next repository is attempted.
func (s *Service) cloneRepositories(ctx context.Context, logCtx context.Context, installationID int64, refs []drift.RepoRef) {
	if len(refs) == 0 {
		return
	}

	token, err := s.github.InstallationToken(ctx, installationID)
	if err != nil {
		logging.Warn(logCtx, "mirror seeding skipped, no installation token", slog.Any("error", err))
		return
	}

	for _, ref := range refs {
		branch := "main"
		if repo, err := s.directory.FindRepository(ctx, installationID, ref.FullName); err == nil {
			branch = repo.TargetBranch
		}
		if err := s.mirror.EnsureCloned(ctx, ref.FullName, token, branch); err != nil {
			logging.Warn(logCtx, "mirror clone failed, skipping",
				slog.String("repo", ref.FullName),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Service) handleInstallationDeleted(ctx context.Context, e drift.InstallationDeleted) error {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.webhook"),
		slog.Int64("installation_id", e.InstallationID),
	)

	repos, err := s.directory.ListRepositories(ctx, e.InstallationID)
	if err != nil {
		return err
	}

	if err := s.directory.DeleteInstallation(ctx, e.InstallationID); err != nil {
		return err
	}

	// Mirror cleanup is best-effort: the directory row is already gone and a
	// leftover clone only costs disk.
	for _, repo := range repos {
		if _, err := s.mirror.Remove(ctx, repo.FullName); err != nil {
			logging.Warn(logCtx, "mirror cleanup failed",
				slog.String("repo", repo.FullName),
				slog.Any("error", err),
			)
		}
	}

	logging.Info(logCtx, "installation removed", slog.Int("repositories", len(repos)))
	return nil
}

func (s *Service) handleInstallationSuspended(ctx context.Context, e drift.InstallationSuspended) error {
	if err := s.directory.SetRepositoriesSuspended(ctx, e.InstallationID, e.Suspended); err != nil {
		return err
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "usecase.webhook")),
		"installation suspension updated",
		slog.Int64("installation_id", e.InstallationID),
		slog.Bool("suspended", e.Suspended),
	)
	return nil
}

func (s *Service) handleRepositoriesAdded(ctx context.Context, e drift.RepositoriesAdded) error {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.webhook"),
		slog.Int64("installation_id", e.InstallationID),
	)

	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.directory.GetInstallation(txCtx, e.InstallationID); err != nil {
			if errors.Is(err, ports.ErrInstallationNotFound) {
				// Repositories can only be granted to an installation we have
				// seen; register a bare one so the grant is not lost.
				if err := s.directory.UpsertInstallation(txCtx, ports.InstallationUpsert{
					InstallationID: e.InstallationID,
				}); err != nil {
					return err
				}
			} else {
				return err
			}
		}
		return s.directory.UpsertRepositories(txCtx, e.InstallationID, repositoryUpserts(e.Repositories, e.AvatarURL))
	})
	if err != nil {
		return err
	}

	s.cloneRepositories(ctx, logCtx, e.InstallationID, e.Repositories)
	return nil
}

func (s *Service) handleRepositoriesRemoved(ctx context.Context, e drift.RepositoriesRemoved) error {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.webhook"),
		slog.Int64("installation_id", e.InstallationID),
	)

	names := make([]string, 0, len(e.Repositories))
	for _, repo := range e.Repositories {
		names = append(names, repo.FullName)
	}

	if err := s.directory.DeleteRepositories(ctx, e.InstallationID, names); err != nil {
		return err
	}

	for _, name := range names {
		if _, err := s.mirror.Remove(ctx, name); err != nil {
			logging.Warn(logCtx, "mirror cleanup failed",
				slog.String("repo", name),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// handlePullRequest is the ingest half of a drift analysis: refresh the local
// mirror, persist a queued drift event, open the status check, and hand the
// event id to the queue. The worker picks it up from there.
func (s *Service) handlePullRequest(ctx context.Context, e drift.PullRequestChanged) error {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.webhook"),
		slog.Int64("installation_id", e.InstallationID),
		slog.String("repo", e.RepoFullName),
		slog.Int("pr", e.Number),
	)

	repo, err := s.directory.FindRepository(ctx, e.InstallationID, e.RepoFullName)
	if err != nil {
		if errors.Is(err, ports.ErrRepositoryNotFound) {
			logging.Info(logCtx, "pull request for untracked repository, ignoring")
			return nil
		}
		return err
	}
	if repo.IsSuspended || !repo.IsActive {
		logging.Info(logCtx, "repository inactive or suspended, ignoring",
			slog.Bool("active", repo.IsActive),
			slog.Bool("suspended", repo.IsSuspended),
		)
		return nil
	}

	// Mirror refresh is best-effort: the event is recorded either way and a
	// stale or missing mirror surfaces as a failed analysis run.
	s.refreshMirror(ctx, logCtx, e, repo)

	event, err := s.drifts.CreateDriftEvent(ctx, ports.DriftEventCreate{
		RepoID:     repo.ID,
		PRNumber:   e.Number,
		BaseBranch: e.BaseBranch,
		HeadBranch: e.HeadBranch,
		BaseSHA:    e.BaseSHA,
		HeadSHA:    e.HeadSHA,
	})
	if err != nil {
		return err
	}

	if checkRunID := s.github.CreateCheckRun(ctx, e.InstallationID, e.RepoFullName, e.HeadSHA); checkRunID != nil {
		if err := s.drifts.SetCheckRunID(ctx, event.ID, *checkRunID); err != nil {
			return err
		}
	} else {
		logging.Warn(logCtx, "check run unavailable, analysis proceeds without one")
	}

	if err := s.queue.Enqueue(ctx, event.ID); err != nil {
		return errs.Wrap(err, "enqueue analysis job")
	}

	logging.Info(logCtx, "drift analysis queued", slog.String("drift_event_id", event.ID))
	return nil
}

// refreshMirror clones the repository if needed and, when the pull request
// targets the tracked branch, pulls that branch plus the non-fork head.
// Failures are logged and never block drift event creation.
func (s *Service) refreshMirror(ctx context.Context, logCtx context.Context, e drift.PullRequestChanged, repo ports.Repository) {
	token, err := s.github.InstallationToken(ctx, e.InstallationID)
	if err != nil {
		logging.Warn(logCtx, "mirror refresh skipped, no installation token", slog.Any("error", err))
		return
	}

	if err := s.mirror.EnsureCloned(ctx, e.RepoFullName, token, repo.TargetBranch); err != nil {
		logging.Warn(logCtx, "mirror clone failed", slog.Any("error", err))
		return
	}

	if e.BaseBranch != repo.TargetBranch {
		return
	}

	branches := []string{repo.TargetBranch}
	// Fork heads are not fetchable through origin; the diff works off the
	// merge-base commits that the fetch already brought in.
	if e.HeadBranch != "" && !e.HeadIsFork && e.HeadBranch != repo.TargetBranch {
		branches = append(branches, e.HeadBranch)
	}
	if err := s.mirror.SyncBranches(ctx, e.RepoFullName, token, branches); err != nil {
		logging.Warn(logCtx, "mirror sync failed", slog.Any("error", err))
		return
	}

	if err := s.directory.TouchLastSynced(ctx, repo.ID, time.Now().UTC()); err != nil {
		logging.Warn(logCtx, "recording sync time failed", slog.Any("error", err))
	}
}

func repositoryUpserts(refs []drift.RepoRef, avatarURL string) []ports.RepositoryUpsert {
	out := make([]ports.RepositoryUpsert, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ports.RepositoryUpsert{FullName: ref.FullName, AvatarURL: avatarURL})
	}
	return out
}
