package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"deltadrift/internal/errs"
	"deltadrift/internal/infrastructure/persistence/sqlite/model"
	"deltadrift/internal/ports"
)

type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *DirectoryRepository) FindUserIDByGitHubID(ctx context.Context, githubUserID int64) (*string, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var row model.User
	if err := db.Where("github_user_id = ?", githubUserID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errs.Wrap(err, "query user by github id")
	}
	return &row.ID, nil
}

// UpsertInstallation inserts or refreshes the row keyed by the provider
// installation id. A nil UserID leaves an existing link untouched.
func (r *DirectoryRepository) UpsertInstallation(ctx context.Context, in ports.InstallationUpsert) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := model.Installation{
		InstallationID: in.InstallationID,
		UserID:         in.UserID,
		AccountName:    in.AccountName,
		AccountType:    in.AccountType,
	}

	updates := []string{"account_name", "account_type"}
	if in.UserID != nil {
		updates = append(updates, "user_id")
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "installation_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert installation")
	}
	return nil
}

func (r *DirectoryRepository) GetInstallation(ctx context.Context, installationID int64) (ports.Installation, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Installation{}, err
	}

	var row model.Installation
	if err := db.Where("installation_id = ?", installationID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Installation{}, ports.ErrInstallationNotFound
		}
		return ports.Installation{}, errs.Wrap(err, "query installation")
	}

	return ports.Installation{
		ID:             row.ID,
		InstallationID: row.InstallationID,
		UserID:         row.UserID,
		AccountName:    row.AccountName,
		AccountType:    row.AccountType,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// DeleteInstallation removes the row and, through the schema's cascade, every
// repository and drift event under it.
func (r *DirectoryRepository) DeleteInstallation(ctx context.Context, installationID int64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Where("installation_id = ?", installationID).Delete(&model.Installation{}).Error; err != nil {
		return errs.Wrap(err, "delete installation")
	}
	return nil
}

func (r *DirectoryRepository) SetRepositoriesSuspended(ctx context.Context, installationID int64, suspended bool) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Repository{}).
		Where("installation_id = ?", installationID).
		Update("is_suspended", suspended).Error; err != nil {
		return errs.Wrap(err, "set repositories suspended")
	}
	return nil
}

// UpsertRepositories marks every listed repository active under the
// installation, refreshing the avatar on conflict. Settings columns keep
// their defaults (or the user's existing values).
func (r *DirectoryRepository) UpsertRepositories(ctx context.Context, installationID int64, repos []ports.RepositoryUpsert) error {
	if len(repos) == 0 {
		return nil
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	rows := make([]model.Repository, 0, len(repos))
	for _, repo := range repos {
		if strings.TrimSpace(repo.FullName) == "" {
			continue
		}
		rows = append(rows, model.Repository{
			InstallationID:   installationID,
			RepoName:         repo.FullName,
			IsActive:         true,
			AvatarURL:        repo.AvatarURL,
			DocsRootPath:     "/docs",
			TargetBranch:     "main",
			DriftSensitivity: 0.5,
			StylePreference:  "professional",
		})
	}
	if len(rows) == 0 {
		return nil
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "installation_id"}, {Name: "repo_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "avatar_url"}),
	}).Create(&rows).Error; err != nil {
		return errs.Wrap(err, "upsert repositories")
	}
	return nil
}

func (r *DirectoryRepository) DeleteRepositories(ctx context.Context, installationID int64, fullNames []string) error {
	if len(fullNames) == 0 {
		return nil
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Where("installation_id = ? AND repo_name IN ?", installationID, fullNames).
		Delete(&model.Repository{}).Error; err != nil {
		return errs.Wrap(err, "delete repositories")
	}
	return nil
}

func (r *DirectoryRepository) ListRepositories(ctx context.Context, installationID int64) ([]ports.Repository, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Repository
	if err := db.Where("installation_id = ?", installationID).
		Order("repo_name asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query repositories")
	}

	items := make([]ports.Repository, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapRepository(row))
	}
	return items, nil
}

func (r *DirectoryRepository) FindRepository(ctx context.Context, installationID int64, fullName string) (ports.Repository, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Repository{}, err
	}

	var row model.Repository
	if err := db.Where("installation_id = ? AND repo_name = ?", installationID, fullName).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Repository{}, ports.ErrRepositoryNotFound
		}
		return ports.Repository{}, errs.Wrap(err, "query repository")
	}
	return mapRepository(row), nil
}

func (r *DirectoryRepository) TouchLastSynced(ctx context.Context, repoID string, at time.Time) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Repository{}).
		Where("id = ?", repoID).
		Update("last_synced_at", at).Error; err != nil {
		return errs.Wrap(err, "touch last synced")
	}
	return nil
}

func mapRepository(row model.Repository) ports.Repository {
	return ports.Repository{
		ID:                 row.ID,
		InstallationID:     row.InstallationID,
		FullName:           row.RepoName,
		IsActive:           row.IsActive,
		IsSuspended:        row.IsSuspended,
		AvatarURL:          row.AvatarURL,
		DocsRootPath:       row.DocsRootPath,
		TargetBranch:       row.TargetBranch,
		DriftSensitivity:   row.DriftSensitivity,
		StylePreference:    row.StylePreference,
		FileIgnorePatterns: row.FileIgnorePatterns,
		LastSyncedAt:       row.LastSyncedAt,
	}
}
