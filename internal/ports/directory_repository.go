package ports

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInstallationNotFound = errors.New("installation not found")
	ErrRepositoryNotFound   = errors.New("repository not found")
)

// InstallationUpsert is the write shape for the installation directory.
// UserID stays nil when no local user matches the installing sender; the
// OAuth callback (an external collaborator) links it later.
type InstallationUpsert struct {
	InstallationID int64
	AccountName    string
	AccountType    string
	UserID         *string
}

type Installation struct {
	ID             string
	InstallationID int64
	UserID         *string
	AccountName    string
	AccountType    string
	CreatedAt      time.Time
}

type RepositoryUpsert struct {
	FullName  string
	AvatarURL string
}

type Repository struct {
	ID                 string
	InstallationID     int64
	FullName           string
	IsActive           bool
	IsSuspended        bool
	AvatarURL          string
	DocsRootPath       string
	TargetBranch       string
	DriftSensitivity   float64
	StylePreference    string
	FileIgnorePatterns []string
	LastSyncedAt       *time.Time
}

// DirectoryRepository maintains the installation/repository directory the
// webhook router keeps in sync with the provider.
type DirectoryRepository interface {
	FindUserIDByGitHubID(ctx context.Context, githubUserID int64) (*string, error)
	UpsertInstallation(ctx context.Context, in InstallationUpsert) error
	GetInstallation(ctx context.Context, installationID int64) (Installation, error)
	DeleteInstallation(ctx context.Context, installationID int64) error
	SetRepositoriesSuspended(ctx context.Context, installationID int64, suspended bool) error
	UpsertRepositories(ctx context.Context, installationID int64, repos []RepositoryUpsert) error
	DeleteRepositories(ctx context.Context, installationID int64, fullNames []string) error
	ListRepositories(ctx context.Context, installationID int64) ([]Repository, error)
	FindRepository(ctx context.Context, installationID int64, fullName string) (Repository, error)
	TouchLastSynced(ctx context.Context, repoID string, at time.Time) error
}
