package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"deltadrift/internal/domain/drift"
	"deltadrift/internal/infrastructure/persistence/sqlite/model"
	"deltadrift/internal/infrastructure/persistence/sqlite/uow"
	"deltadrift/internal/ports"
)

func setupRepositories(t *testing.T) (*gorm.DB, *DirectoryRepository, *DriftRepository) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "drift.sqlite") + "?_pragma=foreign_keys(1)"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(
		&model.User{}, &model.Installation{}, &model.Repository{},
		&model.DriftEvent{}, &model.DriftFinding{}, &model.CodeChange{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db, NewDirectoryRepository(db), NewDriftRepository(db)
}

func seedRepository(t *testing.T, directory *DirectoryRepository) ports.Repository {
	t.Helper()
	ctx := context.Background()

	if err := directory.UpsertInstallation(ctx, ports.InstallationUpsert{
		InstallationID: 42,
		AccountName:    "acme",
		AccountType:    "Organization",
	}); err != nil {
		t.Fatalf("upsert installation: %v", err)
	}
	if err := directory.UpsertRepositories(ctx, 42, []ports.RepositoryUpsert{{FullName: "acme/api"}}); err != nil {
		t.Fatalf("upsert repositories: %v", err)
	}

	repo, err := directory.FindRepository(ctx, 42, "acme/api")
	if err != nil {
		t.Fatalf("find repository: %v", err)
	}
	return repo
}

func TestDriftEventLifecycle(t *testing.T) {
	_, directory, drifts := setupRepositories(t)
	ctx := context.Background()
	repo := seedRepository(t, directory)

	event, err := drifts.CreateDriftEvent(ctx, ports.DriftEventCreate{
		RepoID:     repo.ID,
		PRNumber:   17,
		BaseBranch: "main",
		HeadBranch: "feature/x",
		BaseSHA:    "aaa111",
		HeadSHA:    "bbb222",
	})
	if err != nil {
		t.Fatalf("CreateDriftEvent() error = %v", err)
	}
	if event.Phase != drift.PhaseQueued || event.Result != drift.ResultPending {
		t.Fatalf("initial state = %s/%s", event.Phase, event.Result)
	}

	started := time.Now().UTC()
	if err := drifts.MarkStarted(ctx, event.ID, drift.PhaseScouting, started); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	if err := drifts.SetPhase(ctx, event.ID, drift.PhaseAnalyzing); err != nil {
		t.Fatalf("SetPhase() error = %v", err)
	}
	if err := drifts.Complete(ctx, event.ID, drift.ResultClean, "all good", `[]`, time.Now().UTC()); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got, err := drifts.GetDriftEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetDriftEvent() error = %v", err)
	}
	if got.Phase != drift.PhaseCompleted || got.Result != drift.ResultClean {
		t.Fatalf("state = %s/%s", got.Phase, got.Result)
	}
	if got.Summary != "all good" || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("event = %+v", got)
	}
	if got.RepoFullName != "acme/api" || got.InstallationID != 42 {
		t.Fatalf("denormalized fields = %q / %d", got.RepoFullName, got.InstallationID)
	}
}

func TestFailRecordsErrorResult(t *testing.T) {
	_, directory, drifts := setupRepositories(t)
	ctx := context.Background()
	repo := seedRepository(t, directory)

	event, err := drifts.CreateDriftEvent(ctx, ports.DriftEventCreate{RepoID: repo.ID, PRNumber: 1})
	if err != nil {
		t.Fatalf("CreateDriftEvent() error = %v", err)
	}

	if err := drifts.Fail(ctx, event.ID, "clone timed out", time.Now().UTC()); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	got, err := drifts.GetDriftEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetDriftEvent() error = %v", err)
	}
	if got.Phase != drift.PhaseFailed || got.Result != drift.ResultError {
		t.Fatalf("state = %s/%s", got.Phase, got.Result)
	}
	if got.ErrorMessage != "clone timed out" {
		t.Fatalf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestGetDriftEventNotFound(t *testing.T) {
	_, _, drifts := setupRepositories(t)

	if _, err := drifts.GetDriftEvent(context.Background(), "missing"); !errors.Is(err, ports.ErrDriftEventNotFound) {
		t.Fatalf("GetDriftEvent() error = %v, want ErrDriftEventNotFound", err)
	}
}

func TestReplaceCodeChangesInsideTransaction(t *testing.T) {
	db, directory, drifts := setupRepositories(t)
	ctx := context.Background()
	repo := seedRepository(t, directory)

	event, err := drifts.CreateDriftEvent(ctx, ports.DriftEventCreate{RepoID: repo.ID, PRNumber: 1})
	if err != nil {
		t.Fatalf("CreateDriftEvent() error = %v", err)
	}

	unit := uow.NewUnitOfWork(db)
	if err := unit.WithTx(ctx, func(txCtx context.Context) error {
		return drifts.ReplaceCodeChanges(txCtx, event.ID, []ports.CodeChangeCreate{
			{Path: "a.go", Type: drift.ChangeModified, IsCode: true},
			{Path: "README.md", Type: drift.ChangeModified, IsCode: false},
		})
	}); err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	if err := unit.WithTx(ctx, func(txCtx context.Context) error {
		return drifts.ReplaceCodeChanges(txCtx, event.ID, []ports.CodeChangeCreate{
			{Path: "b.go", Type: drift.ChangeAdded, IsCode: true},
		})
	}); err != nil {
		t.Fatalf("WithTx() second error = %v", err)
	}

	changes, err := drifts.ListCodeChanges(ctx, event.ID)
	if err != nil {
		t.Fatalf("ListCodeChanges() error = %v", err)
	}
	if len(changes) != 1 || changes[0].Path != "b.go" {
		t.Fatalf("changes = %+v, want replaced set", changes)
	}
}

func TestReplaceCodeChangesRollsBackWithTransaction(t *testing.T) {
	db, directory, drifts := setupRepositories(t)
	ctx := context.Background()
	repo := seedRepository(t, directory)

	event, err := drifts.CreateDriftEvent(ctx, ports.DriftEventCreate{RepoID: repo.ID, PRNumber: 1})
	if err != nil {
		t.Fatalf("CreateDriftEvent() error = %v", err)
	}
	if err := drifts.ReplaceCodeChanges(ctx, event.ID, []ports.CodeChangeCreate{
		{Path: "keep.go", Type: drift.ChangeModified, IsCode: true},
	}); err != nil {
		t.Fatalf("seed changes: %v", err)
	}

	unit := uow.NewUnitOfWork(db)
	wantErr := errors.New("abort")
	err = unit.WithTx(ctx, func(txCtx context.Context) error {
		if err := drifts.ReplaceCodeChanges(txCtx, event.ID, nil); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx() error = %v, want abort", err)
	}

	changes, err := drifts.ListCodeChanges(ctx, event.ID)
	if err != nil {
		t.Fatalf("ListCodeChanges() error = %v", err)
	}
	if len(changes) != 1 || changes[0].Path != "keep.go" {
		t.Fatalf("changes = %+v, want rollback to seeded set", changes)
	}
}

func TestDeleteInstallationCascadesToChildren(t *testing.T) {
	db, directory, drifts := setupRepositories(t)
	ctx := context.Background()
	repo := seedRepository(t, directory)

	event, err := drifts.CreateDriftEvent(ctx, ports.DriftEventCreate{RepoID: repo.ID, PRNumber: 17})
	if err != nil {
		t.Fatalf("CreateDriftEvent() error = %v", err)
	}
	if err := drifts.ReplaceCodeChanges(ctx, event.ID, []ports.CodeChangeCreate{
		{Path: "a.go", Type: drift.ChangeModified, IsCode: true},
	}); err != nil {
		t.Fatalf("ReplaceCodeChanges() error = %v", err)
	}

	if err := directory.DeleteInstallation(ctx, 42); err != nil {
		t.Fatalf("DeleteInstallation() error = %v", err)
	}

	for table, value := range map[string]any{
		"repositories": &model.Repository{},
		"drift_events": &model.DriftEvent{},
		"code_changes": &model.CodeChange{},
	} {
		var n int64
		if err := db.Model(value).Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("%s rows = %d after installation delete, want 0", table, n)
		}
	}
}

func TestUpsertInstallationKeepsUserLink(t *testing.T) {
	db, directory, _ := setupRepositories(t)
	ctx := context.Background()

	githubID := int64(999)
	user := model.User{Email: "dev@acme.test", GithubUserID: &githubID}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	userID := user.ID
	if err := directory.UpsertInstallation(ctx, ports.InstallationUpsert{
		InstallationID: 42,
		AccountName:    "acme",
		UserID:         &userID,
	}); err != nil {
		t.Fatalf("UpsertInstallation() error = %v", err)
	}

	// Redelivery without a resolved user must not clear the link.
	if err := directory.UpsertInstallation(ctx, ports.InstallationUpsert{
		InstallationID: 42,
		AccountName:    "acme-renamed",
	}); err != nil {
		t.Fatalf("UpsertInstallation() redelivery error = %v", err)
	}

	inst, err := directory.GetInstallation(ctx, 42)
	if err != nil {
		t.Fatalf("GetInstallation() error = %v", err)
	}
	if inst.UserID == nil || *inst.UserID != userID {
		t.Fatalf("UserID = %v, want %q", inst.UserID, userID)
	}
	if inst.AccountName != "acme-renamed" {
		t.Fatalf("AccountName = %q", inst.AccountName)
	}
}
