package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"deltadrift/internal/domain/drift"
	"deltadrift/internal/infrastructure/persistence/sqlite/model"
	"deltadrift/internal/infrastructure/persistence/sqlite/repository"
	"deltadrift/internal/infrastructure/persistence/sqlite/uow"
	"deltadrift/internal/ports"
)

type stubMirror struct {
	lines []string
	err   error
}

func (s *stubMirror) EnsureCloned(_ context.Context, _ string, _ string, _ string) error { return nil }
func (s *stubMirror) SyncBranches(_ context.Context, _ string, _ string, _ []string) error {
	return nil
}
func (s *stubMirror) Remove(_ context.Context, _ string) (bool, error) { return false, nil }

func (s *stubMirror) Diff(_ context.Context, _ string, _ string, _ string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.lines, nil
}

type stubSourceControl struct {
	updates []ports.CheckRunUpdate
}

func (s *stubSourceControl) InstallationToken(_ context.Context, _ int64) (string, error) {
	return "tok", nil
}

func (s *stubSourceControl) FetchRepoSummary(_ context.Context, _ int64, _ string, _ string) (ports.RepoSummary, error) {
	return ports.RepoSummary{}, nil
}

func (s *stubSourceControl) CreateCheckRun(_ context.Context, _ int64, _ string, _ string) *int64 {
	return nil
}

func (s *stubSourceControl) UpdateCheckRun(_ context.Context, _ int64, _ string, _ int64, update ports.CheckRunUpdate) bool {
	s.updates = append(s.updates, update)
	return true
}

type analysisFixture struct {
	svc    *Service
	drifts *repository.DriftRepository
	mirror *stubMirror
	github *stubSourceControl
	repoID string
}

func setupAnalysis(t *testing.T) *analysisFixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "analysis.sqlite") + "?_pragma=foreign_keys(1)"
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

	if err := db.Create(&model.Installation{InstallationID: 42, AccountName: "acme"}).Error; err != nil {
		t.Fatalf("seed installation: %v", err)
	}
	repo := model.Repository{
		InstallationID: 42,
		RepoName:       "acme/api",
		IsActive:       true,
		DocsRootPath:   "/docs",
		TargetBranch:   "main",
	}
	if err := db.Create(&repo).Error; err != nil {
		t.Fatalf("seed repository: %v", err)
	}

	f := &analysisFixture{
		drifts: repository.NewDriftRepository(db),
		mirror: &stubMirror{},
		github: &stubSourceControl{},
	}
	f.svc = NewService(uow.NewUnitOfWork(db), f.drifts, f.mirror, f.github)

	// Stash the seeded repo id for event creation.
	f.repoID = repo.ID
	return f
}

func (f *analysisFixture) newEvent(t *testing.T, checkRunID *int64) ports.DriftEvent {
	t.Helper()

	event, err := f.drifts.CreateDriftEvent(context.Background(), ports.DriftEventCreate{
		RepoID:     f.repoID,
		PRNumber:   17,
		BaseBranch: "main",
		HeadBranch: "feature/x",
		BaseSHA:    "aaa111",
		HeadSHA:    "bbb222",
	})
	if err != nil {
		t.Fatalf("create drift event: %v", err)
	}
	if checkRunID != nil {
		if err := f.drifts.SetCheckRunID(context.Background(), event.ID, *checkRunID); err != nil {
			t.Fatalf("set check run id: %v", err)
		}
	}
	return event
}

func TestRunCompletesCleanWithExtractedChanges(t *testing.T) {
	f := setupAnalysis(t)
	ctx := context.Background()

	f.mirror.lines = []string{
		"M\tinternal/api/routes.go",
		"A\tdocs/new.md",
		"garbage line without tab",
		"D\tinternal/api/legacy.go",
	}
	checkRunID := int64(7001)
	event := f.newEvent(t, &checkRunID)

	if err := f.svc.Run(ctx, event.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := f.drifts.GetDriftEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetDriftEvent() error = %v", err)
	}
	if got.Phase != drift.PhaseCompleted || got.Result != drift.ResultClean {
		t.Fatalf("state = %s/%s", got.Phase, got.Result)
	}
	if got.Summary != "All documentation is up to date." {
		t.Fatalf("Summary = %q", got.Summary)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("timestamps = %v / %v", got.StartedAt, got.CompletedAt)
	}

	var logs []map[string]string
	if err := json.Unmarshal([]byte(got.AgentLogs), &logs); err != nil {
		t.Fatalf("agent logs not json: %v", err)
	}
	if len(logs) == 0 || logs[0]["phase"] != "scouting" {
		t.Fatalf("agent logs = %v", logs)
	}

	changes, err := f.drifts.ListCodeChanges(ctx, event.ID)
	if err != nil {
		t.Fatalf("ListCodeChanges() error = %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("changes = %d, want 3 (garbage line skipped)", len(changes))
	}
	byPath := make(map[string]ports.CodeChange, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c
	}
	if c := byPath["docs/new.md"]; c.Type != drift.ChangeAdded || c.IsCode {
		t.Fatalf("docs/new.md = %+v", c)
	}
	if c := byPath["internal/api/legacy.go"]; c.Type != drift.ChangeDeleted || !c.IsCode {
		t.Fatalf("legacy.go = %+v", c)
	}

	if len(f.github.updates) != 2 {
		t.Fatalf("check updates = %d, want 2", len(f.github.updates))
	}
	if f.github.updates[0].Status != "in_progress" || f.github.updates[0].Title != "Analyzing Changes" {
		t.Fatalf("first update = %+v", f.github.updates[0])
	}
	last := f.github.updates[1]
	if last.Conclusion != "success" || last.Title != "No Drift Detected" {
		t.Fatalf("final update = %+v", last)
	}
}

func TestRunEmptyDiffCompletesClean(t *testing.T) {
	f := setupAnalysis(t)
	ctx := context.Background()

	event := f.newEvent(t, nil)

	if err := f.svc.Run(ctx, event.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := f.drifts.GetDriftEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetDriftEvent() error = %v", err)
	}
	if got.Phase != drift.PhaseCompleted || got.Result != drift.ResultClean {
		t.Fatalf("state = %s/%s", got.Phase, got.Result)
	}

	changes, err := f.drifts.ListCodeChanges(ctx, event.ID)
	if err != nil {
		t.Fatalf("ListCodeChanges() error = %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("changes = %d, want 0", len(changes))
	}
	// No check run was created, so no updates should be pushed.
	if len(f.github.updates) != 0 {
		t.Fatalf("check updates = %v", f.github.updates)
	}
}

func TestRunDiffFailureMarksFailed(t *testing.T) {
	f := setupAnalysis(t)
	ctx := context.Background()

	f.mirror.err = errors.New("bad revision 'aaa111...bbb222'")
	checkRunID := int64(7001)
	event := f.newEvent(t, &checkRunID)

	if err := f.svc.Run(ctx, event.ID); err == nil {
		t.Fatal("Run() error = nil, want diff failure")
	}

	got, err := f.drifts.GetDriftEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetDriftEvent() error = %v", err)
	}
	if got.Phase != drift.PhaseFailed || got.Result != drift.ResultError {
		t.Fatalf("state = %s/%s", got.Phase, got.Result)
	}
	if got.ErrorMessage == "" {
		t.Fatal("ErrorMessage empty")
	}

	last := f.github.updates[len(f.github.updates)-1]
	if last.Conclusion != "failure" {
		t.Fatalf("final update = %+v", last)
	}
}

func TestRunMissingEventIsNoOp(t *testing.T) {
	f := setupAnalysis(t)

	if err := f.svc.Run(context.Background(), "no-such-event"); err != nil {
		t.Fatalf("Run() error = %v, want nil for missing event", err)
	}
}

func TestRunDuplicateDeliveryIsNoOp(t *testing.T) {
	f := setupAnalysis(t)
	ctx := context.Background()

	event := f.newEvent(t, nil)
	if err := f.svc.Run(ctx, event.ID); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	f.mirror.err = errors.New("mirror must not be diffed again")
	if err := f.svc.Run(ctx, event.ID); err != nil {
		t.Fatalf("duplicate Run() error = %v", err)
	}
}

func TestRunReplacesChangesOnRedelivery(t *testing.T) {
	f := setupAnalysis(t)
	ctx := context.Background()

	f.mirror.lines = []string{"M\ta.go", "M\tb.go"}
	event := f.newEvent(t, nil)

	// First delivery fails after extraction; the retry must not duplicate rows.
	if err := f.drifts.ReplaceCodeChanges(ctx, event.ID, []ports.CodeChangeCreate{
		{Path: "stale.go", Type: drift.ChangeModified, IsCode: true},
	}); err != nil {
		t.Fatalf("seed stale changes: %v", err)
	}

	if err := f.svc.Run(ctx, event.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	changes, err := f.drifts.ListCodeChanges(ctx, event.ID)
	if err != nil {
		t.Fatalf("ListCodeChanges() error = %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	for _, c := range changes {
		if c.Path == "stale.go" {
			t.Fatal("stale change survived redelivery")
		}
	}
}
