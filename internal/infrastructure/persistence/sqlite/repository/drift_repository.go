package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"deltadrift/internal/domain/drift"
	"deltadrift/internal/errs"
	"deltadrift/internal/infrastructure/persistence/sqlite/model"
	"deltadrift/internal/ports"
)

type DriftRepository struct {
	db *gorm.DB
}

func NewDriftRepository(db *gorm.DB) *DriftRepository {
	return &DriftRepository{db: db}
}

func (r *DriftRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
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

func (r *DriftRepository) CreateDriftEvent(ctx context.Context, in ports.DriftEventCreate) (ports.DriftEvent, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.DriftEvent{}, err
	}

	row := model.DriftEvent{
		RepoID:          in.RepoID,
		PRNumber:        in.PRNumber,
		BaseBranch:      in.BaseBranch,
		HeadBranch:      in.HeadBranch,
		BaseSHA:         in.BaseSHA,
		HeadSHA:         in.HeadSHA,
		ProcessingPhase: string(drift.PhaseQueued),
		DriftResult:     string(drift.ResultPending),
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.DriftEvent{}, errs.Wrap(err, "create drift event")
	}
	return mapDriftEvent(row), nil
}

func (r *DriftRepository) GetDriftEvent(ctx context.Context, id string) (ports.DriftEvent, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.DriftEvent{}, err
	}

	var row model.DriftEvent
	if err := db.Preload("Repository").Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.DriftEvent{}, ports.ErrDriftEventNotFound
		}
		return ports.DriftEvent{}, errs.Wrap(err, "query drift event")
	}
	return mapDriftEvent(row), nil
}

func (r *DriftRepository) SetCheckRunID(ctx context.Context, id string, checkRunID int64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.DriftEvent{}).
		Where("id = ?", id).
		Update("check_run_id", checkRunID).Error; err != nil {
		return errs.Wrap(err, "set check run id")
	}
	return nil
}

func (r *DriftRepository) SetPhase(ctx context.Context, id string, phase drift.Phase) error {
	if !phase.Valid() {
		return fmt.Errorf("%w: %q", drift.ErrInvalidPhase, phase)
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.DriftEvent{}).
		Where("id = ?", id).
		Update("processing_phase", string(phase)).Error; err != nil {
		return errs.Wrapf(err, "set phase %s", phase)
	}
	return nil
}

func (r *DriftRepository) MarkStarted(ctx context.Context, id string, phase drift.Phase, at time.Time) error {
	if !phase.Valid() {
		return fmt.Errorf("%w: %q", drift.ErrInvalidPhase, phase)
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.DriftEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_phase": string(phase),
			"started_at":       at,
		}).Error; err != nil {
		return errs.Wrap(err, "mark drift event started")
	}
	return nil
}

func (r *DriftRepository) Complete(ctx context.Context, id string, result drift.Result, summary string, agentLogs string, at time.Time) error {
	if !result.Valid() || result == drift.ResultPending {
		return fmt.Errorf("%w: %q", drift.ErrInvalidResult, result)
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.DriftEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_phase": string(drift.PhaseCompleted),
			"drift_result":     string(result),
			"summary":          summary,
			"agent_logs":       agentLogs,
			"completed_at":     at,
		}).Error; err != nil {
		return errs.Wrap(err, "complete drift event")
	}
	return nil
}

func (r *DriftRepository) Fail(ctx context.Context, id string, message string, at time.Time) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.DriftEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_phase": string(drift.PhaseFailed),
			"drift_result":     string(drift.ResultError),
			"error_message":    message,
			"completed_at":     at,
		}).Error; err != nil {
		return errs.Wrap(err, "fail drift event")
	}
	return nil
}

// ReplaceCodeChanges swaps the event's extracted changes atomically within
// the caller's transaction, so re-delivered jobs re-extract instead of
// accumulating duplicates.
func (r *DriftRepository) ReplaceCodeChanges(ctx context.Context, driftEventID string, changes []ports.CodeChangeCreate) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Where("drift_event_id = ?", driftEventID).
		Delete(&model.CodeChange{}).Error; err != nil {
		return errs.Wrap(err, "clear code changes")
	}
	if len(changes) == 0 {
		return nil
	}

	rows := make([]model.CodeChange, 0, len(changes))
	for _, change := range changes {
		rows = append(rows, model.CodeChange{
			DriftEventID: driftEventID,
			FilePath:     change.Path,
			ChangeType:   string(change.Type),
			IsCode:       change.IsCode,
		})
	}
	if err := db.Create(&rows).Error; err != nil {
		return errs.Wrap(err, "insert code changes")
	}
	return nil
}

func (r *DriftRepository) ListCodeChanges(ctx context.Context, driftEventID string) ([]ports.CodeChange, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.CodeChange
	if err := db.Where("drift_event_id = ?", driftEventID).
		Order("file_path asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query code changes")
	}

	items := make([]ports.CodeChange, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.CodeChange{
			ID:           row.ID,
			DriftEventID: row.DriftEventID,
			Path:         row.FilePath,
			Type:         drift.ChangeType(row.ChangeType),
			IsCode:       row.IsCode,
		})
	}
	return items, nil
}

func mapDriftEvent(row model.DriftEvent) ports.DriftEvent {
	out := ports.DriftEvent{
		ID:           row.ID,
		RepoID:       row.RepoID,
		PRNumber:     row.PRNumber,
		BaseBranch:   row.BaseBranch,
		HeadBranch:   row.HeadBranch,
		BaseSHA:      row.BaseSHA,
		HeadSHA:      row.HeadSHA,
		CheckRunID:   row.CheckRunID,
		Phase:        drift.Phase(row.ProcessingPhase),
		Result:       drift.Result(row.DriftResult),
		OverallScore: row.OverallDriftScore,
		Summary:      row.Summary,
		ErrorMessage: row.ErrorMessage,
		AgentLogs:    row.AgentLogs,
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
	}
	if row.Repository != nil {
		out.RepoFullName = row.Repository.RepoName
		out.InstallationID = row.Repository.InstallationID
	}
	return out
}
