package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DriftEvent struct {
	ID     string `gorm:"column:id;type:text;primaryKey"`
	RepoID string `gorm:"column:repo_id;type:text;not null;index:idx_drift_events_repo"`

	PRNumber   int    `gorm:"column:pr_number;not null"`
	BaseBranch string `gorm:"column:base_branch;type:text;not null"`
	HeadBranch string `gorm:"column:head_branch;type:text;not null"`
	BaseSHA    string `gorm:"column:base_sha;type:text;not null"`
	HeadSHA    string `gorm:"column:head_sha;type:text;not null"`
	CheckRunID *int64 `gorm:"column:check_run_id"`

	ProcessingPhase string `gorm:"column:processing_phase;type:text;not null;default:queued"`
	DriftResult     string `gorm:"column:drift_result;type:text;not null;default:pending"`

	OverallDriftScore *float64 `gorm:"column:overall_drift_score"`
	Summary           string   `gorm:"column:summary;type:text"`
	AgentLogs         string   `gorm:"column:agent_logs;type:text"`
	ErrorMessage      string   `gorm:"column:error_message;type:text"`

	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`

	Repository *Repository `gorm:"foreignKey:RepoID;references:ID;constraint:OnDelete:CASCADE"`
}

func (DriftEvent) TableName() string {
	return "drift_events"
}

func (e *DriftEvent) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
