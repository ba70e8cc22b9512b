package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DriftFinding is reserved for per-file findings from the scoring stages.
// The schema ships so completed runs have somewhere to attach findings, but
// the orchestration core never populates it.
type DriftFinding struct {
	ID           string `gorm:"column:id;type:text;primaryKey"`
	DriftEventID string `gorm:"column:drift_event_id;type:text;not null;index:idx_drift_findings_event"`

	CodePath    string `gorm:"column:code_path;type:text;not null"`
	DocFilePath string `gorm:"column:doc_file_path;type:text"`
	ChangeType  string `gorm:"column:change_type;type:text"`
	DriftType   string `gorm:"column:drift_type;type:text"`

	DriftScore  *float64 `gorm:"column:drift_score"`
	Explanation string   `gorm:"column:explanation;type:text"`
	Confidence  *float64 `gorm:"column:confidence"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`

	DriftEvent *DriftEvent `gorm:"foreignKey:DriftEventID;references:ID;constraint:OnDelete:CASCADE"`
}

func (DriftFinding) TableName() string {
	return "drift_findings"
}

func (f *DriftFinding) BeforeCreate(_ *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
