package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CodeChange struct {
	ID           string `gorm:"column:id;type:text;primaryKey"`
	DriftEventID string `gorm:"column:drift_event_id;type:text;not null;index:idx_code_changes_event"`

	FilePath   string `gorm:"column:file_path;type:text;not null"`
	ChangeType string `gorm:"column:change_type;type:text;not null"`
	IsCode     bool   `gorm:"column:is_code;not null;default:true"`

	DriftEvent *DriftEvent `gorm:"foreignKey:DriftEventID;references:ID;constraint:OnDelete:CASCADE"`
}

func (CodeChange) TableName() string {
	return "code_changes"
}

func (c *CodeChange) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
