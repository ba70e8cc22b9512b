package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository struct {
	ID             string `gorm:"column:id;type:text;primaryKey"`
	InstallationID int64  `gorm:"column:installation_id;not null;uniqueIndex:ux_repositories_installation_repo"`
	RepoName       string `gorm:"column:repo_name;type:text;not null;uniqueIndex:ux_repositories_installation_repo"`
	IsActive       bool   `gorm:"column:is_active;not null;default:true"`
	IsSuspended    bool   `gorm:"column:is_suspended;not null;default:false"`
	AvatarURL      string `gorm:"column:avatar_url;type:text"`

	DocsRootPath       string   `gorm:"column:docs_root_path;type:text;not null;default:/docs"`
	TargetBranch       string   `gorm:"column:target_branch;type:text;not null;default:main"`
	DriftSensitivity   float64  `gorm:"column:drift_sensitivity;not null;default:0.5"`
	StylePreference    string   `gorm:"column:style_preference;type:text;not null;default:professional"`
	FileIgnorePatterns []string `gorm:"column:file_ignore_patterns;type:text;serializer:json"`

	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`

	Installation *Installation `gorm:"foreignKey:InstallationID;references:InstallationID;constraint:OnDelete:CASCADE"`
}

func (Repository) TableName() string {
	return "repositories"
}

func (r *Repository) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
