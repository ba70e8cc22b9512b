package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User rows are owned by the auth collaborator; the pipeline only reads them
// to link installations to the installing sender.
type User struct {
	ID           string `gorm:"column:id;type:text;primaryKey"`
	Email        string `gorm:"column:email;type:text;not null;uniqueIndex"`
	FullName     string `gorm:"column:full_name;type:text"`
	GithubUserID *int64 `gorm:"column:github_user_id;uniqueIndex"`
	AvatarURL    string `gorm:"column:avatar_url;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
