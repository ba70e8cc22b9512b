package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Installation struct {
	ID             string  `gorm:"column:id;type:text;primaryKey"`
	InstallationID int64   `gorm:"column:installation_id;not null;uniqueIndex"`
	UserID         *string `gorm:"column:user_id;type:text;index:idx_installations_user"`
	AccountName    string  `gorm:"column:account_name;type:text"`
	AccountType    string  `gorm:"column:account_type;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`

	User *User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
}

func (Installation) TableName() string {
	return "installations"
}

func (i *Installation) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
