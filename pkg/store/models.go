package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                   string `gorm:"primaryKey"`
	Email                string `gorm:"uniqueIndex;not null"`
	PasswordHash         string `gorm:"not null"`
	GithubID             string `gorm:"index"`
	GithubUsername       string
	GithubTokenEncrypted string    `gorm:"type:text"`
	CreatedAt            time.Time `gorm:"not null"`
}

type ReviewModel struct {
	ID         string         `gorm:"primaryKey"`
	UserID     string         `gorm:"not null;index"`
	RepoName   string         `gorm:"not null;index"`
	PRNumber   int            `gorm:"not null"`
	ResultJSON datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null;index"`

	User UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}
