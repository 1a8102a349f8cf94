package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used by GormStore.
type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"not null"`
	Name      string    `gorm:"not null"`
	Role      string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type AlbumModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	UserID    string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type PhotoModel struct {
	ID          string    `gorm:"primaryKey"`
	AlbumID     *string   `gorm:"index"`
	UserID      string    `gorm:"not null;index"`
	Name        string    `gorm:"not null"`
	URL         string    `gorm:"not null"`
	UploadedAt  time.Time `gorm:"not null"`
	EnhancedURL *string
	EnhancedAt  *time.Time
	AITags      datatypes.JSON `gorm:"type:jsonb"`
	Faces       *int
}
