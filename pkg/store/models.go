package store

import "time"

// GORM models used for persistence.
type DocumentModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;index"`
	Name             string `gorm:"not null"`
	OriginalFilename string `gorm:"not null"`
	StorageKey       string `gorm:"uniqueIndex"`
	Status           string `gorm:"not null"`
	ErrorMessage     string
	SizeBytes        int64 `gorm:"not null"`
	PageCount        int
	EmbeddingModel   string
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID         string    `gorm:"primaryKey"`
	DocumentID string    `gorm:"not null;index"`
	Role       string    `gorm:"not null"`
	Text       string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}
