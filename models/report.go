package models

import (
	"time"
)

// Report represents one uploaded medical document and its processing state.
// UserID and FilePath are set at creation and never change; Summary stays
// nil until the report reaches COMPLETED and is never cleared afterwards.
type Report struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Type      string    `gorm:"size:64;not null" json:"type"`
	FilePath  string    `gorm:"size:512;not null" json:"file_path"`
	Status    string    `gorm:"size:16;not null;default:UPLOADED" json:"status"`
	Summary   *string   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}
