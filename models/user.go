package models

import (
	"time"
)

// User model. Credentials are an email plus a bcrypt hash.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"-"`
	Email          string    `gorm:"size:255;not null;unique" json:"email"`
	HashedPassword []byte    `gorm:"not null" json:"-"`
	Reports        []Report  `json:"-"`
}
