package models

import "time"

// Note length limits enforced at the API boundary.
const (
	NoteTitleMaxLen   = 100
	NoteContentMaxLen = 10000
)

// Note represents a personal text note owned by exactly one user.
type Note struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`          // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"`       // Owning user.

	Title   string `gorm:"type:text;not null"` // Note title.
	Content string `gorm:"type:text"`          // Optional note body.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
