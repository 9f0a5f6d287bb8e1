package models

import (
	"time"

	"gorm.io/datatypes"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Authentication providers.
const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
)

// User represents an end-user account stored in the database.
// Email is stored lowercase so lookups are case-insensitive.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string         `gorm:"type:text;not null"`            // Display name.
	Email       string         `gorm:"type:text;not null;uniqueIndex"` // Normalized email address.
	DateOfBirth datatypes.Date `gorm:"not null"`                      // Date of birth.

	IsVerified bool `gorm:"not null;default:false"` // Whether the email has been verified.

	// OTP and OTPExpires are set and cleared together; both nil means
	// no pending challenge.
	OTP        *string    `gorm:"type:text"` // Pending one-time passcode.
	OTPExpires *time.Time // Expiry instant of the pending passcode.

	Role         string  `gorm:"type:text;not null;default:user"`  // Access role.
	AuthProvider string  `gorm:"type:text;not null;default:email"` // How the account authenticates.
	GoogleID     *string `gorm:"type:text;index"`                  // Google subject ID when provider is google.

	ProfilePicture string `gorm:"type:text"` // Optional avatar URL.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasPendingOTP reports whether a challenge is stored, expired or not.
func (u *User) HasPendingOTP() bool {
	return u.OTP != nil && u.OTPExpires != nil
}
