// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// User represents a registered user.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;size:30;not null" json:"username"`
	Email     string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Name      string    `gorm:"size:80" json:"name,omitempty"`
	Bio       string    `gorm:"type:text" json:"bio,omitempty"`
	AvatarKey string    `gorm:"size:255" json:"avatar_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Posts []Post `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"posts,omitempty"`
}

// UserProfile is the public projection of a user returned by profile endpoints.
type UserProfile struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	Bio       string `json:"bio,omitempty"`
	AvatarKey string `json:"avatar_key,omitempty"`
	// Email is only populated on the private (/me) view.
	Email string `json:"email,omitempty"`
}

// PublicProfile returns the projection safe to show to any viewer.
func (u *User) PublicProfile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		Bio:       u.Bio,
		AvatarKey: u.AvatarKey,
	}
}

// PrivateProfile returns the owner's own view, including email.
func (u *User) PrivateProfile() UserProfile {
	p := u.PublicProfile()
	p.Email = u.Email
	return p
}
