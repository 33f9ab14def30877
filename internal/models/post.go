package models

import (
	"time"
)

// Post represents an uploaded photo with an optional caption.
type Post struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	AuthorID uint   `gorm:"not null;index" json:"author_id"`
	Author   User   `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"-"`
	ImageKey string `gorm:"size:255;not null" json:"image_key"`
	// ImageURL is derived from ImageKey by the service layer, never stored.
	ImageURL string `gorm:"-" json:"image_url,omitempty"`
	Caption  string `gorm:"type:text" json:"caption,omitempty"`
	// AuthorName is not persisted; joined from users at query time.
	AuthorName string `gorm:"->" json:"author_name,omitempty"`
	// LikesCount is not persisted; computed at query time.
	LikesCount int `gorm:"->" json:"likes_count"`
	// CommentsCount is not persisted; computed at query time.
	CommentsCount int       `gorm:"->" json:"comments_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
