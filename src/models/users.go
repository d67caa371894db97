// models/users.go
package models

import (
	"time"
)

// User represents the user model with GORM tags and JSON tags
type User struct {
	ID             string          `gorm:"primaryKey;column:id" json:"_id"`
	Email          string          `gorm:"not null;uniqueIndex" json:"email"`
	PasswordHash   string          `gorm:"not null;column:password_hash" json:"-"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;column:created_at" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime;column:updated_at" json:"updatedAt"`
	UploadedImages []UploadedImage `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"uploadedImage"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}

// FindImage returns the gallery entry with the given id.
func (u *User) FindImage(imageID string) (UploadedImage, bool) {
	for _, img := range u.UploadedImages {
		if img.ID == imageID {
			return img, true
		}
	}
	return UploadedImage{}, false
}

// AppendImage adds an entry at the end of the gallery.
func (u *User) AppendImage(img UploadedImage) {
	img.UserID = u.ID
	u.UploadedImages = append(u.UploadedImages, img)
}

// RemoveImage drops the first entry with the given id and keeps the order
// of the rest. It reports whether anything was removed.
func (u *User) RemoveImage(imageID string) bool {
	for i := range u.UploadedImages {
		if u.UploadedImages[i].ID == imageID {
			u.UploadedImages = append(u.UploadedImages[:i:i], u.UploadedImages[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate the gallery freely.
func (u *User) Clone() *User {
	c := *u
	if u.UploadedImages != nil {
		c.UploadedImages = make([]UploadedImage, len(u.UploadedImages))
		copy(c.UploadedImages, u.UploadedImages)
	}
	return &c
}
