// models/images.go
package models

import (
	"time"
)

// UploadedImage is one captioned image in a user's gallery. FileID is the
// object storage handle; records created before it was tracked have none.
type UploadedImage struct {
	ID        string    `gorm:"primaryKey;column:id" json:"_id"`
	UserID    string    `gorm:"not null;index;column:user_id" json:"-"`
	ImageURL  string    `gorm:"not null;column:image_url" json:"imageUrl"`
	Caption   string    `gorm:"not null" json:"caption"`
	FileID    string    `gorm:"column:file_id" json:"fileId,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;column:created_at" json:"createdAt"`
}

// TableName specifies the table name for the UploadedImage model
func (UploadedImage) TableName() string {
	return "uploaded_images"
}

// HasStorageHandle reports whether the stored object can be deleted.
func (i UploadedImage) HasStorageHandle() bool {
	return i.FileID != ""
}
