// Package services holds the upload-and-caption flow and gallery operations.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/integems/caption-agent/src/caption"
	"github.com/integems/caption-agent/src/database"
	"github.com/integems/caption-agent/src/models"
	"github.com/integems/caption-agent/src/storage"
	"go.uber.org/zap"
)

// UploadInput is one image upload with its caption parameters.
type UploadInput struct {
	Data           []byte
	FileName       string
	MIMEType       string
	Tone           string
	Language       string
	AdditionalInfo string
}

type GalleryService struct {
	store     database.Store
	storage   storage.Storage
	captioner caption.Generator
	logger    *zap.Logger
	now       func() time.Time
}

func NewGalleryService(store database.Store, objects storage.Storage, captioner caption.Generator, logger *zap.Logger) *GalleryService {
	return &GalleryService{
		store:     store,
		storage:   objects,
		captioner: captioner,
		logger:    logger,
		now:       time.Now,
	}
}

// Upload stores the image, captions it and appends it to the user's
// gallery. Every step depends on the one before; the first failure stops the
// flow. If the object was already stored when a later step fails it is
// removed again so no unreferenced files pile up.
func (s *GalleryService) Upload(ctx context.Context, userID string, in UploadInput) (*models.UploadedImage, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.now()
	stored, err := s.storage.Upload(ctx, in.Data, storage.GenerateFileName(in.FileName, now), in.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	text, err := s.captioner.Generate(ctx, caption.Request{
		Image:          in.Data,
		MIMEType:       in.MIMEType,
		Tone:           in.Tone,
		Language:       in.Language,
		AdditionalInfo: in.AdditionalInfo,
	})
	if err != nil {
		s.discardOrphan(ctx, stored.FileID, "caption generation failed")
		return nil, fmt.Errorf("generate caption: %w", err)
	}

	img := models.UploadedImage{
		ID:        uuid.NewString(),
		ImageURL:  stored.URL,
		Caption:   text,
		FileID:    stored.FileID,
		CreatedAt: now,
	}
	user.AppendImage(img)

	if err := s.store.Save(ctx, user); err != nil {
		s.discardOrphan(ctx, stored.FileID, "saving gallery failed")
		return nil, fmt.Errorf("save gallery: %w", err)
	}

	s.logger.Info("image captioned",
		zap.String("userId", userID),
		zap.String("imageId", img.ID),
		zap.String("fileId", img.FileID))

	img.UserID = user.ID
	return &img, nil
}

func (s *GalleryService) discardOrphan(ctx context.Context, fileID, reason string) {
	// The request may already be cancelled; cleanup still has to reach storage.
	if err := s.storage.Delete(context.WithoutCancel(ctx), fileID); err != nil {
		s.logger.Warn("stored image left without gallery entry; manual cleanup needed",
			zap.String("fileId", fileID),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	s.logger.Info("removed stored image after failed upload",
		zap.String("fileId", fileID),
		zap.String("reason", reason))
}

// List returns the user's gallery in upload order.
func (s *GalleryService) List(ctx context.Context, userID string) ([]models.UploadedImage, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.UploadedImages == nil {
		return []models.UploadedImage{}, nil
	}
	return user.UploadedImages, nil
}

// Delete removes one entry from the user's own gallery. The storage delete
// is best-effort: a failure is logged and the entry is removed anyway.
func (s *GalleryService) Delete(ctx context.Context, userID, imageID string) (string, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}

	img, ok := user.FindImage(imageID)
	if !ok {
		return "", fmt.Errorf("%s: %w", imageID, models.ErrImageNotFound)
	}

	log := s.logger.With(zap.String("userId", userID), zap.String("imageId", imageID))
	if img.HasStorageHandle() {
		if err := s.storage.Delete(ctx, img.FileID); err != nil {
			log.Warn("failed to delete image from storage; may need manual cleanup",
				zap.String("fileId", img.FileID),
				zap.Error(err))
		} else {
			log.Info("deleted image from storage", zap.String("fileId", img.FileID))
		}
	} else {
		log.Warn("image has no storage handle; manual cleanup may be required",
			zap.String("imageUrl", img.ImageURL))
	}

	user.RemoveImage(imageID)
	if err := s.store.Save(ctx, user); err != nil {
		return "", fmt.Errorf("save gallery: %w", err)
	}
	return imageID, nil
}
