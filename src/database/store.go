package database

import (
	"context"

	"github.com/integems/caption-agent/src/models"
)

// Store persists users together with their galleries. Find methods return
// models.ErrNotFound when nothing matches.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	// CreateUser fails with models.ErrAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	// Save writes the user's gallery back as a whole.
	Save(ctx context.Context, user *models.User) error
}
