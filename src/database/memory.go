package database

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/integems/caption-agent/src/models"
)

// MemoryStore keeps users in process memory. It backs local runs without
// postgres and the handler tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user.Clone(), nil
}

func (s *MemoryStore) CreateUser(_ context.Context, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return nil, models.ErrAlreadyExists
	}

	now := time.Now()
	user := &models.User{
		ID:             uuid.NewString(),
		Email:          email,
		PasswordHash:   passwordHash,
		CreatedAt:      now,
		UpdatedAt:      now,
		UploadedImages: []models.UploadedImage{},
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user.ID
	return user.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[user.ID]
	if !ok {
		return models.ErrNotFound
	}

	saved := user.Clone()
	for i := range saved.UploadedImages {
		saved.UploadedImages[i].UserID = saved.ID
	}
	saved.Email = stored.Email
	saved.PasswordHash = stored.PasswordHash
	saved.CreatedAt = stored.CreatedAt
	saved.UpdatedAt = time.Now()
	if saved.UploadedImages == nil {
		saved.UploadedImages = []models.UploadedImage{}
	}
	s.byID[user.ID] = saved
	return nil
}
