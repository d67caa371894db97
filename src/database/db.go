package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/integems/caption-agent/config"
	"github.com/integems/caption-agent/src/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const uniqueViolation = "23505"

// NewDatabaseConnection creates a new connection to the PostgreSQL database
func NewDatabaseConnection(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	// Only a database assembled from DB_* parts can be created on the fly.
	if cfg.DatabaseURL == "" {
		if err := ensureDatabaseExists(cfg.AdminDSN(), cfg.DBName, log); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// ensureDatabaseExists checks if the database exists and creates it if it does not
func ensureDatabaseExists(adminDSN, dbname string, log *zap.Logger) error {
	db, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to default database: %w", err)
	}
	defer db.Close()

	var exists bool
	err = db.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbname).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		if _, err := db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbname)); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		log.Info("database created", zap.String("database", dbname))
	}
	return nil
}

// AutoMigrateTables automatically migrates database tables
func AutoMigrateTables(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{}, &models.UploadedImage{})
}

// GormStore is the postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func orderedImages(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

func (s *GormStore) findOne(ctx context.Context, query interface{}, args ...interface{}) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Preload("UploadedImages", orderedImages).
		Where(query, args...).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &user, nil
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, "email = ?", email)
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *GormStore) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if count > 0 {
		return nil, models.ErrAlreadyExists
	}

	user := models.User{
		ID:             uuid.NewString(),
		Email:          email,
		PasswordHash:   passwordHash,
		UploadedImages: []models.UploadedImage{},
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &user, nil
}

// Save makes the stored gallery match user.UploadedImages. Entries are never
// edited in place, so existing rows are left alone and only additions and
// removals are written.
func (s *GormStore) Save(ctx context.Context, user *models.User) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keep := make([]string, 0, len(user.UploadedImages))
		for i := range user.UploadedImages {
			img := &user.UploadedImages[i]
			img.UserID = user.ID
			keep = append(keep, img.ID)
		}

		del := tx.Where("user_id = ?", user.ID)
		if len(keep) > 0 {
			del = del.Where("id NOT IN ?", keep)
		}
		if err := del.Delete(&models.UploadedImage{}).Error; err != nil {
			return err
		}

		if len(user.UploadedImages) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user.UploadedImages).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.User{}).Where("id = ?", user.ID).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
