package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the server needs at startup.
type Config struct {
	Port           string
	DatabaseURL    string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	StoreBackend   string
	JWTSecret      string
	SessionTTL     time.Duration
	CookieSecure   bool
	ClientOrigin   string
	MaxUploadBytes int64

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
	S3Folder    string

	GeminiAPIKey string
	GeminiModel  string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	LogLevel  string
	LogFormat string
}

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// LoadDotEnv reads a .env file from the working directory if one exists.
// A missing file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func GetEnv(name string, fallback string) string {
	env := os.Getenv(name)
	if env != "" {
		return env
	}
	return fallback
}

func getInt[T int | int64](name string, fallback T) (T, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid integer %q", name, raw)
	}
	return T(v), nil
}

func getBool(name string, fallback bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid boolean %q", name, raw)
	}
	return v, nil
}

func getDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid duration %q", name, raw)
	}
	return v, nil
}

// Load reads the configuration from the environment. Call LoadDotEnv first
// to pick up a local .env file.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         GetEnv("PORT", "4000"),
		DatabaseURL:  GetEnv("DATABASE_URL", ""),
		DBHost:       GetEnv("DB_HOST", "127.0.0.1"),
		DBPort:       GetEnv("DB_PORT", "5432"),
		DBUser:       GetEnv("DB_USER", "postgres"),
		DBPassword:   GetEnv("DB_PASSWORD", "postgres"),
		DBName:       GetEnv("DB_NAME", "captiondb"),
		StoreBackend: strings.ToLower(GetEnv("STORE_BACKEND", StoreBackendPostgres)),
		JWTSecret:    GetEnv("JWT_SECRET_KEY", ""),
		ClientOrigin: GetEnv("CLIENT_ORIGIN", "http://localhost:5173"),

		S3Endpoint:  GetEnv("S3_ENDPOINT", ""),
		S3Region:    GetEnv("S3_REGION", "us-east-1"),
		S3Bucket:    GetEnv("S3_BUCKET", ""),
		S3AccessKey: GetEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: GetEnv("S3_SECRET_KEY", ""),
		S3PublicURL: GetEnv("S3_PUBLIC_URL", ""),
		S3Folder:    GetEnv("S3_FOLDER", "Image-Caption-Generator"),

		GeminiAPIKey: GetEnv("GEMINI_API_KEY", ""),
		GeminiModel:  GetEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		RedisHost:     GetEnv("REDIS_HOST", ""),
		RedisPort:     GetEnv("REDIS_PORT", "6379"),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 72*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CookieSecure, err = getBool("COOKIE_SECURE", true); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = getInt[int64]("MAX_UPLOAD_BYTES", 20<<20); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt[int]("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}
	switch c.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND: unsupported backend %q", c.StoreBackend)
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// DSN returns the postgres connection string, preferring DATABASE_URL.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.dsnFor(c.DBName)
}

// AdminDSN points at the default "postgres" database on the same server.
func (c *Config) AdminDSN() string {
	return c.dsnFor("postgres")
}

func (c *Config) dsnFor(dbname string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, dbname)
}

// RedisAddr is empty when no redis host is configured.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%v:%v", c.RedisHost, c.RedisPort)
}
