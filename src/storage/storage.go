// Package storage uploads gallery images to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/integems/caption-agent/config"
)

// UploadResult is where an uploaded object can be read from and the handle
// needed to delete it later.
type UploadResult struct {
	URL    string
	FileID string
}

// Storage is the object storage adapter.
type Storage interface {
	Upload(ctx context.Context, data []byte, fileName, contentType string) (UploadResult, error)
	Delete(ctx context.Context, fileID string) error
}

// objectAPI is the part of the S3 client this package uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Storage struct {
	client  objectAPI
	bucket  string
	folder  string
	baseURL string
}

// NewS3Storage builds a client for the configured endpoint. Path-style
// addressing keeps MinIO and other S3-compatible hosts working.
func NewS3Storage(ctx context.Context, cfg *config.Config) (*S3Storage, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Storage(client, cfg.S3Bucket, cfg.S3Folder, publicBaseURL(cfg)), nil
}

func newS3Storage(client objectAPI, bucket, folder, baseURL string) *S3Storage {
	return &S3Storage{
		client:  client,
		bucket:  bucket,
		folder:  strings.Trim(folder, "/"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func publicBaseURL(cfg *config.Config) string {
	if cfg.S3PublicURL != "" {
		return cfg.S3PublicURL
	}
	if cfg.S3Endpoint != "" {
		return strings.TrimRight(cfg.S3Endpoint, "/") + "/" + cfg.S3Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
}

// Upload stores data under the image folder. The object key doubles as the
// file id.
func (s *S3Storage) Upload(ctx context.Context, data []byte, fileName, contentType string) (UploadResult, error) {
	key := path.Join(s.folder, fileName)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", key, err)
	}

	return UploadResult{URL: s.baseURL + "/" + key, FileID: key}, nil
}

func (s *S3Storage) Delete(ctx context.Context, fileID string) error {
	if fileID == "" {
		return errors.New("empty file id")
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	return nil
}

// GenerateFileName names an uploaded image after the upload time, keeping a
// sanitized form of the original extension.
func GenerateFileName(originalName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	clean := make([]rune, 0, len(ext))
	for _, r := range ext {
		if r == '.' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			clean = append(clean, r)
		}
	}
	ext = string(clean)
	if ext == "." || len(ext) > 10 {
		ext = ""
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("userImage_%d_%s%s", now.UnixMilli(), suffix, ext)
}
