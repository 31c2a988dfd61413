package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/config"
)

// MaxImageSize bounds a decoded chat image
const MaxImageSize = 5 << 20

// ImagePathPrefix is the path under which stored images are served
const ImagePathPrefix = "/api/images/"

var (
	ErrInvalidDataURL   = errors.New("image must be a base64 data URL")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image too large")
)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Service struct {
	client       *minio.Client
	bucketName   string
	bucketRegion string
}

// NewService connects to the S3-compatible endpoint and ensures the bucket
func NewService(ctx context.Context, cfg config.StorageConfig) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	service := &Service{
		client:       client,
		bucketName:   cfg.Bucket,
		bucketRegion: "us-east-1",
	}

	if err := service.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}

	return service, nil
}

// ensureBucket creates the bucket if it doesn't exist
func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.bucketRegion,
		})
		if err != nil {
			return err
		}
		log.Printf("[Storage] Created bucket: %s", s.bucketName)
	}

	return nil
}

// UploadImage stores a data-URL image for ownerID and returns the reference
// saved on the message.
func (s *Service) UploadImage(ctx context.Context, ownerID uuid.UUID, dataURL string) (string, error) {
	contentType, data, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}

	storageKey := fmt.Sprintf("images/%s/%s%s", ownerID, uuid.New().String(), imageExtensions[contentType])

	_, err = s.client.PutObject(ctx, s.bucketName, storageKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	return ImagePathPrefix + storageKey, nil
}

// DownloadURL returns a short-lived pre-signed GET URL for a stored image
func (s *Service) DownloadURL(ctx context.Context, storageKey string) (*url.URL, error) {
	if !strings.HasPrefix(storageKey, "images/") || strings.Contains(storageKey, "..") {
		return nil, fmt.Errorf("invalid storage key %q", storageKey)
	}

	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucketName, storageKey, time.Hour, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate download URL: %w", err)
	}
	return presignedURL, nil
}

// ParseDataURL decodes "data:image/png;base64,...."
func ParseDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	if _, ok := imageExtensions[contentType]; !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageSize {
		return "", nil, ErrImageTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return contentType, data, nil
}
