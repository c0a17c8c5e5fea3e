package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tenantly/portal/backend/config"
)

// UploadImage is one base64-encoded file of an upload batch.
type UploadImage struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// UploadRequest is a batch of files stored under one folder.
type UploadRequest struct {
	Images     []UploadImage `json:"images"`
	FolderName string        `json:"folderName"`
}

type UploadResponse struct {
	Success bool     `json:"success"`
	URLs    []string `json:"urls"`
}

type MinioService struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewMinioService(cfg *config.MinioConfig) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// UploadFile uploads a file to MINIO under objectName
func (s *MinioService) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}

// UploadImages decodes and stores every image of the batch under
// req.FolderName. The batch fails as a whole on the first error.
func (s *MinioService) UploadImages(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	urls := make([]string, 0, len(req.Images))

	for _, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", img.Name, err)
		}

		objectName := ObjectName(req.FolderName, img.Name)
		contentType := http.DetectContentType(data)
		if err := s.UploadFile(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", img.Name, err)
		}
		urls = append(urls, s.GetPublicURL(objectName))
	}

	return &UploadResponse{Success: true, URLs: urls}, nil
}

// GetPublicURL returns a public URL for the object (if bucket policy allows)
func (s *MinioService) GetPublicURL(objectName string) string {
	if s.config.PublicURL != "" {
		return strings.TrimRight(s.config.PublicURL, "/") + "/" + objectName
	}

	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, objectName)
}

// ObjectName builds a collision-free object key inside folder, keeping the
// base name of the original file for readability.
func ObjectName(folder, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		base = "file"
	}
	return fmt.Sprintf("%s/%s-%s", strings.Trim(folder, "/"), uuid.New().String(), base)
}
