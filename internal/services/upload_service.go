package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"meshly/internal/storage"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
)

// UploadService hands out presigned S3 URLs for attachment uploads. The
// returned object URL is what a sender later references in a message's
// attachment list.
type UploadService struct {
	storage *storage.Client
}

func NewUploadService(storage *storage.Client) *UploadService {
	return &UploadService{storage: storage}
}

type PresignInput struct {
	UploaderID  uuid.UUID
	FileName    string
	ContentType string
	FileSize    int64
}

type PresignResult struct {
	UploadURL string            `json:"upload_url"`
	ObjectKey string            `json:"object_key"`
	FileURL   string            `json:"file_url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

const maxUploadBytes = 64 << 20

func (s *UploadService) CreatePresignedUpload(ctx context.Context, in PresignInput) (PresignResult, error) {
	if s.storage == nil {
		return PresignResult{}, errors.New("s3 storage is not configured")
	}
	if in.UploaderID == uuid.Nil || in.FileName == "" || in.ContentType == "" || in.FileSize <= 0 {
		return PresignResult{}, meshly_errors.ErrInvalidInput
	}
	if in.FileSize > maxUploadBytes {
		return PresignResult{}, meshly_errors.ErrTooLarge
	}
	if err := s.storage.ValidateContentType(in.ContentType); err != nil {
		return PresignResult{}, meshly_errors.ErrInvalidInput
	}

	key := buildObjectKey(in.UploaderID, in.FileName)
	uploadURL, headers, err := s.storage.PresignPut(ctx, key, in.ContentType, in.FileSize)
	if err != nil {
		return PresignResult{}, err
	}

	return PresignResult{
		UploadURL: uploadURL,
		ObjectKey: key,
		FileURL:   s.storage.FileURL(key),
		Headers:   headers,
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func buildObjectKey(uploaderID uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	base := fmt.Sprintf("attachments/%s/%s", uploaderID.String(), uuid.New().String())
	if ext == "" {
		return base
	}
	return base + ext
}
