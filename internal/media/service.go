// Package media stores images visitors attach to chat turns.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"

	"github.com/google/uuid"
)

// DownloadURLTTL is the longest lifetime S3 allows for a presigned URL. The
// image link ends up in lead records and notifications.
const DownloadURLTTL = 7 * 24 * time.Hour

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Upload describes a stored chat image.
type Upload struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	store       ObjectStore
	bucket      string
	maxFileSize int64
	clock       clock.Clock
}

func New(store ObjectStore, bucket string, maxFileSize int64, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{store: store, bucket: bucket, maxFileSize: maxFileSize, clock: clk}
}

// NewFromConfig returns nil when MinIO is not configured.
func NewFromConfig(ctx context.Context, cfg config.MinIOConfig) (*Service, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, nil
	}
	store, err := NewMinIOStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx, cfg.GetMinioBucketChatMedia()); err != nil {
		return nil, err
	}
	return New(store, cfg.GetMinioBucketChatMedia(), cfg.GetMinIOMaxFileSize(), nil), nil
}

// UploadChatImage stores an image under tenant/session and returns a
// presigned download URL for it.
func (s *Service) UploadChatImage(ctx context.Context, tenantID, sessionID, contentType string, r io.Reader, size int64) (Upload, error) {
	ext, err := s.validate(contentType, size)
	if err != nil {
		return Upload{}, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return Upload{}, apperr.Validation("sessionId is required")
	}

	now := s.clock.Now().UTC()
	key := path.Join(tenantID, safeSegment(sessionID), now.Format("2006/01/02"), uuid.NewString()+ext)

	if err := s.store.Put(ctx, s.bucket, key, normalizeType(contentType), r, size); err != nil {
		return Upload{}, apperr.Unavailable("failed to store image", err)
	}
	url, err := s.store.PresignGet(ctx, s.bucket, key, DownloadURLTTL)
	if err != nil {
		return Upload{}, apperr.Unavailable("failed to sign image url", err)
	}

	return Upload{URL: url, FileKey: key, ExpiresAt: now.Add(DownloadURLTTL)}, nil
}

func (s *Service) MaxFileSize() int64 { return s.maxFileSize }

func (s *Service) validate(contentType string, size int64) (string, error) {
	ext, ok := allowedImageTypes[normalizeType(contentType)]
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("content type %q is not allowed", contentType))
	}
	if size <= 0 {
		return "", apperr.Validation("file size must be greater than 0")
	}
	if s.maxFileSize > 0 && size > s.maxFileSize {
		return "", apperr.Validation(fmt.Sprintf("file size %d bytes exceeds maximum allowed size of %d bytes", size, s.maxFileSize))
	}
	return ext, nil
}

func normalizeType(contentType string) string {
	return strings.TrimSpace(strings.ToLower(strings.Split(contentType, ";")[0]))
}

func safeSegment(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, v)
}
