package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

const uploadTimeout = 2 * time.Minute

// ImageBucket stores generated images that arrive inline and hands back a
// public URL, so every stored image and reference is http(s).
type ImageBucket struct {
	log    *logger.Logger
	client *storage.Client
	cfg    StorageConfig
	now    func() time.Time
}

func NewImageBucket(ctx context.Context, log *logger.Logger, cfg StorageConfig) (*ImageBucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	client, err := newStorageClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	b := &ImageBucket{
		log:    log.With("service", "ImageBucket"),
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
	b.log.Info("Object storage initialized", "mode", cfg.Mode, "bucket", cfg.Bucket, "emulator_host", cfg.EmulatorHost, "cdn_domain", cfg.CDNDomain)
	return b, nil
}

func newStorageClient(ctx context.Context, cfg StorageConfig) (*storage.Client, error) {
	if cfg.Emulated() {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

// MirrorImage uploads data under a fresh key and returns its public URL.
func (b *ImageBucket) MirrorImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image payload")
	}
	key := b.objectKey(mimeType)
	if err := b.upload(ctx, key, bytes.NewReader(data), mimeType); err != nil {
		return "", err
	}
	return b.PublicURL(key), nil
}

func (b *ImageBucket) upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	w := b.client.Bucket(b.cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = firstNonEmpty(contentType, contentTypeForKey(key))
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (b *ImageBucket) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.cfg.Bucket).Object(strings.TrimLeft(key, "/")).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *ImageBucket) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *ImageBucket) objectKey(mimeType string) string {
	now := b.now().UTC()
	parts := []string{}
	if p := strings.Trim(b.cfg.KeyPrefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, now.Format("2006/01/02"), uuid.NewString()+extensionFor(mimeType))
	return strings.Join(parts, "/")
}

// PublicURL prefers the CDN domain, then the emulator media endpoint, then a
// configured public base, then storage.googleapis.com.
func (b *ImageBucket) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if b.cfg.CDNDomain != "" {
		return fmt.Sprintf("https://%s/%s", b.cfg.CDNDomain, key)
	}
	if b.cfg.Emulated() {
		base := firstNonEmpty(b.cfg.PublicBaseURL, b.cfg.EmulatorHost)
		if base != "" {
			return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", strings.TrimRight(base, "/"), url.PathEscape(b.cfg.Bucket), url.PathEscape(key))
		}
	}
	if b.cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", b.cfg.PublicBaseURL, b.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", b.cfg.Bucket, key)
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
