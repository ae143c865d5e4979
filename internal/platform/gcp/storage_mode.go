package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
)

type StorageMode string

const (
	StorageModeGCS         StorageMode = "gcs"
	StorageModeGCSEmulator StorageMode = "gcs_emulator"
)

// StorageConfig selects the GCS endpoint and the image bucket.
type StorageConfig struct {
	Mode          StorageMode
	EmulatorHost  string
	Bucket        string
	CDNDomain     string
	PublicBaseURL string
	// KeyPrefix is prepended to every object key.
	KeyPrefix string
}

func (c StorageConfig) Emulated() bool { return c.Mode == StorageModeGCSEmulator }

// StorageConfigFromEnv reads OBJECT_STORAGE_MODE, STORAGE_EMULATOR_HOST,
// IMAGE_BUCKET_NAME, IMAGE_CDN_DOMAIN and OBJECT_STORAGE_PUBLIC_BASE_URL.
// An unset mode means the emulator when STORAGE_EMULATOR_HOST is set.
func StorageConfigFromEnv() (StorageConfig, error) {
	cfg := StorageConfig{
		EmulatorHost:  strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		Bucket:        envutil.String("IMAGE_BUCKET_NAME", ""),
		CDNDomain:     envutil.String("IMAGE_CDN_DOMAIN", ""),
		PublicBaseURL: strings.TrimRight(envutil.String("OBJECT_STORAGE_PUBLIC_BASE_URL", ""), "/"),
		KeyPrefix:     envutil.String("IMAGE_KEY_PREFIX", "generated"),
	}
	switch mode := StorageMode(strings.ToLower(envutil.String("OBJECT_STORAGE_MODE", ""))); mode {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeGCSEmulator
		}
	case StorageModeGCS, StorageModeGCSEmulator:
		cfg.Mode = mode
	default:
		return cfg, fmt.Errorf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", mode, StorageModeGCS, StorageModeGCSEmulator)
	}
	return cfg, cfg.Validate()
}

func (c StorageConfig) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("missing env var IMAGE_BUCKET_NAME")
	}
	if c.PublicBaseURL != "" && !absoluteURL(c.PublicBaseURL) {
		return fmt.Errorf("invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL like http://localhost:4443", c.PublicBaseURL)
	}
	if !c.Emulated() {
		return nil
	}
	if c.EmulatorHost == "" {
		return fmt.Errorf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", StorageModeGCSEmulator)
	}
	if !absoluteURL(c.EmulatorHost) {
		return fmt.Errorf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", c.EmulatorHost)
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
