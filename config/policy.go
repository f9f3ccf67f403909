package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateRule is a sliding-window ceiling for one action class.
type RateRule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type UploadPolicy struct {
	AllowedTypes []string      `yaml:"allowed_types"`
	MaxSize      int64         `yaml:"max_size"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	Bucket       string        `yaml:"bucket"`
}

type CachePolicy struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
	Window   int           `yaml:"window"`
	Shards   int           `yaml:"shards"`
}

type PipelinePolicy struct {
	Workers             int           `yaml:"workers"`
	ModerationThreshold float64       `yaml:"moderation_threshold"`
	LockTTL             time.Duration `yaml:"lock_ttl"`
	ThumbnailSize       int           `yaml:"thumbnail_size"`
}

type Policy struct {
	Upload    UploadPolicy        `yaml:"upload"`
	Cache     CachePolicy         `yaml:"cache"`
	RateLimit map[string]RateRule `yaml:"rate_limit"`
	Pipeline  PipelinePolicy      `yaml:"pipeline"`
	// MaxMessageLength is counted in bytes.
	MaxMessageLength int `yaml:"max_message_length"`
}

func DefaultPolicy() Policy {
	return Policy{
		Upload: UploadPolicy{
			AllowedTypes: []string{
				"image/jpeg", "image/png", "image/gif", "image/webp",
				"video/mp4", "video/quicktime", "video/webm",
				"audio/mpeg", "audio/ogg", "audio/wav", "audio/webm", "audio/mp4",
				"application/pdf", "text/plain", "text/markdown",
			},
			MaxSize:  50 << 20,
			TokenTTL: 10 * time.Minute,
			Bucket:   "attachments",
		},
		Cache: CachePolicy{
			TTL:      5 * time.Minute,
			Capacity: 1024,
			Window:   50,
			Shards:   16,
		},
		RateLimit: map[string]RateRule{
			"message":      {Limit: 30, Window: time.Minute},
			"upload":       {Limit: 10, Window: time.Minute},
			"conversation": {Limit: 5, Window: time.Minute},
			"reaction":     {Limit: 60, Window: time.Minute},
		},
		Pipeline: PipelinePolicy{
			Workers:             4,
			ModerationThreshold: 0.8,
			LockTTL:             2 * time.Minute,
			ThumbnailSize:       320,
		},
		MaxMessageLength: 4000,
	}
}

// LoadPolicy overlays the YAML file at path on top of DefaultPolicy. An empty
// path or a missing file yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return policy, nil
	}
	if err != nil {
		return policy, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return policy, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return policy, policy.Validate()
}

func (p Policy) Validate() error {
	if p.Upload.MaxSize <= 0 {
		return errors.New("upload.max_size must be positive")
	}
	if len(p.Upload.AllowedTypes) == 0 {
		return errors.New("upload.allowed_types is empty")
	}
	if p.Cache.TTL <= 0 || p.Cache.Capacity <= 0 || p.Cache.Window <= 0 {
		return errors.New("cache ttl, capacity and window must be positive")
	}
	for class, rule := range p.RateLimit {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("rate_limit.%s needs a positive limit and window", class)
		}
	}
	if p.Pipeline.ModerationThreshold <= 0 || p.Pipeline.ModerationThreshold > 1 {
		return errors.New("pipeline.moderation_threshold must be in (0, 1]")
	}
	if p.Pipeline.LockTTL <= 0 {
		return errors.New("pipeline.lock_ttl must be positive")
	}
	if p.Pipeline.ThumbnailSize <= 0 {
		return errors.New("pipeline.thumbnail_size must be positive")
	}
	return nil
}

// Allowed reports whether contentType is on the upload allow-list. Parameters
// such as "; charset=utf-8" are ignored.
func (u UploadPolicy) Allowed(contentType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, t := range u.AllowedTypes {
		if strings.EqualFold(t, base) {
			return true
		}
	}
	return false
}
