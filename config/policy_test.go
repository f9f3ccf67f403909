package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestShippedPolicyIsValid(t *testing.T) {
	p, err := LoadPolicy("policy.yaml")
	require.NoError(t, err)
	assert.Equal(t, int64(52428800), p.Upload.MaxSize)
	assert.Equal(t, 10*time.Minute, p.Upload.TokenTTL)
	assert.Equal(t, RateRule{Limit: 30, Window: time.Minute}, p.RateLimit["message"])
	assert.NotEmpty(t, p.Upload.AllowedTypes)
}

func TestLoadPolicyOverlaysDefaults(t *testing.T) {
	p, err := LoadPolicy(writePolicy(t, "max_message_length: 100\npipeline:\n  workers: 9\n"))
	require.NoError(t, err)

	assert.Equal(t, 100, p.MaxMessageLength)
	assert.Equal(t, 9, p.Pipeline.Workers)
	assert.Equal(t, DefaultPolicy().Pipeline.ModerationThreshold, p.Pipeline.ModerationThreshold)
	assert.Equal(t, DefaultPolicy().Cache, p.Cache)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)

	p, err = LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"threshold": "pipeline:\n  moderation_threshold: 1.5\n",
		"rate":      "rate_limit:\n  message: { limit: 0, window: 1m }\n",
		"size":      "upload:\n  max_size: -1\n",
		"lock_ttl":  "pipeline:\n  lock_ttl: 0s\n",
		"thumbnail": "pipeline:\n  thumbnail_size: 0\n",
		"syntax":    "upload: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPolicy(writePolicy(t, body))
			assert.Error(t, err)
		})
	}
}

func TestUploadAllowed(t *testing.T) {
	u := DefaultPolicy().Upload
	assert.True(t, u.Allowed("image/png"))
	assert.True(t, u.Allowed("Text/Plain; charset=utf-8"))
	assert.False(t, u.Allowed("application/x-msdownload"))
	assert.False(t, u.Allowed(""))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("MS_TEST_INT", "12")
	t.Setenv("MS_TEST_BAD", "x")
	t.Setenv("MS_TEST_DURATION", "90s")

	assert.Equal(t, 12, Int("MS_TEST_INT", 1))
	assert.Equal(t, 1, Int("MS_TEST_BAD", 1))
	assert.Equal(t, 90*time.Second, Duration("MS_TEST_DURATION", time.Second))
	assert.True(t, Bool("MS_TEST_MISSING", true))
	assert.Equal(t, "fallback", Default("MS_TEST_MISSING", "fallback"))
}
