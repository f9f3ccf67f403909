package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	key := []byte("access-secret")
	token, err := GenerateAccessToken("u1", "k1", false, key, time.Minute)
	require.NoError(t, err)

	meta, err := CheckAndExtractTokenMetadata(token, key)
	require.NoError(t, err)
	assert.Equal(t, "u1", meta.Id)
	assert.Equal(t, "k1", meta.Community)
	assert.False(t, meta.Otp)

	_, err = CheckAndExtractTokenMetadata(token, []byte("other"))
	assert.Error(t, err)
}

func TestMetadataRejectsMissingSubject(t *testing.T) {
	_, err := MetadataFromClaims(jwt.MapClaims{"community": "k1"})
	assert.Error(t, err)
}

func TestUploadTokenExpires(t *testing.T) {
	key := []byte("upload-secret")
	claims := UploadClaims{Path: "c1/x/file.png", Bucket: "attachments", ContentType: "image/png", Size: 10}

	fresh, err := SignUploadToken(claims, key, time.Minute, time.Now())
	require.NoError(t, err)
	parsed, err := ParseUploadToken(fresh, key)
	require.NoError(t, err)
	assert.Equal(t, "c1/x/file.png", parsed.Path)

	stale, err := SignUploadToken(claims, key, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseUploadToken(stale, key)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
