package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenMetadata struct to describe metadata in an access JWT.
type TokenMetadata struct {
	Id        string
	Community string
	Otp       bool
	Exp       int64
}

// GenerateAccessToken signs an HS512 access token carrying the claims the
// JWT middleware reads. Identity issuance is owned elsewhere; this is used by
// tooling and tests.
func GenerateAccessToken(id, community string, otp bool, key []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{}

	claims["id"] = id
	claims["community"] = community
	claims["otp"] = otp
	claims["exp"] = time.Now().Add(ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(key)
}

func CheckAndExtractTokenMetadata(token string, key []byte) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token claims")
	}
	return MetadataFromClaims(claims)
}

// MetadataFromClaims validates the claim types instead of asserting them.
func MetadataFromClaims(claims jwt.MapClaims) (*TokenMetadata, error) {
	id, _ := claims["id"].(string)
	if id == "" {
		return nil, errors.New("token has no subject id")
	}
	community, _ := claims["community"].(string)
	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)

	return &TokenMetadata{
		Id:        id,
		Community: community,
		Otp:       otp,
		Exp:       int64(exp),
	}, nil
}

// UploadClaims scope an upload credential to one storage path.
type UploadClaims struct {
	Path           string `json:"path"`
	Bucket         string `json:"bucket"`
	ConversationID string `json:"conversation_id"`
	ContentType    string `json:"content_type"`
	Size           int64  `json:"size"`
	jwt.RegisteredClaims
}

func SignUploadToken(claims UploadClaims, key []byte, ttl time.Duration, now time.Time) (string, error) {
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign upload token: %w", err)
	}
	return signed, nil
}

func ParseUploadToken(token string, key []byte) (*UploadClaims, error) {
	claims := new(UploadClaims)
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
