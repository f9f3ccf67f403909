package middleware

import (
	"errors"

	"messaging-service/apperr"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

// JWT verifies the HS512 access token. Failures are rendered by the app
// ErrorHandler.
func JWT(key []byte) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: "HS512",
			Key:    key,
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				return apperr.Unauthorized("Missing or malformed JWT")
			}
			return apperr.Unauthorized("Invalid or expired JWT")
		},
	})
}
