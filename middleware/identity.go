package middleware

import (
	"messaging-service/access"
	"messaging-service/apperr"
	"messaging-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const callerKey = "caller"

// Identity turns the verified JWT into an access.Caller for the handlers.
// It must run after JWT.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok {
			return apperr.Unauthorized("missing identity")
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return apperr.Unauthorized("invalid token claims")
		}
		meta, err := utils.MetadataFromClaims(claims)
		if err != nil {
			return apperr.Unauthorized(err.Error())
		}
		c.Locals(callerKey, access.Caller{ID: meta.Id, CommunityID: meta.Community})
		c.Locals("otp", meta.Otp)
		return c.Next()
	}
}

// Caller returns the identity stored by Identity.
func Caller(c *fiber.Ctx) (access.Caller, error) {
	caller, ok := c.Locals(callerKey).(access.Caller)
	if !ok || caller.ID == "" {
		return access.Caller{}, apperr.Unauthorized("missing identity")
	}
	return caller, nil
}
