package middleware

import (
	"context"

	"messaging-service/ratelimit"

	"github.com/gofiber/fiber/v2"
)

type RateChecker interface {
	Check(ctx context.Context, caller string, class ratelimit.Class) error
}

// RateLimit charges one request of class to the caller. Mount it on mutating
// routes only.
func RateLimit(limiter RateChecker, class ratelimit.Class) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, err := Caller(c)
		if err != nil {
			return err
		}
		if err := limiter.Check(c.UserContext(), caller.ID, class); err != nil {
			return err
		}
		return c.Next()
	}
}
