package middleware

import (
	"messaging-service/apperr"

	"github.com/gofiber/fiber/v2"
)

type PolicyEnforcer interface {
	Enforce(rvals ...interface{}) (bool, error)
	LoadPolicy() error
}

// RBAC checks the route against the caller's community-scoped roles.
func RBAC(enforcer PolicyEnforcer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, err := Caller(c)
		if err != nil {
			return err
		}

		// Load policy from Database
		if err := enforcer.LoadPolicy(); err != nil {
			return err
		}

		accepted, err := enforcer.Enforce(caller.ID, caller.CommunityID, c.Path(), c.Method())
		if err != nil {
			return err
		}
		if !accepted {
			return apperr.AccessDenied("Unauthorized")
		}
		return c.Next()
	}
}
