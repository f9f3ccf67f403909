package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// OTP rejects tokens issued before the second factor was verified.
func OTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if pending, _ := c.Locals("otp").(bool); pending {
			return c.Status(fiber.StatusBadRequest).
				JSON(fiber.Map{
					"status":  "error",
					"message": "2FA required",
					"data":    nil,
				})
		}
		return c.Next()
	}
}
