package controller

import (
	"errors"
	"math"
	"strconv"

	"messaging-service/apperr"
	"messaging-service/event"
	"messaging-service/service"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Controller holds the dependencies of the HTTP handlers.
type Controller struct {
	svc           *service.Services
	jobs          event.Queue
	webhookSecret string
	bucket        string
	log           zerolog.Logger
}

type Options struct {
	Services      *service.Services
	Jobs          event.Queue
	WebhookSecret string
	Bucket        string
	Log           zerolog.Logger
}

func New(opts Options) *Controller {
	return &Controller{
		svc:           opts.Services,
		jobs:          opts.Jobs,
		webhookSecret: opts.WebhookSecret,
		bucket:        opts.Bucket,
		log:           opts.Log,
	}
}

func success(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func reviewInput() error {
	return apperr.Validation("Review your input")
}

// ErrorHandler renders every error returned by a handler or middleware in
// the response envelope. It is installed as the app's fiber ErrorHandler.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"status":  "error",
				"message": fe.Message,
				"data":    nil,
			})
		}

		status := apperr.Status(err)
		if status == fiber.StatusInternalServerError {
			log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
		}
		if after := apperr.RetryAfter(err); after > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(after.Seconds()))))
		}
		return c.Status(status).JSON(fiber.Map{
			"status":  "error",
			"message": apperr.Message(err),
			"data":    nil,
		})
	}
}
