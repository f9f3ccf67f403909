package controller

import (
	"crypto/subtle"

	"messaging-service/apperr"
	"messaging-service/event"
	"messaging-service/middleware"
	"messaging-service/service"

	"github.com/gofiber/fiber/v2"
)

const WebhookSecretHeader = "X-Webhook-Secret"

type WebhookRecord struct {
	Name     string `json:"name"`
	BucketID string `json:"bucket_id"`
}

type WebhookInput struct {
	Records []WebhookRecord `json:"records"`
}

func (h *Controller) UploadToken(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input := new(service.UploadRequest)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}
	grant, err := h.svc.Attachments.RequestUploadToken(c.UserContext(), caller, *input)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, grant)
}

// UploadWebhook accepts object-created notifications from the blob store and
// queues one processing job per record. Processing is idempotent, so the
// store may deliver the same record more than once.
func (h *Controller) UploadWebhook(c *fiber.Ctx) error {
	secret := c.Get(WebhookSecretHeader)
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		return apperr.Unauthorized("invalid webhook secret")
	}

	input := new(WebhookInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}

	queued := 0
	for _, record := range input.Records {
		if record.Name == "" {
			continue
		}
		bucket := record.BucketID
		if bucket == "" {
			bucket = h.bucket
		}
		err := h.jobs.Enqueue(c.UserContext(), event.ActionObjectCreated, event.ObjectCreated{
			Bucket: bucket,
			Path:   record.Name,
		})
		if err != nil {
			return apperr.Upstream("queue", err)
		}
		queued++
	}
	return success(c, fiber.StatusAccepted, fiber.Map{"queued": queued})
}
