package controller

import (
	"messaging-service/apperr"
	"messaging-service/middleware"

	"github.com/gofiber/fiber/v2"
)

type PinInput struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (h *Controller) PinList(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	conversationID := c.Query("conversationId")
	if conversationID == "" {
		return apperr.Validation("conversationId is required")
	}
	pins, err := h.svc.Pins.List(c.UserContext(), caller, conversationID)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, pins)
}

func (h *Controller) pinInput(c *fiber.Ctx) (*PinInput, error) {
	input := new(PinInput)
	if err := c.BodyParser(input); err != nil {
		return nil, reviewInput()
	}
	if input.ConversationID == "" || input.MessageID == "" {
		return nil, apperr.Validation("conversationId and messageId are required")
	}
	return input, nil
}

func (h *Controller) PinCreate(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input, err := h.pinInput(c)
	if err != nil {
		return err
	}
	pin, err := h.svc.Pins.Pin(c.UserContext(), caller, input.ConversationID, input.MessageID)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, pin)
}

func (h *Controller) PinDelete(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input, err := h.pinInput(c)
	if err != nil {
		return err
	}
	if err := h.svc.Pins.Unpin(c.UserContext(), caller, input.ConversationID, input.MessageID); err != nil {
		return err
	}
	return success(c, fiber.StatusOK, fiber.Map{"messageId": input.MessageID})
}
