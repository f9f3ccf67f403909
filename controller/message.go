package controller

import (
	"messaging-service/middleware"
	"messaging-service/service"

	"github.com/gofiber/fiber/v2"
)

type MessageEditInput struct {
	Content string `json:"content"`
}

type ReactionInput struct {
	Reaction string `json:"reaction"`
}

func (h *Controller) MessageList(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	msgs, err := h.svc.Messages.List(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, msgs)
}

func (h *Controller) MessageSend(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input := new(service.SendInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}
	msg, err := h.svc.Messages.Send(c.UserContext(), caller, c.Params("id"), *input)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusCreated, msg)
}

func (h *Controller) MessageEdit(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input := new(MessageEditInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}
	msg, err := h.svc.Messages.Edit(c.UserContext(), caller, c.Params("id"), input.Content)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, msg)
}

func (h *Controller) MessageDelete(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	if err := h.svc.Messages.SoftDelete(c.UserContext(), caller, c.Params("id")); err != nil {
		return err
	}
	return success(c, fiber.StatusOK, fiber.Map{"id": c.Params("id")})
}

func (h *Controller) ReactionToggle(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input := new(ReactionInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}
	result, err := h.svc.Reactions.Toggle(c.UserContext(), caller, c.Params("id"), input.Reaction)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, result)
}

func (h *Controller) ReactionList(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	summary, err := h.svc.Reactions.List(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, summary)
}
