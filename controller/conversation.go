package controller

import (
	"messaging-service/middleware"
	"messaging-service/service"

	"github.com/gofiber/fiber/v2"
)

type ConversationCreateInput struct {
	TargetUserID string `json:"targetUserId"`
}

type DefaultConversationInput struct {
	Title   string   `json:"title"`
	Members []string `json:"members"`
}

func (h *Controller) ConversationCreate(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input := new(ConversationCreateInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}

	id, err := h.svc.Conversations.CreateDirect(c.UserContext(), caller, input.TargetUserID)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, fiber.Map{"conversationId": id})
}

func (h *Controller) ConversationList(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	views, err := h.svc.Conversations.List(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, views)
}

func (h *Controller) ConversationGet(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Conversations.Get(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, view)
}

func (h *Controller) ConversationUpdate(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input := new(service.UpdateInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}
	view, err := h.svc.Conversations.Update(c.UserContext(), caller, c.Params("id"), *input)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, view)
}

func (h *Controller) ConversationSettings(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input := new(service.ThemeSettings)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}
	view, err := h.svc.Conversations.UpdateSettings(c.UserContext(), caller, c.Params("id"), *input)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, view)
}

func (h *Controller) ConversationDelete(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	outcome, err := h.svc.Conversations.Delete(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, fiber.Map{"outcome": outcome})
}

func (h *Controller) ConversationRead(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Conversations.MarkRead(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, fiber.Map{"marked": n})
}

// AdminDefaultConversation provisions a default conversation in the caller's
// community. Route access is enforced by RBAC.
func (h *Controller) AdminDefaultConversation(c *fiber.Ctx) error {
	caller, err := middleware.Caller(c)
	if err != nil {
		return err
	}
	input := new(DefaultConversationInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput()
	}
	id, err := h.svc.Conversations.ProvisionDefault(c.UserContext(), caller.CommunityID, input.Title, input.Members)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, fiber.Map{"conversationId": id})
}
