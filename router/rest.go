package router

import (
	"messaging-service/controller"
	"messaging-service/middleware"
	"messaging-service/ratelimit"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RestOptions struct {
	AccessKey []byte
	Limiter   middleware.RateChecker
	Enforcer  middleware.PolicyEnforcer
}

func Rest(app *fiber.App, h *controller.Controller, opts RestOptions) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/v1", logger.New())

	// Blob store notifications, authenticated with a shared secret
	api.Post("/uploads/webhook", h.UploadWebhook)

	auth := []fiber.Handler{middleware.JWT(opts.AccessKey), middleware.Identity(), middleware.OTP()}
	limit := func(class ratelimit.Class) fiber.Handler {
		return middleware.RateLimit(opts.Limiter, class)
	}

	// Conversations
	conversations := api.Group("/conversations", auth...)
	conversations.Post("/", limit(ratelimit.ClassConversation), h.ConversationCreate)
	conversations.Get("/", h.ConversationList)
	conversations.Get("/:id", h.ConversationGet)
	conversations.Put("/:id", limit(ratelimit.ClassConversation), h.ConversationUpdate)
	conversations.Put("/:id/settings", limit(ratelimit.ClassConversation), h.ConversationSettings)
	conversations.Delete("/:id", limit(ratelimit.ClassConversation), h.ConversationDelete)
	conversations.Post("/:id/read", h.ConversationRead)
	conversations.Get("/:id/messages", h.MessageList)
	conversations.Post("/:id/messages", limit(ratelimit.ClassMessage), h.MessageSend)

	// Messages
	messages := api.Group("/messages", auth...)
	messages.Put("/:id", limit(ratelimit.ClassMessage), h.MessageEdit)
	messages.Delete("/:id", limit(ratelimit.ClassMessage), h.MessageDelete)
	messages.Post("/:id/reactions", limit(ratelimit.ClassReaction), h.ReactionToggle)
	messages.Get("/:id/reactions", h.ReactionList)

	// Attachments
	attachments := api.Group("/attachments", auth...)
	attachments.Post("/upload-token", limit(ratelimit.ClassUpload), h.UploadToken)

	// Pins
	pins := api.Group("/pinned-messages", auth...)
	pins.Get("/", h.PinList)
	pins.Post("/", limit(ratelimit.ClassMessage), h.PinCreate)
	pins.Delete("/", limit(ratelimit.ClassMessage), h.PinDelete)

	// Admin
	admin := api.Group("/admin", append(auth, middleware.RBAC(opts.Enforcer))...)
	admin.Post("/conversations/default", h.AdminDefaultConversation)
}
