package socketio

import (
	"context"
	"fmt"
	"time"

	"messaging-service/config"
	"messaging-service/model"
	"messaging-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
)

const (
	EventRefresh    = "conversation_refresh"
	EventMessageNew = "message_new"
)

// Room is the socket.io room of a conversation's live viewers.
func Room(conversationID string) socket.Room {
	return socket.Room("conversation:" + conversationID)
}

// Hub pushes conversation notifications to connected viewers. It implements
// the store layer's Broadcaster.
type Hub struct {
	server *socket.Server
	log    zerolog.Logger
}

// Init mounts the socket.io endpoint on app. rdb may be nil to keep rooms in
// process memory.
func Init(app *fiber.App, rdb *redis.Client, accessKey []byte, logger zerolog.Logger) *Hub {
	log.DEBUG = config.Bool("SOCKET_DEBUG", false)

	options := socket.DefaultServerOptions()
	options.SetServeClient(true)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(5 * time.Second)
	if rdb != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(context.Background(), rdb),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	server := socket.NewServer(nil, nil)

	server.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token, auth := client.Conn().Request().Query().Get("token")
		if !auth {
			next(socket.NewExtendedError("token required", nil))
			return
		}
		claims, err := utils.CheckAndExtractTokenMetadata(token, accessKey)
		if err != nil || claims.Otp {
			next(socket.NewExtendedError("invalid token", nil))
			return
		}
		client.Join(socket.Room(claims.Id))
		client.SetData(claims)
		next(nil)
	})

	app.Get("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))

	return &Hub{server: server, log: logger}
}

func (h *Hub) Server() *socket.Server {
	return h.server
}

func (h *Hub) Refresh(conversationID string) error {
	return h.emit(conversationID, EventRefresh, fiber.Map{"conversationId": conversationID})
}

func (h *Hub) MessageNew(conversationID string, message model.MessageView) error {
	return h.emit(conversationID, EventMessageNew, message)
}

func (h *Hub) emit(conversationID, event string, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("emit %s: %v", event, r)
		}
	}()
	h.server.To(Room(conversationID)).Emit(event, payload)
	return nil
}

func (h *Hub) Close() {
	h.server.Close(nil)
}
