package router

import (
	"context"

	"messaging-service/access"
	"messaging-service/apperr"
	"messaging-service/middleware"
	"messaging-service/ratelimit"
	"messaging-service/service"
	"messaging-service/socketio"
	"messaging-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/zishang520/socket.io/v2/socket"
)

// Socket events. Each request is answered on the same event name with the
// REST envelope.
const (
	EventConversationJoin     = "conversation_join"
	EventConversationLeave    = "conversation_leave"
	EventConversationList     = "conversation_list"
	EventConversationMessages = "conversation_messages"
	EventConversationRead     = "conversation_read"
	EventMessageSend          = "message_send"
	EventUserStatus           = "user_status"
)

type SocketOptions struct {
	Services *service.Services
	Checker  *access.Checker
	Limiter  middleware.RateChecker
	Log      zerolog.Logger
}

type JoinResult struct {
	ConversationID string `json:"conversationId"`
	Joined         bool   `json:"joined"`
}

type UserStatus struct {
	ID     string `json:"id"`
	Online bool   `json:"online"`
}

// socketEvents answers the viewer requests on behalf of one connected caller.
type socketEvents struct {
	opts   SocketOptions
	online func(userID string) bool
}

// Socket registers the viewer events. Clients join a conversation room to
// receive refresh and message_new pushes; only participants may join.
func Socket(server *socket.Server, opts SocketOptions) {
	events := &socketEvents{
		opts: opts,
		online: func(userID string) bool {
			room := socket.Room(userID)
			for _, r := range server.Sockets().Adapter().Rooms().Keys() {
				if r == room {
					return true
				}
			}
			return false
		},
	}

	server.On("connection", func(clients ...interface{}) {
		client := clients[0].(*socket.Socket)
		claims, ok := client.Data().(*utils.TokenMetadata)
		if !ok {
			client.Disconnect(true)
			return
		}
		caller := access.Caller{ID: claims.Id, CommunityID: claims.Community}

		client.On(EventConversationJoin, func(args ...interface{}) {
			result := events.join(context.Background(), caller, firstString(args))
			if result.Joined {
				client.Join(socketio.Room(result.ConversationID))
			}
			client.Emit(EventConversationJoin, result)
		})

		client.On(EventConversationLeave, func(args ...interface{}) {
			client.Leave(socketio.Room(firstString(args)))
		})

		handle := func(event string, fn func(context.Context, access.Caller, []interface{}) (any, error)) {
			client.On(event, func(args ...interface{}) {
				data, err := fn(context.Background(), caller, args)
				client.Emit(event, events.reply(event, caller, data, err))
			})
		}
		handle(EventConversationList, events.conversations)
		handle(EventConversationMessages, events.messages)
		handle(EventConversationRead, events.read)
		handle(EventMessageSend, events.send)
		handle(EventUserStatus, events.status)
	})
}

func (e *socketEvents) join(ctx context.Context, caller access.Caller, id string) JoinResult {
	result := JoinResult{ConversationID: id}
	member, err := e.opts.Checker.IsParticipant(ctx, id, caller.ID)
	if err != nil {
		e.opts.Log.Error().Err(err).Str("conversation_id", id).Msg("participant check failed")
	}
	result.Joined = member
	return result
}

func (e *socketEvents) conversations(ctx context.Context, caller access.Caller, _ []interface{}) (any, error) {
	return e.opts.Services.Conversations.List(ctx, caller)
}

func (e *socketEvents) messages(ctx context.Context, caller access.Caller, args []interface{}) (any, error) {
	return e.opts.Services.Messages.List(ctx, caller, firstString(args))
}

func (e *socketEvents) read(ctx context.Context, caller access.Caller, args []interface{}) (any, error) {
	id := firstString(args)
	n, err := e.opts.Services.Conversations.MarkRead(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"conversationId": id, "marked": n}, nil
}

// send takes (conversationId, content, [attachmentIds]) and is charged to the
// same message budget as the REST route.
func (e *socketEvents) send(ctx context.Context, caller access.Caller, args []interface{}) (any, error) {
	if e.opts.Limiter != nil {
		if err := e.opts.Limiter.Check(ctx, caller.ID, ratelimit.ClassMessage); err != nil {
			return nil, err
		}
	}
	in := service.SendInput{}
	if len(args) > 1 {
		body, ok := args[1].(string)
		if !ok {
			return nil, apperr.Validation("content must be a string")
		}
		in.Body = body
	}
	if len(args) > 2 {
		raw, ok := args[2].([]interface{})
		if !ok {
			return nil, apperr.Validation("attachmentIds must be a list")
		}
		for _, v := range raw {
			id, ok := v.(string)
			if !ok {
				return nil, apperr.Validation("attachmentIds must be strings")
			}
			in.AttachmentIDs = append(in.AttachmentIDs, id)
		}
	}
	return e.opts.Services.Messages.Send(ctx, caller, firstString(args), in)
}

// status reports which of the caller's conversation partners are connected.
func (e *socketEvents) status(ctx context.Context, caller access.Caller, _ []interface{}) (any, error) {
	conversations, err := e.opts.Services.Conversations.List(ctx, caller)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{caller.ID: true}
	out := []UserStatus{}
	for _, c := range conversations {
		for _, id := range c.Participants {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, UserStatus{ID: id, Online: e.online(id)})
		}
	}
	return out, nil
}

func (e *socketEvents) reply(event string, caller access.Caller, data any, err error) fiber.Map {
	if err == nil {
		return fiber.Map{"status": "success", "message": nil, "data": data}
	}
	if apperr.Status(err) == fiber.StatusInternalServerError {
		e.opts.Log.Error().Err(err).Str("event", event).Str("user_id", caller.ID).Msg("socket request failed")
	}
	return fiber.Map{"status": "error", "message": apperr.Message(err), "data": nil}
}

func firstString(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	s, _ := args[0].(string)
	return s
}
