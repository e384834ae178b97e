package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 128 * 1024          // 5000 characters as 12-byte \u escapes, plus trimmed whitespace and the envelope.
	sendBuffer     = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID       string
	UserID   string
	Username string

	Hub     *Hub
	Service *Service
	Conn    *websocket.Conn
	// Buffered channel of outbound frames. Only Hub.Run writes or closes it.
	Send chan []byte

	log zerolog.Logger
}

func NewClient(id, userID, username string, hub *Hub, svc *Service, conn *websocket.Conn, log zerolog.Logger) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		Hub:      hub,
		Service:  svc,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		log:      log.With().Str("conn_id", id).Str("user_id", userID).Logger(),
	}
}

// ReadPump pumps events from the websocket connection into the messaging core.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.replyError(fmt.Errorf("%w: malformed event", ErrInvalidMessage))
			continue
		}
		c.dispatch(ctx, env)
	}
}

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per websocket message: clients parse each as a single envelope.
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, env Envelope) {
	switch env.Type {
	case EventUserOnline:
		var claimed string
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &claimed); err != nil {
				c.replyError(fmt.Errorf("%w: malformed user-online", ErrInvalidMessage))
				return
			}
		}
		if claimed != "" && claimed != c.UserID {
			c.replyError(fmt.Errorf("%w: cannot announce as another user", ErrNotAuthorized))
			return
		}
		c.Hub.Announce(c)

	case EventLogout:
		c.Hub.Logout(c)

	case EventSendMessage:
		var req SendRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.replyError(fmt.Errorf("%w: malformed send-message", ErrInvalidMessage))
			return
		}
		if req.SenderID == "" {
			req.SenderID = c.UserID
		}
		if req.SenderID != c.UserID {
			c.replyError(fmt.Errorf("%w: sender does not match connection", ErrNotAuthorized))
			return
		}
		msg, err := c.Service.Send(ctx, req)
		if err != nil {
			c.replyError(err)
			return
		}
		c.reply(EventMessageSent, MessageSent{Success: true, Message: msg})

	case EventMarkRead:
		var req MarkReadRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.replyError(fmt.Errorf("%w: malformed mark-read", ErrInvalidMessage))
			return
		}
		if _, err := c.Service.MarkRead(ctx, req.ConversationKey, c.UserID); err != nil {
			c.replyError(err)
		}

	case EventTyping:
		var req TypingRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		// Typing is best-effort in both directions; bad input is dropped.
		if err := c.Service.Typing(ctx, c.UserID, req.ReceiverID); err != nil {
			c.log.Debug().Err(err).Msg("typing dropped")
		}

	default:
		c.replyError(fmt.Errorf("%w: unknown event %q", ErrInvalidMessage, env.Type))
	}
}

func (c *Client) reply(eventType string, data any) {
	frame, err := Encode(eventType, data)
	if err != nil {
		c.log.Error().Err(err).Str("event", eventType).Msg("encode reply failed")
		return
	}
	c.Hub.Reply(c, frame)
}

func (c *Client) replyError(err error) {
	c.log.Debug().Err(err).Msg("event rejected")
	c.reply(EventError, NewErrorEvent(err))
}
