// Package client is a Go client for the campusconnect websocket API. It is
// used by the load tester and by integration tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"campusconnect/internal/chat"
)

const writeWait = 10 * time.Second

// Conn is one authenticated websocket session.
type Conn struct {
	ws     *websocket.Conn
	events chan chat.Envelope
	Typing *TypingTracker

	writeMu sync.Mutex
	done    chan struct{}
	err     error
}

// Dial connects to wsURL (e.g. ws://host/ws) authenticating with token.
func Dial(ctx context.Context, wsURL, token string) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	c := &Conn{
		ws:     ws,
		events: make(chan chat.Envelope, 256),
		Typing: NewTypingTracker(DefaultTypingQuiet, nil),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields every server event. It is closed when the connection ends.
func (c *Conn) Events() <-chan chat.Envelope { return c.events }

// Err returns the error that ended the read loop, if any.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		var env chat.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}
		c.observe(env)
		select {
		case c.events <- env:
		default:
			// Reader is not keeping up; events are best-effort.
		}
	}
}

// observe keeps local typing state in step with incoming events.
func (c *Conn) observe(env chat.Envelope) {
	switch env.Type {
	case chat.EventUserTyping:
		var ti chat.TypingIndicator
		if json.Unmarshal(env.Data, &ti) == nil {
			c.Typing.Signal(string(ti.ConversationKey), ti.FromID)
		}
	case chat.EventReceiveMessage:
		var m chat.Message
		if json.Unmarshal(env.Data, &m) == nil {
			c.Typing.Clear(string(m.ConversationKey), m.SenderID)
		}
	}
}

func (c *Conn) emit(eventType string, data any) error {
	frame, err := chat.Encode(eventType, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) Announce() error { return c.emit(chat.EventUserOnline, nil) }

func (c *Conn) Logout() error { return c.emit(chat.EventLogout, nil) }

func (c *Conn) SendMessage(req chat.SendRequest) error { return c.emit(chat.EventSendMessage, req) }

func (c *Conn) MarkRead(conversation string) error {
	return c.emit(chat.EventMarkRead, chat.MarkReadRequest{ConversationKey: conversation})
}

func (c *Conn) SendTyping(receiverID, conversation string) error {
	return c.emit(chat.EventTyping, chat.TypingRequest{ReceiverID: receiverID, ConversationKey: conversation})
}

// ErrClosed is returned by Await when the connection ends first.
var ErrClosed = errors.New("connection closed")

// Await returns the next event of eventType, discarding others.
func (c *Conn) Await(ctx context.Context, eventType string) (chat.Envelope, error) {
	return c.AwaitAny(ctx, eventType)
}

// AwaitAny returns the next event whose type is one of types.
func (c *Conn) AwaitAny(ctx context.Context, types ...string) (chat.Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return chat.Envelope{}, ctx.Err()
		case env, ok := <-c.events:
			if !ok {
				return chat.Envelope{}, ErrClosed
			}
			for _, t := range types {
				if env.Type == t {
					return env, nil
				}
			}
		}
	}
}

func (c *Conn) Close() error {
	c.Typing.Stop()
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}
