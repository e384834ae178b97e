package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"campusconnect/internal/metrics"
)

// RelayResult is the outcome of a best-effort push to a user.
type RelayResult string

const (
	RelayLocal   RelayResult = "local"
	RelayRemote  RelayResult = "remote"
	RelayOffline RelayResult = "offline"
)

// Relay pushes an encoded event to whichever connection currently speaks for a user.
type Relay interface {
	SendTo(ctx context.Context, userID string, frame []byte) RelayResult
}

type routed struct {
	userID string
	frame  []byte
	result chan bool
}

type direct struct {
	client *Client
	frame  []byte
}

type logoutRequest struct {
	client *Client
}

// Hub owns every connection of this instance. Run is the only goroutine that
// touches the clients map or writes to a client's Send channel.
type Hub struct {
	id       string
	registry *Registry
	clients  map[string]*Client // connection id -> client
	bus      Bus
	log      zerolog.Logger

	Register   chan *Client
	Unregister chan *Client
	announce   chan *Client
	logout     chan logoutRequest
	route      chan routed
	reply      chan direct
	remote     chan RemoteEnvelope
	done       chan struct{}
}

// NewHub creates a hub. bus may be nil for a single-instance deployment.
func NewHub(registry *Registry, bus Bus, log zerolog.Logger) *Hub {
	return &Hub{
		id:         uuid.NewString(),
		registry:   registry,
		clients:    make(map[string]*Client),
		bus:        bus,
		log:        log.With().Str("component", "hub").Logger(),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		announce:   make(chan *Client),
		logout:     make(chan logoutRequest),
		route:      make(chan routed),
		reply:      make(chan direct, 64),
		remote:     make(chan RemoteEnvelope, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) ID() string { return h.id }

func (h *Hub) Registry() *Registry { return h.registry }

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.Send)
			}
			metrics.Connections.Set(0)
			metrics.OnlineUsers.Set(0)
			return

		case client := <-h.Register:
			h.clients[client.ID] = client
			metrics.Connections.Inc()

		case client := <-h.Unregister:
			h.removeClient(client)

		case client := <-h.announce:
			if _, ok := h.clients[client.ID]; !ok {
				continue
			}
			online := h.registry.SetOnline(client.UserID, client.ID)
			metrics.OnlineUsers.Set(float64(len(online)))
			h.log.Info().Str("user_id", client.UserID).Str("conn_id", client.ID).
				Int("online", len(online)).Msg("user online")
			h.broadcast(mustEncode(EventOnlineUsers, online))
			h.push(client, mustEncode(EventYouAreOnline, YouAreOnline{UserID: client.UserID, OnlineUsers: online}))

		case req := <-h.logout:
			if h.registry.Logout(req.client.UserID, req.client.ID) {
				h.log.Info().Str("user_id", req.client.UserID).Msg("user logged out")
				h.wentOffline(req.client.UserID)
			}

		case rt := <-h.route:
			rt.result <- h.deliverLocal(rt.userID, rt.frame)

		case d := <-h.reply:
			if _, ok := h.clients[d.client.ID]; ok {
				h.push(d.client, d.frame)
			}

		case env := <-h.remote:
			h.deliverLocal(env.TargetID, env.Payload)
		}
	}
}

// SendTo delivers frame to userID's authoritative connection, falling back to the
// bus when the user is not connected here. It never returns an error: relays are best-effort.
func (h *Hub) SendTo(ctx context.Context, userID string, frame []byte) RelayResult {
	res := make(chan bool, 1)
	select {
	case h.route <- routed{userID: userID, frame: frame, result: res}:
	case <-h.done:
		return RelayOffline
	case <-ctx.Done():
		return RelayOffline
	}
	if <-res {
		return RelayLocal
	}
	if h.bus == nil {
		return RelayOffline
	}
	err := h.bus.Publish(ctx, RemoteEnvelope{Origin: h.id, TargetID: userID, Payload: frame})
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("bus publish failed")
		return RelayOffline
	}
	return RelayRemote
}

// Reply queues frame for c regardless of presence; used for acks and errors.
func (h *Hub) Reply(c *Client, frame []byte) {
	select {
	case h.reply <- direct{client: c, frame: frame}:
	case <-h.done:
	}
}

// Announce marks c as its user's authoritative connection.
func (h *Hub) Announce(c *Client) {
	select {
	case h.announce <- c:
	case <-h.done:
	}
}

// Logout tears down presence for c without closing the connection.
func (h *Hub) Logout(c *Client) {
	select {
	case h.logout <- logoutRequest{client: c}:
	case <-h.done:
	}
}

// Join registers c with the hub.
func (h *Hub) Join(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters c; safe to call after Run has stopped.
func (h *Hub) Leave(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// ListenRemote feeds envelopes published by other instances into Run until ctx ends.
func (h *Hub) ListenRemote(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Subscribe(ctx, func(env RemoteEnvelope) {
		if env.Origin == h.id || env.TargetID == "" {
			return
		}
		select {
		case h.remote <- env:
		case <-ctx.Done():
		case <-h.done:
		}
	})
}

func (h *Hub) deliverLocal(userID string, frame []byte) bool {
	connID, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	return h.push(c, frame)
}

// push is a non-blocking write; a client whose buffer is full is dropped.
func (h *Hub) push(c *Client, frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		h.log.Warn().Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("send buffer full, dropping client")
		h.removeClient(c)
		return false
	}
}

func (h *Hub) broadcast(frame []byte) {
	for _, c := range h.clients {
		h.push(c, frame)
	}
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	close(c.Send)
	metrics.Connections.Dec()

	if userID, ok := h.registry.SetOffline(c.ID); ok {
		h.log.Info().Str("user_id", userID).Str("conn_id", c.ID).Msg("user offline")
		h.wentOffline(userID)
	}
}

func (h *Hub) wentOffline(userID string) {
	online := h.registry.Snapshot()
	metrics.OnlineUsers.Set(float64(len(online)))
	h.broadcast(mustEncode(EventOnlineUsers, online))
	h.broadcast(mustEncode(EventUserOffline, userID))
}
