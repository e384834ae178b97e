package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"campusconnect/internal/metrics"
	"campusconnect/internal/user"
)

// DefaultStoreTimeout bounds a single store or directory operation.
const DefaultStoreTimeout = 5 * time.Second

// Service is the messaging core: delivery, history, read receipts, typing and listings.
type Service struct {
	store MessageStore
	users user.Directory
	relay Relay
	log   zerolog.Logger
	locks *keyedMutex

	StoreTimeout time.Duration
}

func NewService(store MessageStore, users user.Directory, relay Relay, log zerolog.Logger) *Service {
	return &Service{
		store:        store,
		users:        users,
		relay:        relay,
		log:          log.With().Str("component", "chat").Logger(),
		locks:        newKeyedMutex(),
		StoreTimeout: DefaultStoreTimeout,
	}
}

// storeContext detaches ctx from its caller's cancellation so a write started
// before a disconnect still completes, and bounds it by StoreTimeout.
func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.StoreTimeout)
}

// normalizeText trims text and enforces the length bounds.
func normalizeText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("%w: message text is required", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return "", fmt.Errorf("%w: message too long (max %d characters)", ErrInvalidMessage, MaxMessageLength)
	}
	return trimmed, nil
}

// prepare validates req and returns the unsaved message. Both CreateMessage and
// Send go through it so the access rules cannot diverge.
func (s *Service) prepare(ctx context.Context, req SendRequest) (*Message, error) {
	text, err := normalizeText(req.Text)
	if err != nil {
		return nil, err
	}
	if _, _, err := resolvePair(ctx, s.users, req.SenderID, req.RecipientID); err != nil {
		return nil, err
	}
	key, err := CanonicalKey(req.SenderID, req.RecipientID)
	if err != nil {
		return nil, err
	}
	if req.ConversationKey != "" && req.ConversationKey != string(key) {
		s.log.Debug().Str("given", req.ConversationKey).Str("canonical", string(key)).
			Msg("client conversation key normalized")
	}
	return &Message{
		ID:              req.ID,
		ConversationKey: key,
		SenderID:        req.SenderID,
		RecipientID:     req.RecipientID,
		Text:            text,
	}, nil
}

// persist writes msg unless a message with its ID is already durable.
func (s *Service) persist(ctx context.Context, msg *Message) (*Message, error) {
	stored, created, err := s.store.Insert(ctx, msg)
	if err != nil {
		s.log.Error().Err(err).Str("conversation", string(msg.ConversationKey)).Msg("persist message failed")
		return nil, &DeliveryError{Err: err}
	}
	if !created && (stored.SenderID != msg.SenderID || stored.RecipientID != msg.RecipientID) {
		return nil, fmt.Errorf("%w: message %s belongs to another conversation", ErrNotAuthorized, stored.ID)
	}
	if created {
		metrics.MessagesPersisted.Inc()
	}
	return stored, nil
}

func (s *Service) reject(err error) error {
	metrics.MessagesRejected.WithLabelValues(ErrorCode(err)).Inc()
	return err
}

// CreateMessage is the durable write without relay. A client-supplied ID makes it idempotent.
func (s *Service) CreateMessage(ctx context.Context, req SendRequest) (*Message, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	msg, err := s.prepare(ctx, req)
	if err != nil {
		return nil, s.reject(err)
	}
	unlock := s.locks.Lock(string(msg.ConversationKey))
	defer unlock()

	stored, err := s.persist(ctx, msg)
	if err != nil {
		return nil, s.reject(err)
	}
	return stored, nil
}

// Send validates, persists and relays a message to its recipient if connected.
// The returned record is what the sender's acknowledgement carries. A request
// whose ID is already durable is relayed without a second write.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	msg, err := s.prepare(ctx, req)
	if err != nil {
		return nil, s.reject(err)
	}

	// Relay order within a conversation follows persistence order.
	unlock := s.locks.Lock(string(msg.ConversationKey))
	defer unlock()

	stored, err := s.persist(ctx, msg)
	if err != nil {
		return nil, s.reject(err)
	}

	frame, err := Encode(EventReceiveMessage, stored)
	if err != nil {
		return stored, nil
	}
	result := s.relay.SendTo(ctx, stored.RecipientID, frame)
	metrics.Relays.WithLabelValues(EventReceiveMessage, string(result)).Inc()
	s.log.Debug().Str("message_id", stored.ID).Str("to", stored.RecipientID).
		Str("relay", string(result)).Msg("message sent")
	return stored, nil
}

// History returns the conversation between a and b in creation order.
func (s *Service) History(ctx context.Context, requesterID, a, b string) ([]*Message, error) {
	if requesterID != a && requesterID != b {
		return nil, fmt.Errorf("%w: %s is not part of this conversation", ErrNotAuthorized, requesterID)
	}
	key, err := CanonicalKey(a, b)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	msgs, err := s.store.ListConversation(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list conversation %s: %w", key, err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return msgs, nil
}

// MarkRead flips every unread message of key addressed to readerID and notifies
// the other party when anything changed. The notification is fire-and-forget.
func (s *Service) MarkRead(ctx context.Context, key string, readerID string) (int, error) {
	k := Key(key)
	otherID, err := k.Other(readerID)
	if err != nil {
		return 0, err
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	n, err := s.store.MarkRead(sctx, k, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read %s: %w", k, err)
	}
	if n == 0 {
		return 0, nil
	}
	metrics.ReadReceipts.Add(float64(n))

	frame, err := Encode(EventMessagesRead, ReadReceipt{ConversationKey: k, ReaderID: readerID, Count: n})
	if err == nil {
		result := s.relay.SendTo(sctx, otherID, frame)
		metrics.Relays.WithLabelValues(EventMessagesRead, string(result)).Inc()
	}
	return n, nil
}

// Typing relays a typing signal to toID. Nothing is stored; offline recipients miss it.
// The pair must pass the same access check as a send.
func (s *Service) Typing(ctx context.Context, fromID, toID string) error {
	key, err := CanonicalKey(fromID, toID)
	if err != nil {
		return err
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, _, err := resolvePair(sctx, s.users, fromID, toID); err != nil {
		return err
	}
	frame, err := Encode(EventUserTyping, TypingIndicator{ConversationKey: key, FromID: fromID})
	if err != nil {
		return err
	}
	result := s.relay.SendTo(ctx, toID, frame)
	metrics.Relays.WithLabelValues(EventUserTyping, string(result)).Inc()
	return nil
}

// UnreadCount is the number of unread messages addressed to userID across all conversations.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	st, err := s.Stats(ctx, userID)
	if err != nil {
		return 0, err
	}
	return st.UnreadCount, nil
}

func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	st, err := s.store.Stats(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("message stats for %s: %w", userID, err)
	}
	return st, nil
}
