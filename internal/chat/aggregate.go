package chat

import (
	"context"
	"fmt"
	"sort"
)

type conversationGroup struct {
	counterpart string
	last        *Message
	unread      int
}

// ListConversations derives the requester's conversations from full history,
// newest first. Self pairs and pairs whose roles no longer differ are hidden.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	me, err := lookupUser(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", userID, err)
	}

	groups := groupByCounterpart(userID, msgs)

	conversations := make([]Conversation, 0, len(groups))
	for _, g := range groups {
		other, err := s.users.GetUser(ctx, g.counterpart)
		if err != nil {
			return nil, fmt.Errorf("lookup user %s: %w", g.counterpart, err)
		}
		if other == nil {
			continue
		}
		if CheckAccess(me.ID, other.ID, me.Role, other.Role) != nil {
			continue
		}
		key, err := CanonicalKey(userID, other.ID)
		if err != nil {
			continue
		}
		conversations = append(conversations, Conversation{
			ConversationKey: key,
			OtherUser:       other.Profile(),
			LastMessage: LastMessage{
				Text:      g.last.Text,
				SenderID:  g.last.SenderID,
				CreatedAt: g.last.CreatedAt,
			},
			UnreadCount: g.unread,
			UpdatedAt:   g.last.CreatedAt,
		})
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

// groupByCounterpart buckets userID's messages by the other participant. The
// latest message of each group wins; msgs is newest first, so on a timestamp
// tie the earlier entry is the later write.
func groupByCounterpart(userID string, msgs []*Message) []*conversationGroup {
	byPartner := make(map[string]*conversationGroup)
	var order []*conversationGroup
	for _, m := range msgs {
		partner := m.SenderID
		if partner == userID {
			partner = m.RecipientID
		}
		if partner == userID {
			continue
		}
		g, ok := byPartner[partner]
		if !ok {
			g = &conversationGroup{counterpart: partner, last: m}
			byPartner[partner] = g
			order = append(order, g)
		}
		if m.CreatedAt.After(g.last.CreatedAt) {
			g.last = m
		}
		if m.RecipientID == userID && !m.Read {
			g.unread++
		}
	}
	return order
}
