package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"campusconnect/internal/db"
	"campusconnect/internal/metrics"
)

// MessageStore is the store of record for messages.
type MessageStore interface {
	// Insert persists msg, assigning ID and CreatedAt when unset. If a message with
	// the same ID already exists it is returned unchanged and created is false.
	Insert(ctx context.Context, msg *Message) (stored *Message, created bool, err error)
	// GetMessage returns nil, nil when no message has the id.
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListConversation(ctx context.Context, key Key) ([]*Message, error)
	// ListForUser returns every message sent or received by userID, newest first.
	ListForUser(ctx context.Context, userID string) ([]*Message, error)
	MarkRead(ctx context.Context, key Key, readerID string) (int, error)
	Stats(ctx context.Context, userID string) (Stats, error)
}

type Repository struct {
	db  *db.Database
	now func() time.Time
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database, now: time.Now}
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, text, is_read, created_at`

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (r *Repository) Insert(ctx context.Context, msg *Message) (*Message, bool, error) {
	defer observe("insert", time.Now())

	m := *msg
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	m.CreatedAt = m.CreatedAt.UTC().Truncate(time.Millisecond)

	// seq orders rows sharing a created_at. Postgres fills it from its sequence;
	// sqlite has a single writer connection, so MAX+1 cannot race.
	insert := `INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	if r.db.Driver == db.DriverSQLite {
		insert = `INSERT INTO messages (` + messageColumns + `, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages))
		ON CONFLICT (id) DO NOTHING`
	}
	query := r.db.Rebind(insert)
	res, err := r.db.Conn.ExecContext(ctx, query,
		m.ID, string(m.ConversationKey), m.SenderID, m.RecipientID, m.Text, m.Read, m.CreatedAt.UnixMilli())
	if err != nil {
		return nil, false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return &m, true, nil
	}

	existing, err := r.GetMessage(ctx, m.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("message vanished after conflicting insert")
	}
	return existing, false, nil
}

func (r *Repository) GetMessage(ctx context.Context, id string) (*Message, error) {
	defer observe("get", time.Now())

	row := r.db.Conn.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *Repository) ListConversation(ctx context.Context, key Key) ([]*Message, error) {
	defer observe("list_conversation", time.Now())

	query := r.db.Rebind(`SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`)
	return r.queryMessages(ctx, query, string(key))
}

func (r *Repository) ListForUser(ctx context.Context, userID string) ([]*Message, error) {
	defer observe("list_user", time.Now())

	query := r.db.Rebind(`SELECT ` + messageColumns + ` FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at DESC, seq DESC`)
	return r.queryMessages(ctx, query, userID, userID)
}

func (r *Repository) MarkRead(ctx context.Context, key Key, readerID string) (int, error) {
	defer observe("mark_read", time.Now())

	query := r.db.Rebind(`UPDATE messages SET is_read = ?
		WHERE conversation_id = ? AND receiver_id = ? AND is_read = ?`)
	res, err := r.db.Conn.ExecContext(ctx, query, true, string(key), readerID, false)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *Repository) Stats(ctx context.Context, userID string) (Stats, error) {
	defer observe("stats", time.Now())

	var s Stats
	query := r.db.Rebind(`SELECT
			COALESCE(SUM(CASE WHEN sender_id = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN receiver_id = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN receiver_id = ? AND is_read = ? THEN 1 ELSE 0 END), 0)
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?`)
	err := r.db.Conn.QueryRowContext(ctx, query, userID, userID, userID, false, userID, userID).
		Scan(&s.TotalSent, &s.TotalReceived, &s.UnreadCount)
	if err != nil {
		return Stats{}, err
	}
	s.Total = s.TotalSent + s.TotalReceived
	return s, nil
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := r.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	m := &Message{}
	var key string
	var createdAt int64
	if err := s.Scan(&m.ID, &key, &m.SenderID, &m.RecipientID, &m.Text, &m.Read, &createdAt); err != nil {
		return nil, err
	}
	m.ConversationKey = Key(key)
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return m, nil
}
