package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campusconnect/internal/db"
)

// Repository is the read side of the user directory.
// Accounts are created by the auth service; SaveUser exists for seeding.
type Repository struct {
	db *db.Database
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database}
}

// GetUser returns nil, nil when no user has the given id.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var email, department, batch sql.NullString
	var lastSeen int64
	query := r.db.Rebind(`SELECT id, name, email, role, department, batch, last_seen FROM users WHERE id = ?`)

	err := r.db.Conn.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &email, &u.Role, &department, &batch, &lastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Email = email.String
	u.Department = department.String
	u.Batch = batch.String
	if lastSeen > 0 {
		u.LastSeen = time.UnixMilli(lastSeen).UTC()
	}
	return u, nil
}

func (r *Repository) SaveUser(ctx context.Context, u *User) error {
	if !u.Role.Valid() {
		return errors.New("invalid role")
	}
	lastSeen := int64(0)
	if !u.LastSeen.IsZero() {
		lastSeen = u.LastSeen.UnixMilli()
	}
	query := r.db.Rebind(`
		INSERT INTO users (id, name, email, role, department, batch, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			department = excluded.department,
			batch = excluded.batch,
			last_seen = excluded.last_seen`)
	_, err := r.db.Conn.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, string(u.Role), u.Department, u.Batch, lastSeen)
	return err
}
