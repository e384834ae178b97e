package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

type Database struct {
	Conn   *sql.DB
	Driver string
}

func NewDatabase(driver, dsn string) (*Database, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if driver == DriverSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY under concurrent sends.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	return &Database{Conn: conn, Driver: driver}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

// Rebind rewrites '?' placeholders into the driver's native form.
func (d *Database) Rebind(query string) string {
	return Rebind(d.Driver, query)
}

// Rebind maps driver to its sqlx bind type: DOLLAR for pgx, QUESTION for sqlite3.
func Rebind(driver, query string) string {
	return sqlx.Rebind(sqlx.BindType(driver), query)
}

func (d *Database) AutoMigrate() error {
	boolType, boolFalse := "BOOLEAN", "FALSE"
	seqType := "BIGSERIAL"
	if d.Driver == DriverSQLite {
		boolType, boolFalse = "INTEGER", "0"
		seqType = "INTEGER NOT NULL DEFAULT 0"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT,
            role TEXT NOT NULL CHECK (role IN ('student', 'alumni')),
            department TEXT,
            batch TEXT,
            last_seen BIGINT NOT NULL DEFAULT 0
        )`,

		`CREATE INDEX IF NOT EXISTS idx_users_role ON users (role)`,

		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL,
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            text TEXT NOT NULL,
            is_read ` + boolType + ` NOT NULL DEFAULT ` + boolFalse + `,
            created_at BIGINT NOT NULL,
            seq ` + seqType + `
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_time ON messages (conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_read ON messages (receiver_id, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_time ON messages (sender_id, created_at)`,
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
