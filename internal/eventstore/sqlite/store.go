package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Store is the message document store
type Store struct {
	DB *sql.DB

	// outboxSubject enables event rows when non-empty
	outboxSubject string
}

// Option configures a Store
type Option func(*Store)

// WithOutbox records an outbox event on subject for every inserted message
func WithOutbox(subject string) Option {
	return func(s *Store) { s.outboxSubject = subject }
}

// Open opens or creates the database at dbPath and applies the schema
func Open(dbPath string, opts ...Option) (*Store, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == MemoryPath {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{DB: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// FindByID returns the stored message or nil when absent
func (s *Store) FindByID(ctx context.Context, id string) (*sync.NormalizedMessage, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT document FROM messages WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}

	var msg sync.NormalizedMessage
	if err := json.Unmarshal([]byte(doc), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
	}
	return &msg, nil
}

// Insert stores msg and, when enabled, its outbox event in one transaction.
// It returns sync.ErrDuplicateKey if the id is already stored.
func (s *Store) Insert(ctx context.Context, msg sync.NormalizedMessage) error {
	doc, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, received_at, stored_at, document)
		VALUES (?, ?, ?, ?)
	`, msg.ID, msg.ReceivedDateTime.UnixMilli(), now.UnixMilli(), string(doc))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		return sync.ErrDuplicateKey
	}

	if s.outboxSubject != "" {
		payload, msgID, err := sync.NewEmailReceivedEvent(msg)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, now.Unix(), s.outboxSubject, sync.EventTypeEmailReceived, payload, msgID, now.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert outbox entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List returns stored messages, newest received first
func (s *Store) List(ctx context.Context, limit, offset int) ([]sync.NormalizedMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT document FROM messages
		ORDER BY received_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []sync.NormalizedMessage{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var msg sync.NormalizedMessage
		if err := json.Unmarshal([]byte(doc), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Count returns the number of stored messages
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// DequeueOutbox fetches unpublished messages that are due
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]sync.OutboxMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var messages []sync.OutboxMessage
	for rows.Next() {
		var msg sync.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.Payload, &msg.MsgID); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkPublished marks an outbox message as published
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE outbox SET published_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry bumps the retry count and pushes the next attempt back
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}
