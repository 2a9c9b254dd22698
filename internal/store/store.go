package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrUserNotFound is returned when a contact references an unknown user
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail is returned when a user with the same email exists
	ErrDuplicateEmail = errors.New("user email already registered")
)

type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Age       *int      `db:"age" json:"age,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Contact struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	ContactName string    `db:"contact_name" json:"contact_name"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	Email       string    `db:"email" json:"email"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Directory stores users and their contacts
type Directory struct {
	db *sqlx.DB
}

// NewDirectory wraps an open sqlite handle and runs pending migrations
func NewDirectory(db *sql.DB) (*Directory, error) {
	d := &Directory{db: sqlx.NewDb(db, "sqlite")}
	if err := d.runMigrations(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

func (d *Directory) runMigrations() error {
	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS directory_schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema version table: %w", err)
	}

	var current int
	if err := d.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM directory_schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := d.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := d.db.Exec("INSERT INTO directory_schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// CreateUser assigns an id and stores the user
func (d *Directory) CreateUser(ctx context.Context, u User) (*User, error) {
	u.ID = uuid.NewString()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = time.Now().UTC()

	_, err := d.db.NamedExecContext(ctx, `
		INSERT INTO users (id, name, email, age, created_at)
		VALUES (:id, :name, :email, :age, :created_at)
	`, u)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return &u, nil
}

// GetUser returns the user or nil when absent
func (d *Directory) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, `SELECT id, name, email, age, created_at FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

// AddContact stores a contact for an existing user
func (d *Directory) AddContact(ctx context.Context, c Contact) (*Contact, error) {
	user, err := d.GetUser(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()

	_, err = d.db.NamedExecContext(ctx, `
		INSERT INTO contacts (id, user_id, contact_name, phone_number, email, created_at)
		VALUES (:id, :user_id, :contact_name, :phone_number, :email, :created_at)
	`, c)
	if err != nil {
		return nil, fmt.Errorf("inserting contact: %w", err)
	}
	return &c, nil
}

// ListContacts returns a user's contacts, optionally filtered by exact contact name
func (d *Directory) ListContacts(ctx context.Context, userID, contactName string) ([]Contact, error) {
	query := `SELECT id, user_id, contact_name, phone_number, email, created_at FROM contacts WHERE user_id = ?`
	args := []interface{}{userID}
	if contactName != "" {
		query += " AND contact_name = ?"
		args = append(args, contactName)
	}
	query += " ORDER BY created_at, id"

	contacts := []Contact{}
	if err := d.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		return nil, fmt.Errorf("listing contacts for %s: %w", userID, err)
	}
	return contacts, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
