package sync

import (
	"context"
	"time"
)

// RawMessage is a provider message as an untyped document keyed by Graph field names.
// Any field may be absent.
type RawMessage map[string]any

// Address is a named mailbox
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"required,email"`
}

// Attachment is attachment metadata; content is never stored
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size" validate:"gte=0"`
}

// NormalizedMessage is the validated record persisted to the message store
type NormalizedMessage struct {
	ID               string       `json:"id" validate:"required"`
	Subject          string       `json:"subject"`
	Body             string       `json:"body"`
	Sender           Address      `json:"sender"`
	ToRecipients     []Address    `json:"toRecipients" validate:"dive"`
	CcRecipients     []Address    `json:"ccRecipients" validate:"dive"`
	ReceivedDateTime time.Time    `json:"receivedDateTime" validate:"required"`
	IsRead           bool         `json:"isRead"`
	Attachments      []Attachment `json:"attachments" validate:"dive"`
}

// FetchWindow is the half-open interval [Start, End) requested from the provider
type FetchWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window
func (w FetchWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Token is a bearer credential for the provider API
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// OutgoingMail is a plain-text message to a single recipient
type OutgoingMail struct {
	Subject   string
	Body      string
	Recipient string
}

// CredentialProvider yields an access token for the provider API
type CredentialProvider interface {
	Acquire(ctx context.Context) (Token, error)
}

// MailFetcher lists messages received inside a window, newest first
type MailFetcher interface {
	Fetch(ctx context.Context, window FetchWindow, token Token) ([]RawMessage, error)
}

// MailSender submits a message for delivery
type MailSender interface {
	Send(ctx context.Context, mail OutgoingMail, token Token) error
}

// MessageStore is the persistence capability the writer depends on.
// Insert must return ErrDuplicateKey when a record with the same id exists.
type MessageStore interface {
	FindByID(ctx context.Context, id string) (*NormalizedMessage, error)
	Insert(ctx context.Context, msg NormalizedMessage) error
}
