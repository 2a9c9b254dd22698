package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventTypeEmailReceived tags events emitted for newly stored messages
const EventTypeEmailReceived = "email.received"

// EmailReceivedEvent is the payload published for every newly stored message
type EmailReceivedEvent struct {
	EventID          string    `json:"event_id"`
	Type             string    `json:"type"`
	TS               int64     `json:"ts"`
	MessageID        string    `json:"message_id"`
	Subject          string    `json:"subject"`
	Sender           string    `json:"sender"`
	ToAddrs          []string  `json:"to_addrs"`
	CcAddrs          []string  `json:"cc_addrs"`
	ReceivedDateTime time.Time `json:"received_date_time"`
	HasAttachments   bool      `json:"has_attachments"`
}

// NewEmailReceivedEvent builds the event payload and its broker dedupe id
func NewEmailReceivedEvent(msg NormalizedMessage) (payload []byte, dedupeID string, err error) {
	event := EmailReceivedEvent{
		EventID:          uuid.NewString(),
		Type:             EventTypeEmailReceived,
		TS:               time.Now().Unix(),
		MessageID:        msg.ID,
		Subject:          msg.Subject,
		Sender:           msg.Sender.Email,
		ToAddrs:          addresses(msg.ToRecipients),
		CcAddrs:          addresses(msg.CcRecipients),
		ReceivedDateTime: msg.ReceivedDateTime,
		HasAttachments:   len(msg.Attachments) > 0,
	}
	payload, err = json.Marshal(event)
	if err != nil {
		return nil, "", fmt.Errorf("marshal event: %w", err)
	}
	return payload, EventTypeEmailReceived + "|" + msg.ID, nil
}

func addresses(list []Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Email)
	}
	return out
}

// OutboxMessage is a pending event row
type OutboxMessage struct {
	ID      int64
	Subject string
	Payload []byte
	MsgID   string
}

// Outbox is the store side of event dispatch
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// Publisher delivers an event to a broker
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
}

// Dispatcher drains the outbox into a Publisher
type Dispatcher struct {
	outbox    Outbox
	publisher Publisher
	batchSize int
	idle      time.Duration
	backoff   time.Duration
	log       logrus.FieldLogger
}

// NewDispatcher creates an outbox dispatcher
func NewDispatcher(outbox Outbox, publisher Publisher, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		outbox:    outbox,
		publisher: publisher,
		batchSize: 100,
		idle:      500 * time.Millisecond,
		backoff:   10 * time.Second,
		log:       logger.WithField("component", "dispatcher"),
	}
}

// Run dispatches until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		n, err := d.DispatchOnce(ctx)
		wait := d.idle
		if err != nil {
			d.log.WithError(err).Error("error dequeuing outbox")
			wait = time.Second
		} else if n > 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// DispatchOnce publishes one batch and returns how many rows were dequeued
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	messages, err := d.outbox.DequeueOutbox(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		if err := d.publisher.Publish(ctx, msg.Subject, msg.Payload, msg.MsgID); err != nil {
			d.log.WithError(err).WithField("outbox_id", msg.ID).Warn("error publishing message")
			if err := d.outbox.MarkOutboxRetry(ctx, msg.ID, d.backoff); err != nil {
				d.log.WithError(err).WithField("outbox_id", msg.ID).Error("error scheduling retry")
			}
			continue
		}
		if err := d.outbox.MarkPublished(ctx, msg.ID); err != nil {
			d.log.WithError(err).WithField("outbox_id", msg.ID).Error("error marking message as published")
		}
	}
	return len(messages), nil
}
