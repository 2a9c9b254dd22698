package natsjs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher wraps NATS JetStream for publishing mail events
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
}

// NewPublisher connects to url and binds a JetStream context for stream
func NewPublisher(url, stream string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("graph-mail-sync"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js, stream: stream}, nil
}

// EnsureStream creates the stream capturing subjectPrefix.> if it does not exist
func (p *Publisher) EnsureStream(ctx context.Context, subjectPrefix string) error {
	if info, err := p.js.StreamInfo(p.stream, nats.Context(ctx)); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{subjectPrefix, subjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish publishes payload with msgID as the JetStream dedupe id
func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte, msgID string) error {
	if _, err := p.js.Publish(subject, payload, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
