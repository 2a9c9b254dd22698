package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

// DefaultPageSize is the number of messages listed per fetch
const DefaultPageSize = 50

// Adapter implements MailFetcher and MailSender for Gmail
type Adapter struct {
	user     string
	endpoint string
	pageSize int64
}

// New creates an adapter for one mailbox. endpoint overrides the API base URL when set.
func New(user, endpoint string, pageSize int) *Adapter {
	if user == "" {
		user = "me"
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Adapter{user: user, endpoint: endpoint, pageSize: int64(pageSize)}
}

func (a *Adapter) service(ctx context.Context, tok sync.Token) (*gmail.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithTokenSource(src)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// Fetch lists inbox messages received inside window, newest first
func (a *Adapter) Fetch(ctx context.Context, window sync.FetchWindow, tok sync.Token) ([]sync.RawMessage, error) {
	svc, err := a.service(ctx, tok)
	if err != nil {
		return nil, &sync.FetchError{Err: err}
	}

	query := fmt.Sprintf("in:inbox after:%d before:%d", window.Start.Unix(), window.End.Unix()+1)
	list, err := svc.Users.Messages.List(a.user).Q(query).MaxResults(a.pageSize).Context(ctx).Do()
	if err != nil {
		return nil, &sync.FetchError{Err: fmt.Errorf("failed to list messages: %w", err)}
	}

	type fetched struct {
		internalDate int64
		raw          sync.RawMessage
	}
	items := make([]fetched, 0, len(list.Messages))
	for _, ref := range list.Messages {
		m, err := svc.Users.Messages.Get(a.user, ref.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, &sync.FetchError{Err: fmt.Errorf("failed to get message %s: %w", ref.Id, err)}
		}
		if !window.Contains(time.UnixMilli(m.InternalDate)) {
			continue
		}
		raw, err := decode(m)
		if err != nil {
			// id only, so the record is counted and then rejected by normalization
			logrus.WithError(err).WithField("message_id", m.Id).Warn("undecodable Gmail message")
			raw = sync.RawMessage{"id": m.Id}
		}
		items = append(items, fetched{internalDate: m.InternalDate, raw: raw})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].internalDate > items[j].internalDate })
	out := make([]sync.RawMessage, len(items))
	for i, it := range items {
		out[i] = it.raw
	}
	return out, nil
}

// Send composes a plain-text RFC 5322 message and submits it
func (a *Adapter) Send(ctx context.Context, m sync.OutgoingMail, tok sync.Token) error {
	svc, err := a.service(ctx, tok)
	if err != nil {
		return &sync.SendError{Err: err}
	}

	raw, err := compose(m, time.Now())
	if err != nil {
		return &sync.SendError{Err: err}
	}

	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	if _, err := svc.Users.Messages.Send(a.user, msg).Context(ctx).Do(); err != nil {
		return &sync.SendError{Err: fmt.Errorf("failed to send message: %w", err)}
	}
	return nil
}

func compose(m sync.OutgoingMail, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(m.Subject)
	h.SetAddressList("To", []*mail.Address{{Address: m.Recipient}})
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	return buf.Bytes(), nil
}

// decode parses a raw-format Gmail message into the Graph-shaped document the normalizer reads
func decode(m *gmail.Message) (sync.RawMessage, error) {
	data, err := base64.URLEncoding.DecodeString(m.Raw)
	if err != nil {
		if data, err = base64.RawURLEncoding.DecodeString(m.Raw); err != nil {
			return nil, fmt.Errorf("decode raw message: %w", err)
		}
	}

	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	raw := sync.RawMessage{
		"id":               m.Id,
		"receivedDateTime": time.UnixMilli(m.InternalDate).UTC().Format(time.RFC3339Nano),
		"isRead":           !hasLabel(m.LabelIds, "UNREAD"),
	}

	if subject, err := mr.Header.Subject(); err == nil {
		raw["subject"] = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		raw["from"] = recipient(from[0])
	}
	raw["toRecipients"] = recipients(&mr.Header, "To")
	raw["ccRecipients"] = recipients(&mr.Header, "Cc")

	var body string
	atts := []any{}
	for i := 0; ; i++ {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, err := h.ContentType()
			if err != nil || contentType != "text/plain" || body != "" {
				continue
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			body = string(b)
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, p.Body)
			id := strings.Trim(h.Get("Content-Id"), "<>")
			if id == "" {
				id = fmt.Sprintf("%s.%d", m.Id, i)
			}
			atts = append(atts, map[string]any{
				"id":          id,
				"name":        filename,
				"contentType": contentType,
				"size":        size,
			})
		}
	}
	raw["body"] = map[string]any{"contentType": "text", "content": body}
	raw["attachments"] = atts
	return raw, nil
}

func recipient(a *mail.Address) map[string]any {
	return map[string]any{"emailAddress": map[string]any{"name": a.Name, "address": a.Address}}
}

func recipients(h *mail.Header, key string) []any {
	list, err := h.AddressList(key)
	if err != nil {
		return []any{}
	}
	out := make([]any, 0, len(list))
	for _, a := range list {
		out = append(out, recipient(a))
	}
	return out
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
