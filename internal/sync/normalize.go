package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// UnknownSenderAddress is stored as the sender when the raw message carries no from address
const UnknownSenderAddress = "unknown-sender@sender.invalid"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names so errors line up with the raw document
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize converts a raw provider document into a validated record.
// Only the id is mandatory; every other field has a default.
func Normalize(raw RawMessage) (NormalizedMessage, error) {
	id, ok := raw["id"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return NormalizedMessage{}, &MalformedMessageError{Reason: "missing id"}
	}

	x := &extractor{id: id}

	msg := NormalizedMessage{
		ID:      id,
		Subject: x.str(raw, "subject", "subject"),
		Body:    x.str(x.object(raw["body"], "body"), "content", "body.content"),
		Sender:  x.sender(raw["from"]),
		IsRead:  x.boolean(raw, "isRead", "isRead"),
	}
	msg.ToRecipients = x.recipients(raw["toRecipients"], "toRecipients")
	msg.CcRecipients = x.recipients(raw["ccRecipients"], "ccRecipients")
	msg.Attachments = x.attachments(raw["attachments"])
	msg.ReceivedDateTime = x.timestamp(raw["receivedDateTime"], "receivedDateTime")

	if x.err != nil {
		return NormalizedMessage{}, x.err
	}

	if err := validate.Struct(msg); err != nil {
		return NormalizedMessage{}, validationFailure(id, err)
	}

	return msg, nil
}

func validationFailure(id string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{MessageID: id, Field: "message", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	return &ValidationError{
		MessageID: id,
		Field:     field,
		Reason:    fmt.Sprintf("failed %q check on value %v", fe.Tag(), fe.Value()),
	}
}

// extractor pulls typed fields out of nested documents and keeps the first type error
type extractor struct {
	id  string
	err error
}

func (x *extractor) fail(field, reason string) {
	if x.err == nil {
		x.err = &ValidationError{MessageID: x.id, Field: field, Reason: reason}
	}
}

func (x *extractor) object(v any, field string) map[string]any {
	switch o := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return o
	case RawMessage:
		return o
	default:
		x.fail(field, fmt.Sprintf("expected object, got %T", v))
		return map[string]any{}
	}
}

func (x *extractor) list(v any, field string) []any {
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out
	default:
		x.fail(field, fmt.Sprintf("expected array, got %T", v))
		return nil
	}
}

func (x *extractor) str(m map[string]any, key, field string) string {
	switch s := m[key].(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		x.fail(field, fmt.Sprintf("expected string, got %T", m[key]))
		return ""
	}
}

func (x *extractor) boolean(m map[string]any, key, field string) bool {
	switch b := m[key].(type) {
	case nil:
		return false
	case bool:
		return b
	default:
		x.fail(field, fmt.Sprintf("expected boolean, got %T", m[key]))
		return false
	}
}

func (x *extractor) integer(m map[string]any, key, field string) int64 {
	switch n := m[key].(type) {
	case nil:
		return 0
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		if n != math.Trunc(n) {
			x.fail(field, fmt.Sprintf("expected integer, got %v", n))
			return 0
		}
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			x.fail(field, err.Error())
		}
		return i
	default:
		x.fail(field, fmt.Sprintf("expected integer, got %T", m[key]))
		return 0
	}
}

func (x *extractor) timestamp(v any, field string) time.Time {
	switch t := v.(type) {
	case nil:
		x.fail(field, "missing timestamp")
	case time.Time:
		if t.IsZero() {
			x.fail(field, "zero timestamp")
		}
		return t.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			x.fail(field, fmt.Sprintf("unparseable timestamp %q", t))
			return time.Time{}
		}
		return parsed.UTC()
	default:
		x.fail(field, fmt.Sprintf("expected timestamp string, got %T", v))
	}
	return time.Time{}
}

func (x *extractor) address(v any, field string) Address {
	ea := x.object(x.object(v, field)["emailAddress"], field+".emailAddress")
	return Address{
		Name:  x.str(ea, "name", field+".emailAddress.name"),
		Email: x.str(ea, "address", field+".emailAddress.address"),
	}
}

func (x *extractor) sender(v any) Address {
	addr := x.address(v, "from")
	if strings.TrimSpace(addr.Email) == "" {
		addr.Email = UnknownSenderAddress
	}
	return addr
}

func (x *extractor) recipients(v any, field string) []Address {
	items := x.list(v, field)
	out := make([]Address, 0, len(items))
	for i, item := range items {
		out = append(out, x.address(item, fmt.Sprintf("%s[%d]", field, i)))
	}
	return out
}

func (x *extractor) attachments(v any) []Attachment {
	items := x.list(v, "attachments")
	out := make([]Attachment, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("attachments[%d]", i)
		a := x.object(item, field)
		out = append(out, Attachment{
			ID:          x.str(a, "id", field+".id"),
			Name:        x.str(a, "name", field+".name"),
			ContentType: x.str(a, "contentType", field+".contentType"),
			Size:        x.integer(a, "size", field+".size"),
		})
	}
	return out
}
