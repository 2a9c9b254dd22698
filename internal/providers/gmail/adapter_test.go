package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

const multipartMessage = "From: Ada Lovelace <ada@example.com>\r\n" +
	"To: Bob <bob@example.com>, carol@example.com\r\n" +
	"Cc: Dan <dan@example.com>\r\n" +
	"Subject: =?utf-8?q?Quarterly_report?=\r\n" +
	"Date: Wed, 01 May 2024 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Numbers attached.\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"q1.csv\"\r\n" +
	"Content-ID: <att-1>\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"aGVsbG8=\r\n" +
	"--BOUNDARY--\r\n"

func encodeRaw(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func simpleMessage(subject string) string {
	return "From: sender@example.com\r\n" +
		"To: me@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body of " + subject + "\r\n"
}

func TestDecode_Multipart(t *testing.T) {
	received := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	raw, err := decode(&gmail.Message{
		Id:           "m1",
		Raw:          encodeRaw(multipartMessage),
		InternalDate: received.UnixMilli(),
		LabelIds:     []string{"INBOX", "UNREAD"},
	})
	require.NoError(t, err)

	msg, err := sync.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "Quarterly report", msg.Subject)
	assert.Equal(t, "Numbers attached.", strings.TrimSpace(msg.Body))
	assert.Equal(t, sync.Address{Name: "Ada Lovelace", Email: "ada@example.com"}, msg.Sender)
	assert.Equal(t, []sync.Address{{Name: "Bob", Email: "bob@example.com"}, {Email: "carol@example.com"}}, msg.ToRecipients)
	assert.Equal(t, []sync.Address{{Name: "Dan", Email: "dan@example.com"}}, msg.CcRecipients)
	assert.True(t, received.Equal(msg.ReceivedDateTime))
	assert.False(t, msg.IsRead)
	assert.Equal(t, []sync.Attachment{{ID: "att-1", Name: "q1.csv", ContentType: "text/csv", Size: 5}}, msg.Attachments)
}

func TestDecode_UnpaddedAndNoSender(t *testing.T) {
	content := "To: me@example.com\r\nSubject: anonymous\r\n\r\nhi\r\n"
	raw, err := decode(&gmail.Message{
		Id:           "m2",
		Raw:          base64.RawURLEncoding.EncodeToString([]byte(content)),
		InternalDate: time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	msg, err := sync.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, sync.UnknownSenderAddress, msg.Sender.Email)
	assert.True(t, msg.IsRead)
	assert.Empty(t, msg.Attachments)
}

func TestDecode_InvalidBase64(t *testing.T) {
	_, err := decode(&gmail.Message{Id: "bad", Raw: "!!!not base64!!!"})
	assert.Error(t, err)
}

func TestCompose_RoundTrip(t *testing.T) {
	out, err := compose(sync.OutgoingMail{Subject: "Hello", Body: "Plain text body", Recipient: "bob@example.com"}, time.Now())
	require.NoError(t, err)

	raw, err := decode(&gmail.Message{Id: "c1", Raw: encodeRaw(string(out)), InternalDate: time.Now().UnixMilli()})
	require.NoError(t, err)

	msg, err := sync.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Subject)
	assert.Equal(t, "Plain text body", msg.Body)
	assert.Equal(t, []sync.Address{{Email: "bob@example.com"}}, msg.ToRecipients)
}

type fakeGmail struct {
	messages map[string]*gmail.Message
	order    []string
	sent     []string
	query    string
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/gmail/v1/users/me/messages"
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == prefix && r.Method == http.MethodGet:
		f.query = r.URL.Query().Get("q")
		refs := make([]map[string]string, 0, len(f.order))
		for _, id := range f.order {
			refs = append(refs, map[string]string{"id": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": refs})
	case r.URL.Path == prefix+"/send" && r.Method == http.MethodPost:
		var body gmail.Message
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.sent = append(f.sent, body.Raw)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "sent-1"})
	case strings.HasPrefix(r.URL.Path, prefix+"/"):
		m, ok := f.messages[strings.TrimPrefix(r.URL.Path, prefix+"/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(m)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestAdapter_Fetch(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	at := func(h int) int64 { return day.Add(time.Duration(h) * time.Hour).UnixMilli() }

	fake := &fakeGmail{
		order: []string{"a", "b", "old", "broken"},
		messages: map[string]*gmail.Message{
			"a":      {Id: "a", Raw: encodeRaw(simpleMessage("a")), InternalDate: at(10)},
			"b":      {Id: "b", Raw: encodeRaw(simpleMessage("b")), InternalDate: at(12)},
			"old":    {Id: "old", Raw: encodeRaw(simpleMessage("old")), InternalDate: at(-2)},
			"broken": {Id: "broken", Raw: "***", InternalDate: at(11)},
		},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a := New("", srv.URL+"/", 10)
	window := sync.FetchWindow{Start: day, End: day.Add(24 * time.Hour)}

	msgs, err := a.Fetch(context.Background(), window, sync.Token{AccessToken: "tok"})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "b", msgs[0]["id"])
	assert.Equal(t, sync.RawMessage{"id": "broken"}, msgs[1])
	assert.Equal(t, "a", msgs[2]["id"])

	_, err = sync.Normalize(msgs[1])
	var verr *sync.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "in:inbox after:"+strconv.FormatInt(day.Unix(), 10)+" before:"+strconv.FormatInt(window.End.Unix()+1, 10), fake.query)
}

func TestAdapter_FetchError(t *testing.T) {
	fake := &fakeGmail{order: []string{"missing"}, messages: map[string]*gmail.Message{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := New("me", srv.URL+"/", 0).Fetch(context.Background(), sync.FetchWindow{Start: time.Now().Add(-time.Hour), End: time.Now()}, sync.Token{AccessToken: "tok"})
	var fetchErr *sync.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestAdapter_Send(t *testing.T) {
	fake := &fakeGmail{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	err := New("me", srv.URL+"/", 0).Send(context.Background(), sync.OutgoingMail{Subject: "Hi", Body: "there", Recipient: "bob@example.com"}, sync.Token{AccessToken: "tok"})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)

	decoded, err := base64.URLEncoding.DecodeString(fake.sent[0])
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "Subject: Hi")
	assert.Contains(t, string(decoded), "bob@example.com")
}
