package outlook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

// DefaultPageSize is the number of messages requested per fetch
const DefaultPageSize = 50

var messageFields = []string{"id", "subject", "body", "from", "toRecipients", "ccRecipients", "receivedDateTime", "isRead"}

// Adapter implements MailFetcher and MailSender for Outlook/Microsoft Graph
type Adapter struct {
	userID   string
	folder   string
	pageSize int32
}

// New creates an adapter for one mailbox
func New(userID, folder string, pageSize int) *Adapter {
	if folder == "" {
		folder = "inbox"
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Adapter{userID: userID, folder: folder, pageSize: int32(pageSize)}
}

func (a *Adapter) client(tok sync.Token) (*msgraphsdk.GraphServiceClient, error) {
	cred := &staticTokenCredential{token: tok}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	return client, nil
}

// Fetch lists folder messages received inside window, newest first
func (a *Adapter) Fetch(ctx context.Context, window sync.FetchWindow, tok sync.Token) ([]sync.RawMessage, error) {
	client, err := a.client(tok)
	if err != nil {
		return nil, &sync.FetchError{Err: err}
	}

	filter := windowFilter(window)
	requestConfig := &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
			Filter:  &filter,
			Orderby: []string{"receivedDateTime desc"},
			Top:     Int32Ptr(a.pageSize),
			Select:  messageFields,
			Expand:  []string{"attachments"},
		},
	}

	result, err := client.Users().ByUserId(a.userID).MailFolders().ByMailFolderId(a.folder).Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, &sync.FetchError{Err: describe(err)}
	}

	messages := result.GetValue()
	out := make([]sync.RawMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		out = append(out, toRaw(m))
	}
	return out, nil
}

// Send submits a plain-text message from the mailbox and saves it to Sent Items
func (a *Adapter) Send(ctx context.Context, mail sync.OutgoingMail, tok sync.Token) error {
	client, err := a.client(tok)
	if err != nil {
		return &sync.SendError{Err: err}
	}

	body := users.NewItemSendMailPostRequestBody()
	body.SetMessage(newMessage(mail))
	save := true
	body.SetSaveToSentItems(&save)

	if err := client.Users().ByUserId(a.userID).SendMail().Post(ctx, body, nil); err != nil {
		return &sync.SendError{Err: describe(err)}
	}
	return nil
}

func windowFilter(w sync.FetchWindow) string {
	return fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s",
		w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}

func newMessage(mail sync.OutgoingMail) models.Messageable {
	msg := models.NewMessage()
	msg.SetSubject(&mail.Subject)

	content := models.NewItemBody()
	contentType := models.TEXT_BODYTYPE
	content.SetContentType(&contentType)
	content.SetContent(&mail.Body)
	msg.SetBody(content)

	addr := models.NewEmailAddress()
	addr.SetAddress(&mail.Recipient)
	to := models.NewRecipient()
	to.SetEmailAddress(addr)
	msg.SetToRecipients([]models.Recipientable{to})
	return msg
}

// toRaw converts an SDK message into the Graph-shaped document the normalizer reads
func toRaw(m models.Messageable) sync.RawMessage {
	raw := sync.RawMessage{}
	setString(raw, "id", m.GetId())
	setString(raw, "subject", m.GetSubject())

	if b := m.GetBody(); b != nil {
		body := map[string]any{}
		setString(body, "content", b.GetContent())
		if ct := b.GetContentType(); ct != nil {
			body["contentType"] = ct.String()
		}
		raw["body"] = body
	}

	if from := m.GetFrom(); from != nil {
		raw["from"] = recipient(from)
	}
	raw["toRecipients"] = recipients(m.GetToRecipients())
	raw["ccRecipients"] = recipients(m.GetCcRecipients())

	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		raw["receivedDateTime"] = rcvd.UTC().Format(time.RFC3339Nano)
	}
	if read := m.GetIsRead(); read != nil {
		raw["isRead"] = *read
	}

	atts := make([]any, 0, len(m.GetAttachments()))
	for _, att := range m.GetAttachments() {
		if att == nil {
			continue
		}
		doc := map[string]any{}
		setString(doc, "id", att.GetId())
		setString(doc, "name", att.GetName())
		setString(doc, "contentType", att.GetContentType())
		if size := att.GetSize(); size != nil {
			doc["size"] = int64(*size)
		}
		atts = append(atts, doc)
	}
	raw["attachments"] = atts
	return raw
}

func recipient(r models.Recipientable) map[string]any {
	doc := map[string]any{}
	if ea := r.GetEmailAddress(); ea != nil {
		addr := map[string]any{}
		setString(addr, "name", ea.GetName())
		setString(addr, "address", ea.GetAddress())
		doc["emailAddress"] = addr
	}
	return doc
}

func recipients(list []models.Recipientable) []any {
	out := make([]any, 0, len(list))
	for _, r := range list {
		if r != nil {
			out = append(out, recipient(r))
		}
	}
	return out
}

func setString(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

// describe surfaces the Graph error code and message when present
func describe(err error) error {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		if main := odataErr.GetErrorEscaped(); main != nil {
			var code, msg string
			if c := main.GetCode(); c != nil {
				code = *c
			}
			if m := main.GetMessage(); m != nil {
				msg = *m
			}
			return fmt.Errorf("graph error %s: %s: %w", code, msg, err)
		}
	}
	return err
}

// staticTokenCredential implements the Azure credential interface over an acquired token
type staticTokenCredential struct {
	token sync.Token
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	expires := c.token.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(1 * time.Hour)
	}
	return azcore.AccessToken{
		Token:     c.token.AccessToken,
		ExpiresOn: expires,
	}, nil
}

// Int32Ptr returns a pointer to an int32
func Int32Ptr(i int32) *int32 {
	return &i
}
