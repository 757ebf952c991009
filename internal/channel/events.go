package channel

import (
	"encoding/json"
	"fmt"

	"github.com/nhle/mailboxd/internal/model"
)

// EventName identifies a message on the realtime channel. The catalogue
// is closed: every name has exactly one payload shape, and unknown
// inbound names are a decode error rather than a silent drop.
type EventName string

// Outbound event names (client to server).
const (
	EventInit             EventName = "init"
	EventGetFolders       EventName = "getFolders"
	EventGetFolderPage    EventName = "getFolderPage"
	EventGetMessageDetail EventName = "getMessageDetail"
	EventMarkRead         EventName = "markRead"
	EventMarkImportant    EventName = "markImportant"
	EventDeleteMessage    EventName = "deleteMessage"
	EventSendMessage      EventName = "sendMessage"
	EventReplyMessage     EventName = "replyMessage"
)

// Inbound event names (server to client).
const (
	EventFolders          EventName = "folders"
	EventFolderPage       EventName = "folderPage"
	EventMessageDetail    EventName = "messageDetail"
	EventMessageRead      EventName = "messageRead"
	EventImportantChanged EventName = "importantChanged"
	EventMessageDeleted   EventName = "messageDeleted"
	EventNewMessage       EventName = "newMessage"
	EventSyncComplete     EventName = "syncComplete"
	EventEnrichmentStatus EventName = "enrichmentStatus"
	EventError            EventName = "error"
)

// Envelope is the wire frame for a single channel message: the event
// name plus its JSON-encoded payload.
type Envelope struct {
	Name    EventName       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals a typed payload into an Envelope. A nil payload
// produces an envelope with no payload field.
func NewEnvelope(name EventName, payload any) (Envelope, error) {
	env := Envelope{Name: name}
	if payload == nil {
		return env, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", name, err)
	}
	env.Payload = data
	return env, nil
}

// Outbound payloads. Every request carries the account identity; the
// server correlates responses by the embedded folder/message ids, not
// by request tokens.

type InitPayload struct {
	Account string `json:"accountIdentity"`
}

type GetFoldersPayload struct {
	Account  string `json:"accountIdentity"`
	FolderID string `json:"folderId,omitempty"`
}

type GetFolderPagePayload struct {
	Account  string `json:"accountIdentity"`
	FolderID string `json:"folderId"`
	Page     int    `json:"page"`
}

type GetMessageDetailPayload struct {
	Account   string `json:"accountIdentity"`
	MessageID string `json:"messageId"`
}

type MarkReadPayload struct {
	Account   string `json:"accountIdentity"`
	MessageID string `json:"messageId"`
}

type MarkImportantPayload struct {
	Account   string `json:"accountIdentity"`
	MessageID string `json:"messageId"`
	Flag      bool   `json:"flag"`
}

type DeleteMessagePayload struct {
	Account   string `json:"accountIdentity"`
	MessageID string `json:"messageId"`
}

type SendMessagePayload struct {
	Account  string                `json:"accountIdentity"`
	Composed model.ComposedMessage `json:"composed"`
}

type ReplyMessagePayload struct {
	Account   string                `json:"accountIdentity"`
	MessageID string                `json:"messageId"`
	Composed  model.ComposedMessage `json:"composed"`
}

// Inbound payloads.

type FoldersPayload struct {
	Folders []model.Folder `json:"folders"`
}

type FolderPagePayload struct {
	FolderID      string                 `json:"folderId"`
	Page          int                    `json:"page"`
	Messages      []model.MessageSummary `json:"messages"`
	NextPageToken string                 `json:"nextPageToken,omitempty"`
}

type MessageDetailPayload struct {
	Detail model.MessageDetail `json:"detail"`
}

type MessageReadPayload struct {
	MessageID string `json:"messageId"`
}

type ImportantChangedPayload struct {
	MessageID string `json:"messageId"`
	Flag      bool   `json:"flag"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

// NewMessagePayload is the pushed summary of a freshly arrived message.
type NewMessagePayload struct {
	Message model.MessageSummary `json:"message"`
}

type SyncCompletePayload struct{}

type EnrichmentStatusPayload struct {
	MessageID string            `json:"messageId"`
	Status    string            `json:"status"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// ErrorPayload is a server-side request failure. The server sends
// either a bare string or an object carrying the failed operation and
// message id so the client can roll back the matching optimistic
// change.
type ErrorPayload struct {
	Op        EventName `json:"op,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Message   string    `json:"message"`
}

// UnmarshalJSON accepts both the object form and a plain JSON string.
func (p *ErrorPayload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = ErrorPayload{Message: s}
		return nil
	}

	type plain ErrorPayload
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding error payload: %w", err)
	}
	*p = ErrorPayload(obj)
	return nil
}

// DecodeInbound decodes an inbound envelope into its typed payload.
// The returned value is one of the *Payload structs above.
func DecodeInbound(env Envelope) (any, error) {
	decode := func(v any) (any, error) {
		if len(env.Payload) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Name, err)
		}
		return v, nil
	}

	switch env.Name {
	case EventFolders:
		return decode(&FoldersPayload{})
	case EventFolderPage:
		return decode(&FolderPagePayload{})
	case EventMessageDetail:
		return decode(&MessageDetailPayload{})
	case EventMessageRead:
		return decode(&MessageReadPayload{})
	case EventImportantChanged:
		return decode(&ImportantChangedPayload{})
	case EventMessageDeleted:
		return decode(&MessageDeletedPayload{})
	case EventNewMessage:
		return decode(&NewMessagePayload{})
	case EventSyncComplete:
		return decode(&SyncCompletePayload{})
	case EventEnrichmentStatus:
		return decode(&EnrichmentStatusPayload{})
	case EventError:
		return decode(&ErrorPayload{})
	default:
		return nil, fmt.Errorf("unknown inbound event %q", env.Name)
	}
}
