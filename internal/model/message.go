package model

import "time"

// MessageSummary is the lightweight per-message metadata used for
// folder list views. Summaries are the unit stored in the paged cache.
type MessageSummary struct {
	// ID is the message identifier, unique within an account.
	ID string `json:"id"`

	// Folder is the ID of the folder the message belongs to.
	Folder string `json:"folder"`

	// From is the sender display string.
	From string `json:"from"`

	// Subject is the message subject line.
	Subject string `json:"subject"`

	// Preview is a short excerpt of the body.
	Preview string `json:"preview"`

	// Timestamp is when the message was received.
	Timestamp time.Time `json:"timestamp"`

	// Read reports whether the message has been read.
	Read bool `json:"read"`

	// Important reports whether the message is marked important.
	Important bool `json:"important"`

	// Flagged reports whether the message is flagged.
	Flagged bool `json:"flagged"`

	// Meta holds derived metadata attached by enrichment events
	// (e.g., classification labels). May be nil.
	Meta map[string]string `json:"meta,omitempty"`
}

// Attachment describes a single attachment on a message detail.
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  []byte `json:"content,omitempty"`
}

// MessageDetail is the full representation of a single message,
// fetched on demand and never stored in the paged cache.
type MessageDetail struct {
	MessageSummary

	// TextBody is the plain-text body content.
	TextBody string `json:"textBody"`

	// HTMLBody is the HTML body content, if any.
	HTMLBody string `json:"htmlBody,omitempty"`

	// Attachments holds the message attachments.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ComposedMessage is an outgoing message authored by the user,
// for send and reply operations.
type ComposedMessage struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// MessagePatch is a partial update to a cached message summary.
// Nil fields are left unchanged.
type MessagePatch struct {
	Read      *bool
	Important *bool
	Flagged   *bool
	Preview   *string
	Meta      map[string]string
}

// Apply writes the patch's non-nil fields onto the summary. Meta
// entries are merged key by key rather than replaced wholesale.
func (p MessagePatch) Apply(m *MessageSummary) {
	if p.Read != nil {
		m.Read = *p.Read
	}
	if p.Important != nil {
		m.Important = *p.Important
	}
	if p.Flagged != nil {
		m.Flagged = *p.Flagged
	}
	if p.Preview != nil {
		m.Preview = *p.Preview
	}
	if len(p.Meta) > 0 {
		if m.Meta == nil {
			m.Meta = make(map[string]string, len(p.Meta))
		}
		for k, v := range p.Meta {
			m.Meta[k] = v
		}
	}
}

// Bool returns a pointer to b, for building patches inline.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s, for building patches inline.
func String(s string) *string { return &s }
