package domain

import "time"

// RawMessage is a message fetched from the remote mailbox. It is
// transient: fetched fresh each run and never persisted verbatim.
type RawMessage struct {
	MessageID             string
	Subject               string
	SenderName            string
	SenderEmail           string
	ReceivedAt            time.Time
	BodyHTML              string
	BodyContentType       string // "html" or "text"
	AuthenticationResults string // raw Authentication-Results header value, empty if absent
	Attachments           []Attachment
}

// Attachment is one MIME part of a RawMessage. ContentID is present for
// inline parts referenced from the HTML via cid: URLs; the raw header
// value may carry angle-bracket wrapping.
type Attachment struct {
	ID          string
	Name        string
	ContentID   string
	ContentType string
	Size        int64
	IsInline    bool
	Data        []byte
}

// IsImage reports whether the attachment carries an image payload.
func (a Attachment) IsImage() bool {
	return len(a.ContentType) > 6 && a.ContentType[:6] == "image/"
}

// AuthResults holds the parsed outcome of an Authentication-Results
// header. Values are the raw mechanism results ("pass", "fail", ...) or
// "not_found" when the header does not mention the mechanism.
type AuthResults struct {
	SPF     string `json:"spf"`
	DKIM    string `json:"dkim"`
	DMARC   string `json:"dmarc"`
	Overall string `json:"overall"` // "pass", "fail", "partial" or "unknown"
}
