// Package domain holds the core entities of the newsletter ingestion service.
package domain

import (
	"time"
)

// NewsletterStatus is the publication state of an ingested newsletter.
type NewsletterStatus string

const (
	StatusPublished     NewsletterStatus = "published"
	StatusDraftRejected NewsletterStatus = "draft_rejected"
)

// Newsletter is the persisted record produced by one successful
// ingestion of a message. At most one row exists per MessageID; rows are
// never mutated after creation except by an explicit re-ingest that
// deletes the prior row first.
type Newsletter struct {
	ID             int64            `db:"id" json:"id"`
	MessageID      string           `db:"message_id" json:"message_id"`
	Subject        string           `db:"subject" json:"subject"`
	SenderName     string           `db:"sender_name" json:"sender_name"`
	SenderEmail    string           `db:"sender_email" json:"sender_email"`
	ReceivedAt     time.Time        `db:"received_at" json:"received_at"`
	SanitizedHTML  string           `db:"sanitized_html" json:"sanitized_html"`
	AuthResults    string           `db:"auth_results" json:"auth_results"` // JSON-encoded AuthResults
	HasAttachments bool             `db:"has_attachments" json:"has_attachments"`
	HeroImagePath  *string          `db:"hero_image_path" json:"hero_image_path,omitempty"`
	Status         NewsletterStatus `db:"status" json:"status"`
	IngestedAt     time.Time        `db:"ingested_at" json:"ingested_at"`
}

// StoredImage is a resolved inline image written to the local asset
// directory. Its lifecycle is tied to the newsletter that owns it;
// repeated runs over the same message produce new files rather than
// overwriting, and superseded files are the coordinator's to clean up.
type StoredImage struct {
	FileName    string `json:"file_name"`
	ServePath   string `json:"serve_path"`
	MessageID   string `json:"message_id"`
	ContentHash string `json:"content_hash"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}
