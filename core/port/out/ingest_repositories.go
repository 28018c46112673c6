package out

import (
	"context"

	"ingest_server/core/domain"
)

// NewsletterRepository is the persisted record store contract. Only the
// ingest coordinator writes; the dashboard reads through the HTTP API.
type NewsletterRepository interface {
	// Exists reports whether a row for messageID has been persisted.
	Exists(ctx context.Context, messageID string) (bool, error)
	// Create inserts a new row. message_id carries a unique constraint;
	// a duplicate insert fails rather than overwriting.
	Create(ctx context.Context, n *domain.Newsletter) error
	// DeleteByMessageID removes a prior row for an explicit re-ingest.
	// Returns false if no row existed.
	DeleteByMessageID(ctx context.Context, messageID string) (bool, error)
	GetByID(ctx context.Context, id int64) (*domain.Newsletter, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.Newsletter, error)
}

// ReportRepository stores ingestion run summaries for operators.
type ReportRepository interface {
	SaveRunSummary(ctx context.Context, s *domain.RunSummary) error
	ListRecentRuns(ctx context.Context, limit int) ([]*domain.RunSummary, error)
}

// SeenCache is a fast dedup check in front of the record store. It is
// advisory: a cache miss falls through to the repository, and eviction
// never loses data.
type SeenCache interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	MarkSeen(ctx context.Context, messageID string) error
	Forget(ctx context.Context, messageID string) error
}

// ImageStore persists resolved inline images as locally servable files.
// File naming is deterministic per {message, content hash, sequence,
// creation time} so repeated runs produce new files, never overwrites.
type ImageStore interface {
	Save(ctx context.Context, messageID string, seq int, contentType string, data []byte) (*domain.StoredImage, error)
}
