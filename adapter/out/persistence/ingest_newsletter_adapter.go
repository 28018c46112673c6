// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
)

const uniqueViolationCode = "23505"

// NewsletterAdapter implements out.NewsletterRepository using PostgreSQL.
type NewsletterAdapter struct {
	db *sqlx.DB
}

// NewNewsletterAdapter creates a new NewsletterAdapter.
func NewNewsletterAdapter(db *sqlx.DB) *NewsletterAdapter {
	return &NewsletterAdapter{db: db}
}

// newsletterRow represents the database row for newsletters.
type newsletterRow struct {
	ID             int64          `db:"id"`
	MessageID      string         `db:"message_id"`
	Subject        string         `db:"subject"`
	SenderName     string         `db:"sender_name"`
	SenderEmail    string         `db:"sender_email"`
	ReceivedAt     time.Time      `db:"received_at"`
	SanitizedHTML  string         `db:"sanitized_html"`
	AuthResults    string         `db:"auth_results"`
	HasAttachments bool           `db:"has_attachments"`
	HeroImagePath  sql.NullString `db:"hero_image_path"`
	Status         string         `db:"status"`
	IngestedAt     time.Time      `db:"ingested_at"`
}

func (r *newsletterRow) toEntity() *domain.Newsletter {
	n := &domain.Newsletter{
		ID:             r.ID,
		MessageID:      r.MessageID,
		Subject:        r.Subject,
		SenderName:     r.SenderName,
		SenderEmail:    r.SenderEmail,
		ReceivedAt:     r.ReceivedAt,
		SanitizedHTML:  r.SanitizedHTML,
		AuthResults:    r.AuthResults,
		HasAttachments: r.HasAttachments,
		Status:         domain.NewsletterStatus(r.Status),
		IngestedAt:     r.IngestedAt,
	}
	if r.HeroImagePath.Valid {
		n.HeroImagePath = &r.HeroImagePath.String
	}
	return n
}

// Exists reports whether a newsletter row exists for messageID.
func (a *NewsletterAdapter) Exists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM newsletters WHERE message_id = $1)`

	if err := a.db.GetContext(ctx, &exists, query, messageID); err != nil {
		return false, fmt.Errorf("failed to check newsletter existence: %w", err)
	}
	return exists, nil
}

// Create inserts a new newsletter. The unique constraint on message_id
// turns a duplicate insert into ErrDuplicate rather than an overwrite.
func (a *NewsletterAdapter) Create(ctx context.Context, n *domain.Newsletter) error {
	query := `
		INSERT INTO newsletters (
			message_id, subject, sender_name, sender_email, received_at,
			sanitized_html, auth_results, has_attachments, hero_image_path,
			status, ingested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var hero sql.NullString
	if n.HeroImagePath != nil {
		hero = sql.NullString{String: *n.HeroImagePath, Valid: true}
	}

	err := a.db.QueryRowContext(ctx, query,
		n.MessageID, n.Subject, n.SenderName, n.SenderEmail, n.ReceivedAt,
		n.SanitizedHTML, n.AuthResults, n.HasAttachments, hero,
		string(n.Status), n.IngestedAt,
	).Scan(&n.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("newsletter %s: %w", n.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert newsletter: %w", err)
	}
	return nil
}

// DeleteByMessageID removes a prior row for an explicit re-ingest.
func (a *NewsletterAdapter) DeleteByMessageID(ctx context.Context, messageID string) (bool, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM newsletters WHERE message_id = $1`, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to delete newsletter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// GetByID retrieves a newsletter by its database ID.
func (a *NewsletterAdapter) GetByID(ctx context.Context, id int64) (*domain.Newsletter, error) {
	var row newsletterRow
	query := `SELECT * FROM newsletters WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("newsletter %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get newsletter: %w", err)
	}
	return row.toEntity(), nil
}

// ListRecent returns the newest newsletters by received time.
func (a *NewsletterAdapter) ListRecent(ctx context.Context, limit int) ([]*domain.Newsletter, error) {
	var rows []newsletterRow
	query := `SELECT * FROM newsletters ORDER BY received_at DESC LIMIT $1`

	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list newsletters: %w", err)
	}

	newsletters := make([]*domain.Newsletter, len(rows))
	for i := range rows {
		newsletters[i] = rows[i].toEntity()
	}
	return newsletters, nil
}

var _ out.NewsletterRepository = (*NewsletterAdapter)(nil)
