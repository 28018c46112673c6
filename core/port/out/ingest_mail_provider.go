// Package out defines outbound ports for the ingestion core.
package out

import (
	"context"
	"fmt"
	"time"

	"ingest_server/core/domain"
)

// MailFolder is a folder of the remote mailbox.
type MailFolder struct {
	ID               string
	DisplayName      string
	ChildFolderCount int
}

// MessageSummary is the light listing shape returned by folder queries,
// most-recent first. Bodies and attachments require GetMessage /
// GetAttachments.
type MessageSummary struct {
	ID             string
	Subject        string
	SenderEmail    string
	ReceivedAt     time.Time
	HasAttachments bool
}

// MailProvider is the thin remote mail API port. Implementations retry
// transient failures internally per the retry policy; 4xx failures
// propagate immediately as ProviderError.
type MailProvider interface {
	ListRootFolders(ctx context.Context) ([]MailFolder, error)
	ListChildFolders(ctx context.Context, folderID string) ([]MailFolder, error)
	ListMessages(ctx context.Context, folderID string, max int) ([]MessageSummary, error)
	GetMessage(ctx context.Context, messageID string) (*domain.RawMessage, error)
	GetAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error)
}

// TokenProvider supplies a valid access token for the mailbox's service
// identity. Acquisition may block on a silent refresh or, as a last
// resort, an interactive device-code authorization.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// =============================================================================
// Provider errors
// =============================================================================

type ProviderErrorKind string

const (
	ProviderErrAuth         ProviderErrorKind = "auth"
	ProviderErrTokenExpired ProviderErrorKind = "token_expired"
	ProviderErrNotFound     ProviderErrorKind = "not_found"
	ProviderErrRateLimit    ProviderErrorKind = "rate_limit"
	ProviderErrMalformed    ProviderErrorKind = "malformed"
	ProviderErrServer       ProviderErrorKind = "server"
)

// ProviderError is a classified remote API failure. Retryable errors
// may succeed on retry; rate-limit errors additionally carry the
// server-provided Retry-After delay.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	Message    string
	Err        error
	retryable  bool
	retryAfter time.Duration
}

func NewProviderError(provider string, kind ProviderErrorKind, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Kind:      kind,
		Message:   message,
		Err:       err,
		retryable: retryable,
	}
}

// WithRetryAfter attaches a server-provided retry delay.
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	e.retryAfter = d
	return e
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider: %s (%s): %v", e.Provider, e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s provider: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed on retry.
func (e *ProviderError) Retryable() bool { return e.retryable }

// RetryAfter returns the server-provided delay, zero if none.
func (e *ProviderError) RetryAfter() time.Duration { return e.retryAfter }
