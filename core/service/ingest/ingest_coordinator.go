package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"
)

// ErrRunInFlight is returned when a trigger arrives while a run is
// already executing. The trigger is a no-op, never queued.
var ErrRunInFlight = apperr.Conflict("an ingestion run is already in flight")

// CoordinatorConfig carries the per-run knobs.
type CoordinatorConfig struct {
	Folder      FolderSpec
	MaxMessages int
}

// Coordinator orchestrates one ingestion run: resolve folder, list
// messages, then per message fetch → validate → unwrap links → resolve
// images → sanitize → persist. It is the only writer of persisted
// state. Messages are processed sequentially; image file naming depends
// on a run-local sequence counter.
type Coordinator struct {
	cfg       CoordinatorConfig
	provider  out.MailProvider
	folders   *FolderResolver
	validator *SenderValidator
	unwrapper *LinkUnwrapper
	sanitizer *ContentSanitizer
	images    out.ImageStore
	repo      out.NewsletterRepository
	seen      out.SeenCache
	reports   out.ReportRepository
	log       *logger.Logger

	running atomic.Bool
}

func NewCoordinator(
	cfg CoordinatorConfig,
	provider out.MailProvider,
	validator *SenderValidator,
	unwrapper *LinkUnwrapper,
	sanitizer *ContentSanitizer,
	images out.ImageStore,
	repo out.NewsletterRepository,
	seen out.SeenCache,
	reports out.ReportRepository,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		provider:  provider,
		folders:   NewFolderResolver(provider),
		validator: validator,
		unwrapper: unwrapper,
		sanitizer: sanitizer,
		images:    images,
		repo:      repo,
		seen:      seen,
		reports:   reports,
		log:       logger.WithField("component", "coordinator"),
	}
}

// Run executes one ingestion run. Only one run is permitted in flight;
// a concurrent trigger returns ErrRunInFlight. With force set,
// already-ingested messages are deleted and re-ingested instead of
// skipped. The returned summary is also saved to the report store.
func (c *Coordinator) Run(ctx context.Context, force bool) (*domain.RunSummary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer c.running.Store(false)

	summary := &domain.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := c.log.WithRun(summary.RunID)
	log.WithField("force", force).Info("ingestion run started")

	err := c.run(ctx, force, summary, log)

	summary.FinishedAt = time.Now().UTC()
	c.saveReport(ctx, summary, log)

	log.WithFields(map[string]any{
		"fetched":   summary.Fetched,
		"persisted": summary.Persisted,
		"skipped":   summary.Skipped,
		"rejected":  summary.Rejected,
		"errors":    summary.Errors,
		"aborted":   summary.Aborted,
	}).Info("ingestion run finished")

	return summary, err
}

func (c *Coordinator) run(ctx context.Context, force bool, summary *domain.RunSummary, log *logger.Logger) error {
	// Folders may be renamed between runs, so the reference is
	// re-resolved every time.
	folder, err := c.folders.Resolve(ctx, c.cfg.Folder)
	if err != nil {
		return c.abort(summary, fmt.Sprintf("folder resolution failed: %v", err), err, log)
	}
	log.WithFields(map[string]any{
		"folder_id":   folder.FolderID,
		"folder_path": folder.DisplayPath,
	}).Info("folder resolved")

	messages, err := c.provider.ListMessages(ctx, folder.FolderID, c.cfg.MaxMessages)
	if err != nil {
		return c.abort(summary, fmt.Sprintf("message listing failed: %v", err), err, log)
	}
	summary.Fetched = len(messages)

	// One resolver per run: its sequence counter keeps image file
	// names collision-free across the run's messages.
	resolver := NewInlineImageResolver(c.images)

	for _, msg := range messages {
		result, err := c.processMessage(ctx, msg, force, resolver, log)
		summary.Record(result)
		if err != nil && apperr.IsRunFatal(err) {
			// Stop before the next message; everything already
			// persisted this run stays.
			return c.abort(summary, fmt.Sprintf("run-fatal failure on message %s: %v", msg.ID, err), err, log)
		}
		if ctx.Err() != nil {
			return c.abort(summary, "run cancelled", ctx.Err(), log)
		}
	}
	return nil
}

func (c *Coordinator) processMessage(ctx context.Context, msg out.MessageSummary, force bool, resolver *InlineImageResolver, log *logger.Logger) (domain.MessageResult, error) {
	result := domain.MessageResult{MessageID: msg.ID, Subject: msg.Subject}
	log = log.WithMessage(msg.ID)

	// Dedup before any processing work, so repeat runs never write
	// redundant image files.
	if !force {
		if c.alreadyIngested(ctx, msg.ID, log) {
			result.Outcome = domain.OutcomeSkipped
			result.Reason = "already ingested"
			return result, nil
		}
	} else {
		if err := c.forgetPrior(ctx, msg.ID, log); err != nil {
			result.Outcome = domain.OutcomeErrored
			result.Reason = fmt.Sprintf("failed to remove prior record for re-ingest: %v", err)
			return result, err
		}
	}

	raw, err := c.provider.GetMessage(ctx, msg.ID)
	if err != nil {
		return c.messageError(result, "fetch failed", classifyProviderError(err), log)
	}
	if msg.HasAttachments {
		raw.Attachments, err = c.provider.GetAttachments(ctx, msg.ID)
		if err != nil {
			return c.messageError(result, "attachment fetch failed", classifyProviderError(err), log)
		}
	}

	verdict := c.validator.Validate(raw)
	if !verdict.Accepted {
		log.WithField("reason", verdict.Reason).Warn("message rejected by sender validation")
		result.Outcome = domain.OutcomeRejected
		result.Reason = verdict.Reason
		return result, nil
	}

	body, err := bodyAsHTML(raw)
	if err != nil {
		return c.messageError(result, "unusable body", err, log)
	}

	// Stage order is load-bearing: unwrapping and cid resolution must
	// run before sanitization or its URL-scheme check would strip the
	// references they rewrite.
	unwrapped := c.unwrapper.Unwrap(body)
	resolved, err := resolver.Resolve(ctx, unwrapped, raw.Attachments, msg.ID)
	if err != nil {
		return c.messageError(result, "inline image resolution failed",
			apperr.MalformedContent("inline image resolution failed", err), log)
	}
	sanitized := c.sanitizer.Sanitize(resolved.HTML)

	authJSON, err := json.Marshal(verdict.Auth)
	if err != nil {
		return c.messageError(result, "auth results encoding failed",
			apperr.Internal("auth results encoding failed", err), log)
	}

	newsletter := &domain.Newsletter{
		MessageID:      msg.ID,
		Subject:        raw.Subject,
		SenderName:     senderDisplay(raw),
		SenderEmail:    raw.SenderEmail,
		ReceivedAt:     raw.ReceivedAt,
		SanitizedHTML:  string(sanitized),
		AuthResults:    string(authJSON),
		HasAttachments: len(raw.Attachments) > 0,
		HeroImagePath:  resolved.HeroImagePath,
		Status:         domain.StatusPublished,
		IngestedAt:     time.Now().UTC(),
	}
	if err := c.repo.Create(ctx, newsletter); err != nil {
		return c.messageError(result, "persist failed",
			apperr.PersistenceFailed("newsletter insert failed", err), log)
	}

	if err := c.seen.MarkSeen(ctx, msg.ID); err != nil {
		// Advisory cache only; the repository stays authoritative.
		log.WithError(err).Warn("failed to mark message in seen cache")
	}

	log.WithField("images", len(resolved.Stored)).Info("message persisted")
	result.Outcome = domain.OutcomePersisted
	return result, nil
}

// alreadyIngested consults the seen cache first and falls through to
// the repository; the cache is advisory and never authoritative.
func (c *Coordinator) alreadyIngested(ctx context.Context, messageID string, log *logger.Logger) bool {
	if seen, err := c.seen.Seen(ctx, messageID); err == nil && seen {
		return true
	} else if err != nil {
		log.WithError(err).Warn("seen cache lookup failed, falling back to repository")
	}

	exists, err := c.repo.Exists(ctx, messageID)
	if err != nil {
		log.WithError(err).Warn("dedup lookup failed, treating message as new")
		return false
	}
	if exists {
		if err := c.seen.MarkSeen(ctx, messageID); err != nil {
			log.WithError(err).Warn("failed to backfill seen cache")
		}
	}
	return exists
}

func (c *Coordinator) forgetPrior(ctx context.Context, messageID string, log *logger.Logger) error {
	deleted, err := c.repo.DeleteByMessageID(ctx, messageID)
	if err != nil {
		return apperr.PersistenceFailed("delete prior newsletter", err)
	}
	if err := c.seen.Forget(ctx, messageID); err != nil {
		log.WithError(err).Warn("failed to evict message from seen cache")
	}
	if deleted {
		log.Info("prior record removed for forced re-ingest")
	}
	return nil
}

func (c *Coordinator) messageError(result domain.MessageResult, context string, err error, log *logger.Logger) (domain.MessageResult, error) {
	log.WithError(err).Error(context)
	result.Outcome = domain.OutcomeErrored
	result.Reason = fmt.Sprintf("%s: %v", context, err)
	return result, err
}

func (c *Coordinator) abort(summary *domain.RunSummary, cause string, err error, log *logger.Logger) error {
	summary.Aborted = true
	summary.AbortCause = cause
	log.WithError(err).Error("ingestion run aborted")
	return err
}

func (c *Coordinator) saveReport(ctx context.Context, summary *domain.RunSummary, log *logger.Logger) {
	if c.reports == nil {
		return
	}
	if err := c.reports.SaveRunSummary(ctx, summary); err != nil {
		log.WithError(err).Warn("failed to save run report")
	}
}

// Running reports whether a run is currently executing.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// classifyProviderError maps provider failures into the run taxonomy:
// auth problems are run-fatal, everything else is a per-message error.
func classifyProviderError(err error) error {
	var perr *out.ProviderError
	if errors.As(err, &perr) {
		switch perr.Kind {
		case out.ProviderErrAuth, out.ProviderErrTokenExpired:
			return apperr.AuthFailed("remote API rejected credentials", err)
		case out.ProviderErrMalformed:
			return apperr.MalformedContent(perr.Message, err)
		default:
			return apperr.TransientNetwork(perr.Message, err)
		}
	}
	return apperr.TransientNetwork("remote call failed", err)
}

// bodyAsHTML returns the message body as raw HTML, promoting plain-text
// bodies to minimal markup.
func bodyAsHTML(raw *domain.RawMessage) (domain.RawHTML, error) {
	content := raw.BodyHTML
	if strings.TrimSpace(content) == "" {
		return "", apperr.MalformedContent("message has no body content", nil)
	}
	if raw.BodyContentType == "text" {
		escaped := html.EscapeString(content)
		content = "<div>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</div>"
	}
	return domain.RawHTML(content), nil
}

func senderDisplay(raw *domain.RawMessage) string {
	if raw.SenderName != "" {
		return raw.SenderName
	}
	return raw.SenderEmail
}
