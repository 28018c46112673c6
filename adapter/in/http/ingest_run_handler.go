package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"ingest_server/core/port/out"
	"ingest_server/core/service/auth"
	"ingest_server/core/service/ingest"
)

const defaultRunListLimit = 20

// RunHandler exposes the operator surface: run trigger, run history,
// and token cache inspection. All routes sit behind the admin guard.
type RunHandler struct {
	coordinator *ingest.Coordinator
	reports     out.ReportRepository
	tokens      *auth.TokenProvider
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(coordinator *ingest.Coordinator, reports out.ReportRepository, tokens *auth.TokenProvider) *RunHandler {
	return &RunHandler{
		coordinator: coordinator,
		reports:     reports,
		tokens:      tokens,
	}
}

// RegisterRoutes registers ingest operator routes. The caller mounts
// these behind the admin guard.
func (h *RunHandler) RegisterRoutes(grp fiber.Router) {
	grp.Post("/run", h.TriggerRun)
	grp.Get("/runs", h.ListRuns)
	grp.Get("/token", h.TokenStatus)
	grp.Delete("/token", h.ClearToken)
}

// TriggerRun starts one ingestion run and returns its summary. The run
// executes on the request; a concurrent trigger gets 409.
func (h *RunHandler) TriggerRun(c *fiber.Ctx) error {
	force := c.QueryBool("force", false)

	summary, err := h.coordinator.Run(c.Context(), force)
	if errors.Is(err, ingest.ErrRunInFlight) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "an ingestion run is already in flight",
		})
	}
	if summary == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ingestion run failed to start"})
	}

	// Aborted runs still produce a summary; the caller reads the
	// abort cause from the body rather than the status code.
	return c.JSON(summary)
}

// ListRuns returns recent run summaries, newest first.
func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	if h.reports == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "run history store not configured"})
	}

	limit := c.QueryInt("limit", defaultRunListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultRunListLimit
	}

	runs, err := h.reports.ListRecentRuns(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list runs"})
	}

	return c.JSON(fiber.Map{
		"runs":  runs,
		"count": len(runs),
	})
}

// TokenStatus reports token cache presence without exposing token
// values.
func (h *RunHandler) TokenStatus(c *fiber.Ctx) error {
	account, expiry, exists := h.tokens.CacheInfo()
	if !exists {
		return c.JSON(fiber.Map{"cached": false})
	}

	return c.JSON(fiber.Map{
		"cached":     true,
		"account":    account,
		"expires_at": expiry.UTC().Format(time.RFC3339),
		"expired":    time.Now().After(expiry),
	})
}

// ClearToken removes the cached credential, forcing a device-code
// flow on the next run.
func (h *RunHandler) ClearToken(c *fiber.Ctx) error {
	if err := h.tokens.ClearCache(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to clear token cache"})
	}
	return c.JSON(fiber.Map{"cleared": true})
}
