// Package http exposes the read API and ingest trigger over fiber.
package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"ingest_server/adapter/out/persistence"
	"ingest_server/core/port/out"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// NewsletterHandler serves the persisted newsletters to the dashboard.
type NewsletterHandler struct {
	repo out.NewsletterRepository
}

// NewNewsletterHandler creates a new NewsletterHandler.
func NewNewsletterHandler(repo out.NewsletterRepository) *NewsletterHandler {
	return &NewsletterHandler{repo: repo}
}

// RegisterRoutes registers newsletter routes.
func (h *NewsletterHandler) RegisterRoutes(app fiber.Router) {
	newsletters := app.Group("/newsletters")
	newsletters.Get("/", h.ListNewsletters)
	newsletters.Get("/:id", h.GetNewsletter)
}

// ListNewsletters returns the most recently received newsletters.
func (h *NewsletterHandler) ListNewsletters(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	newsletters, err := h.repo.ListRecent(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list newsletters"})
	}

	return c.JSON(fiber.Map{
		"newsletters": newsletters,
		"count":       len(newsletters),
	})
}

// GetNewsletter returns a single newsletter by numeric id.
func (h *NewsletterHandler) GetNewsletter(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid newsletter id"})
	}

	newsletter, err := h.repo.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "newsletter not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load newsletter"})
	}

	return c.JSON(newsletter)
}
