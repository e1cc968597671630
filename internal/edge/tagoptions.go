package edge

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

// handleListTagOptions implements GET /tag-options. On the embedded
// SQLite backend tagRepo is nil (spec.md's GORM-backed admin surface
// is Postgres-only) and the endpoint returns an empty list rather than
// erroring, so the dashboard's tag picker degrades gracefully in dev.
func (s *Server) handleListTagOptions(c *fiber.Ctx) error {
	if s.tagRepo == nil {
		return c.JSON([]store.TagOption{})
	}
	rows, err := s.tagRepo.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rows)
}

type createTagOptionRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// handleCreateTagOption implements POST /tag-options (admin-only).
func (s *Server) handleCreateTagOption(c *fiber.Ctx) error {
	if s.tagRepo == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "tag-option administration requires the postgres store backend"})
	}
	var req createTagOptionRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}
	created, err := s.tagRepo.Create(c.Context(), &store.TagOption{Name: req.Name, Color: req.Color})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// handleDeleteTagOption implements DELETE /tag-options/{name} (admin-only).
func (s *Server) handleDeleteTagOption(c *fiber.Ctx) error {
	if s.tagRepo == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "tag-option administration requires the postgres store backend"})
	}
	if err := s.tagRepo.Delete(c.Context(), c.Params("name")); err != nil {
		if err == store.ErrNotFound {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
