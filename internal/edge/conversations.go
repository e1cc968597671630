package edge

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

// handleGetMessages implements GET /messages/{user_id}: cursor-free
// offset/limit pagination ascending by COALESCE(server_ts, client_ts)
// (spec.md §8, property 2).
func (s *Server) handleGetMessages(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.GetMessages(c.Context(), userID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rows)
}

// handleListConversations implements GET /conversations with the
// query/unread/assigned/tags/unresponded filter set (spec.md §6),
// ANDed together per the Open Question decision in DESIGN.md.
func (s *Server) handleListConversations(c *fiber.Ctx) error {
	filter := store.ConversationFilter{
		Query:           c.Query("query"),
		UnreadOnly:      c.QueryBool("unread_only"),
		AssignedAgent:   c.Query("assigned_agent"),
		UnrespondedOnly: c.QueryBool("unresponded_only"),
	}
	if tags := c.Query("tags"); tags != "" {
		filter.Tags = splitCSV(tags)
	}
	rows, err := s.db.ListConversations(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rows)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
	All        bool     `json:"all"`
}

// handleMarkRead implements POST /conversations/{user_id}/mark-read.
func (s *Server) handleMarkRead(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	var req markReadRequest
	_ = c.BodyParser(&req)
	if err := s.db.MarkRead(c.Context(), userID, req.MessageIDs, req.All); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type assignRequest struct {
	AgentUsername string `json:"agent_username"`
}

// handleAssign implements POST /conversations/{user_id}/assign.
func (s *Server) handleAssign(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	var req assignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "agent_username is required"})
	}
	meta, err := s.currentConversationMeta(c, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	meta.AssignedAgent = req.AgentUsername
	if err := s.db.SetConversationMeta(c.Context(), meta); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(meta)
}

type setTagsRequest struct {
	Tags []string `json:"tags"`
}

// handleSetTags implements POST /conversations/{user_id}/tags.
func (s *Server) handleSetTags(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	var req setTagsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tags is required"})
	}
	meta, err := s.currentConversationMeta(c, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	meta.Tags = req.Tags
	if err := s.db.SetConversationMeta(c.Context(), meta); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(meta)
}

func (s *Server) currentConversationMeta(c *fiber.Ctx, userID string) (*store.ConversationMeta, error) {
	meta, err := s.db.GetConversationMeta(c.Context(), userID)
	if err == store.ErrNotFound {
		return &store.ConversationMeta{UserID: userID}, nil
	}
	return meta, err
}
