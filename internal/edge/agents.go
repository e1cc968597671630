package edge

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/auth"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleAgentLogin implements POST /agents/login: verify the PBKDF2
// password hash and issue a session token.
func (s *Server) handleAgentLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil || req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "username and password are required"})
	}
	agent, err := s.db.GetAgentByUsername(c.Context(), req.Username)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}
	if err := auth.VerifyPassword(agent.PasswordHash, req.Password); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}
	token, err := s.tokens.IssueToken(agent.Username, agent.IsAdmin)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"token": token, "agent": agent})
}

// handleListAgents implements GET /agents (admin-only).
func (s *Server) handleListAgents(c *fiber.Ctx) error {
	rows, err := s.db.ListAgents(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rows)
}

type createAgentRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// handleCreateAgent implements POST /agents (admin-only).
func (s *Server) handleCreateAgent(c *fiber.Ctx) error {
	var req createAgentRequest
	if err := c.BodyParser(&req); err != nil || req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "username and password are required"})
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	created, err := s.db.CreateAgent(c.Context(), &store.Agent{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		IsAdmin:      req.IsAdmin,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// handleDeleteAgent implements DELETE /agents/{username} (admin-only).
func (s *Server) handleDeleteAgent(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := s.db.DeleteAgent(c.Context(), username); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
