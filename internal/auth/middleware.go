package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	localsUsername = "agent_username"
	localsIsAdmin  = "agent_is_admin"
)

// Middleware validates the Bearer session token on every gated route
// and stores the Agent identity in fiber locals, mirroring the
// teacher's AuthMiddleware.
func Middleware(tokens *TokenService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization header format. Use: Bearer <token>"})
		}
		claims, err := tokens.ParseToken(parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}
		c.Locals(localsUsername, claims.Username)
		c.Locals(localsIsAdmin, claims.IsAdmin)
		return c.Next()
	}
}

// RequireAdmin gates agent-management routes to admin accounts.
func RequireAdmin(c *fiber.Ctx) error {
	isAdmin, _ := c.Locals(localsIsAdmin).(bool)
	if !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin privileges required"})
	}
	return c.Next()
}

// Username reads the authenticated Agent's username out of locals.
func Username(c *fiber.Ctx) string {
	username, _ := c.Locals(localsUsername).(string)
	return username
}
