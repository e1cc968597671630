package edge

import "github.com/gofiber/fiber/v2"

// handleOrderDelivered implements POST /orders/{id}/delivered: marks
// the payout-lifecycle Order as delivered, the first step before it
// can be paid out (spec.md §3/§6).
func (s *Server) handleOrderDelivered(c *fiber.Ctx) error {
	if err := s.db.MarkOrderDelivered(c.Context(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleMarkPaid implements POST /payouts/{id}/mark-paid: moves an
// Order from the payout queue into the archive.
func (s *Server) handleMarkPaid(c *fiber.Ctx) error {
	if err := s.db.MarkOrderPaid(c.Context(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleListPayouts implements GET /payouts: orders awaiting payout.
func (s *Server) handleListPayouts(c *fiber.Ctx) error {
	rows, err := s.db.ListPayouts(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rows)
}

// handleListArchive implements GET /archive: orders already paid out.
func (s *Server) handleListArchive(c *fiber.Ctx) error {
	rows, err := s.db.ListArchive(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rows)
}
