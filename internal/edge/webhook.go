package edge

import "github.com/gofiber/fiber/v2"

// handleWebhookVerify implements spec.md §6's GET /webhook handshake:
// echo hub.challenge on a matching hub.verify_token, else 403.
func (s *Server) handleWebhookVerify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == s.cfg.WAVerifyToken {
		return c.SendString(challenge)
	}
	return c.SendStatus(fiber.StatusForbidden)
}

// handleWebhookReceive implements spec.md §6's POST /webhook: hand the
// raw body straight to the Message Processor's inbound pipeline.
func (s *Server) handleWebhookReceive(c *fiber.Ctx) error {
	messagesInboundTotal.Inc()
	if err := s.proc.HandleWebhook(c.Context(), c.Body()); err != nil {
		s.log.Warn().Err(err).Msg("webhook processing failed")
	}
	return c.SendStatus(fiber.StatusOK)
}
