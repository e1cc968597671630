package edge

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// clusterBurstLimit implements spec.md §5's coarse admission control:
// "the Edge also enforces an optional coarse per-minute rate limit
// shared across a cluster (backed by the same cache tier); it is a
// no-op when the cache is unavailable." Unlike the per-agent, per-kind
// token buckets in internal/registry, this is one counter shared by
// every instance and every gated route, so a single misbehaving
// client (or a fleet of them) can't overwhelm the cluster even before
// per-agent limits kick in.
func (s *Server) clusterBurstLimit(c *fiber.Ctx) error {
	if s.bus == nil || s.cfg.BurstLimit <= 0 {
		return c.Next()
	}
	window := time.Duration(s.cfg.BurstWindowSec) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	count, err := s.bus.Incr(c.Context(), "edge:admission", window)
	if err != nil {
		s.log.Warn().Err(err).Msg("cluster burst limiter cache incr failed, admitting request")
		return c.Next()
	}
	if count > int64(s.cfg.BurstLimit) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "cluster_rate_limited"})
	}
	return c.Next()
}
