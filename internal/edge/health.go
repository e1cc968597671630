package edge

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// dependencyStatus is one named component of healthReport, following
// the teacher's internal/modules/saas/handlers/health_handler.go
// composed-struct shape (one field per backing service rather than a
// single pass/fail bit).
type dependencyStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthReport struct {
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	StartedAt string           `json:"started_at"`
	Store     dependencyStatus `json:"store"`
	Cache     dependencyStatus `json:"cache"`
	Upstream  dependencyStatus `json:"upstream"`
}

func checkDependency(err error) dependencyStatus {
	if err != nil {
		return dependencyStatus{OK: false, Error: err.Error()}
	}
	return dependencyStatus{OK: true}
}

// handleHealth implements GET /health: a liveness probe that reports
// reachability of every backing dependency -- Store, Cache & Bus, and
// the WhatsApp Cloud API -- as named fields rather than folding them
// into one pass/fail bit, the way the teacher's HealthHandler reports
// the provider it's wired to.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	_, _, storeErr := s.db.GetSetting(c.Context(), "__health__")

	var cacheErr error
	if s.bus != nil {
		_, cacheErr = s.bus.GetJSON(c.Context(), "__health__", &struct{}{})
	}

	var upstreamErr error
	if s.upstream != nil {
		upstreamErr = s.upstream.Ping(c.Context())
	}

	report := healthReport{
		Status:    "ok",
		Service:   "wa-agent-gateway",
		StartedAt: s.startedAt,
		Store:     checkDependency(storeErr),
		Cache:     checkDependency(cacheErr),
		Upstream:  checkDependency(upstreamErr),
	}
	if !report.Store.OK || !report.Upstream.OK {
		report.Status = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	if !report.Cache.OK {
		report.Status = "degraded"
	}
	return c.JSON(report)
}

// handleMetrics implements GET /metrics: Prometheus text exposition
// via the default registry, adapted onto fiber through the net/http
// handler bridge fiber itself ships.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	return adaptor.HTTPHandler(promhttp.Handler())(c)
}
