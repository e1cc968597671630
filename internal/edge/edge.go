// Package edge is the Edge component (spec.md §4.7): fiber HTTP
// routing for the inbound webhook, the duplex /ws/{user_id} session,
// and the REST surface (§6). Routes are grouped and registered the
// way the teacher's cmd/saas-api/main.go composes its fiber.App --
// one handler struct per concern, constructed with its collaborators
// and wired explicitly, no ambient globals (spec.md §9).
package edge

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/auth"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/cache"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/registry"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

// Config carries the Edge-layer env vars spec.md §6 names.
type Config struct {
	WAVerifyToken    string
	DefaultCatalogID string
	BurstWindowSec   int // cluster-wide admission window (spec.md §5); 0 or less means 60 seconds
	BurstLimit       int // requests allowed per BurstWindowSec across the cluster; 0 or less disables
}

// Server owns every process-wide singleton the REST/webhook/duplex
// handlers need; fields are unexported, handlers are methods on
// *Server so each has the full collaborator set without ambient state.
type Server struct {
	log       zerolog.Logger
	db        store.Store
	bus       cache.Bus
	reg       *registry.Registry
	proc      *processor.Processor
	upstream  *upstream.Client
	backend   ecommerce.Backend
	tokens    *auth.TokenService
	tagRepo   store.TagOptionRepo // nil when the embedded SQLite backend is in use
	cfg       Config
	startedAt string
}

func New(log zerolog.Logger, db store.Store, bus cache.Bus, reg *registry.Registry, proc *processor.Processor, up *upstream.Client, backend ecommerce.Backend, tokens *auth.TokenService, tagRepo store.TagOptionRepo, cfg Config, startedAt string) *Server {
	return &Server{log: log, db: db, bus: bus, reg: reg, proc: proc, upstream: up, backend: backend, tokens: tokens, tagRepo: tagRepo, cfg: cfg, startedAt: startedAt}
}

// RegisterRoutes mounts every route named in spec.md §6 onto app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	app.Get("/webhook", s.handleWebhookVerify)
	app.Post("/webhook", s.handleWebhookReceive)

	app.Get("/ws/:user_id", s.handleWebsocket)
	app.Post("/agents/login", s.handleAgentLogin)

	gated := app.Group("", auth.Middleware(s.tokens))
	gated.Use(s.clusterBurstLimit)

	gated.Post("/send-message", s.handleSendMessage)
	gated.Post("/send-media", s.handleSendMedia)
	gated.Post("/send-media-async", s.handleSendMediaAsync)
	gated.Post("/send-catalog-item", s.handleSendCatalogItem)
	gated.Post("/send-catalog-set", s.handleSendCatalogSet)
	gated.Post("/send-catalog-all", s.handleSendCatalogAll)
	gated.Post("/send-catalog-set-all", s.handleSendCatalogSetAll)

	gated.Get("/messages/:user_id", s.handleGetMessages)
	gated.Get("/conversations", s.handleListConversations)
	gated.Post("/conversations/:user_id/mark-read", s.handleMarkRead)
	gated.Post("/conversations/:user_id/assign", s.handleAssign)
	gated.Post("/conversations/:user_id/tags", s.handleSetTags)

	agents := gated.Group("/agents")
	agents.Get("/", auth.RequireAdmin, s.handleListAgents)
	agents.Post("/", auth.RequireAdmin, s.handleCreateAgent)
	agents.Delete("/:username", auth.RequireAdmin, s.handleDeleteAgent)

	tags := gated.Group("/tag-options")
	tags.Get("/", s.handleListTagOptions)
	tags.Post("/", auth.RequireAdmin, s.handleCreateTagOption)
	tags.Delete("/:name", auth.RequireAdmin, s.handleDeleteTagOption)

	gated.Post("/orders/:id/delivered", s.handleOrderDelivered)
	gated.Post("/payouts/:id/mark-paid", s.handleMarkPaid)
	gated.Get("/payouts", s.handleListPayouts)
	gated.Get("/archive", s.handleListArchive)
}
