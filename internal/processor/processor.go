// Package processor implements the Message Processor (spec.md §4.5):
// the optimistic outbound pipeline, background dispatch to the
// Upstream Client, id reconciliation, and the inbound classification
// pipeline. It is the composition point between Store, Cache & Bus,
// Connection Registry, and Upstream Client -- spec.md §9's "process-
// wide singletons ... composed at startup and passed explicitly to
// handlers; no ambient globals" -- grounded on how the teacher wires
// its own services in internal/modules/saas (constructor injection,
// no package-level state).
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/cache"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/registry"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

// MediaStorage is the object-storage collaborator (internal/media
// implements this against S3).
type MediaStorage interface {
	Upload(ctx context.Context, filename, contentType string, data []byte) (publicURL string, err error)
}

// FallbackImageResolver resolves a product retailer id to an image
// URL when the catalog-item interactive send fails (spec.md §4.5
// "resolve a fallback image (local catalog cache -> upstream variant
// lookup)"). cmd/gateway wires this against the e-commerce backend
// (ecommerce.FallbackResolver); it is optional (nil is a valid
// Processor field).
type FallbackImageResolver interface {
	ResolveFallbackImage(ctx context.Context, retailerID string) (imageURL string, ok bool)
}

// WorkflowEngine is the Workflow Engine collaborator invoked from the
// inbound pipeline (spec.md §4.5 step 3). internal/workflow implements
// this; errors are logged and never abort the owning pipeline (spec.md
// §7).
type WorkflowEngine interface {
	OnInboundText(ctx context.Context, userID, text string)
	OnInteractiveReply(ctx context.Context, userID, replyID, title string)
}

// Config carries the processor's environment-derived tunables.
type Config struct {
	PublicBaseURL string
}

// Processor is the Message Processor singleton.
type Processor struct {
	log      zerolog.Logger
	db       store.Store
	bus      cache.Bus
	reg      *registry.Registry
	upstream *upstream.Client
	media      MediaStorage
	fallback   FallbackImageResolver
	workflow   WorkflowEngine
	normalizer AudioNormalizer
	waveform   WaveformComputer
	cfg        Config
}

// New constructs a Processor. Media, fallback image resolution, and
// the workflow engine are optional collaborators (nil-safe); they are
// set separately via the setter methods below because internal/media,
// internal/ecommerce, and internal/workflow are composed after the
// processor in cmd/gateway's wiring order.
func New(log zerolog.Logger, db store.Store, bus cache.Bus, reg *registry.Registry, up *upstream.Client, cfg Config) *Processor {
	return &Processor{log: log, db: db, bus: bus, reg: reg, upstream: up, cfg: cfg}
}

func (p *Processor) SetMediaStorage(m MediaStorage)                { p.media = m }
func (p *Processor) SetFallbackImageResolver(f FallbackImageResolver) { p.fallback = f }
func (p *Processor) SetWorkflowEngine(w WorkflowEngine)             { p.workflow = w }
func (p *Processor) SetWaveformComputer(w WaveformComputer)        { p.waveform = w }

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

func parseTimeOrNow(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t
	}
	return time.Now()
}

func newTempID() string { return "t_" + uuid.NewString() }

// isInternalChannel reports whether user_id is a team:/agent:/dm:
// prefixed channel that never reaches the upstream (spec.md §3, §4.5,
// GLOSSARY).
func isInternalChannel(userID string) bool {
	for _, prefix := range []string{"team:", "agent:", "dm:"} {
		if len(userID) >= len(prefix) && userID[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Server-emitted duplex event types (spec.md §6).
const (
	EventMessageSent         = "message_sent"
	EventMessageReceived     = "message_received"
	EventMessageStatusUpdate = "message_status_update"
	EventMessagesMarkedRead  = "messages_marked_read"
	EventTyping              = "typing"
	EventReactionUpdate      = "reaction_update"
	EventRecentMessages      = "recent_messages"
	EventConversationHistory = "conversation_history"
	EventError               = "error"
	EventPong                = "pong"
)

// Envelope is the duplex wire shape {type, data} (spec.md §6).
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (p *Processor) emit(ctx context.Context, userID, eventType string, data interface{}) {
	if err := p.reg.SendToUser(ctx, userID, Envelope{Type: eventType, Data: data}); err != nil {
		p.log.Warn().Err(err).Str("user_id", userID).Str("event", eventType).Msg("emit failed")
	}
}

func (p *Processor) broadcastAdmins(ctx context.Context, userID, eventType string, data interface{}) {
	if err := p.reg.BroadcastToAdmins(ctx, Envelope{Type: eventType, Data: data}, userID); err != nil {
		p.log.Warn().Err(err).Str("event", eventType).Msg("admin broadcast failed")
	}
}

func (p *Processor) cache(ctx context.Context, userID string, msg *store.Message) {
	if p.bus == nil {
		return
	}
	if err := p.bus.CacheMessage(ctx, userID, msg); err != nil {
		p.log.Debug().Err(err).Msg("cache message failed (advisory)")
	}
}

// mediaFallbackURL synthesizes <base>/media/<filename> so the UI can
// render immediately, before the background upload resolves a real
// public URL (spec.md §4.5 outbound step 2).
func mediaFallbackURL(base, filename string) string {
	return fmt.Sprintf("%s/media/%s", base, filename)
}
