// Package workflow implements the Workflow Engine (spec.md §4.6):
// catalog auto-reply, the survey scheduler and reply FSM, and the
// order-status/buy-item flows. It is invoked from internal/processor's
// inbound pipeline by reply-id namespace, and runs its own long-lived
// scheduler task, composed the way internal/core/workflow/scheduler.go
// wires robfig/cron against a handler set in the teacher.
package workflow

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/cache"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

// Config carries the feature-flag env vars spec.md §6 names.
type Config struct {
	AutoReplyCatalogMatch bool
	AutoReplyMinScore     float64
	AutoReplyTestNumbers  []string // whitelist; empty = unrestricted
}

// Engine is the Workflow Engine singleton. It sends outbound messages
// by calling straight back into the Message Processor's outbound
// pipeline (processor.Processor), the same processor.Processor that
// invokes this engine from its inbound pipeline -- processor does not
// import this package, so there is no import cycle.
type Engine struct {
	log     zerolog.Logger
	db      store.Store
	bus     cache.Bus
	backend ecommerce.Backend
	proc    *processor.Processor
	cfg     Config
	cron    *cron.Cron
}

func New(log zerolog.Logger, db store.Store, bus cache.Bus, backend ecommerce.Backend, proc *processor.Processor, cfg Config) *Engine {
	return &Engine{log: log, db: db, bus: bus, backend: backend, proc: proc, cfg: cfg}
}

func (e *Engine) send(ctx context.Context, req processor.OutgoingRequest) error {
	_, err := e.proc.ProcessOutgoing(ctx, req)
	return err
}

// StartSurveyScheduler registers the 5-minute sweep, grounded on
// internal/core/workflow/scheduler.go's cron.New(cron.WithSeconds())
// + AddFunc pattern.
func (e *Engine) StartSurveyScheduler(ctx context.Context) error {
	e.cron = cron.New(cron.WithSeconds())
	_, err := e.cron.AddFunc("0 */5 * * * *", func() {
		e.runSurveySweep(ctx)
	})
	if err != nil {
		return err
	}
	e.cron.Start()
	return nil
}

func (e *Engine) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}

// OnInboundText implements processor.WorkflowEngine (spec.md §4.5 step
// 3, text branch): attempt the catalog auto-reply.
func (e *Engine) OnInboundText(ctx context.Context, userID, text string) {
	if err := e.tryAutoReply(ctx, userID, text); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("catalog auto-reply failed")
	}
}

// OnInteractiveReply implements processor.WorkflowEngine (spec.md
// §4.5 step 3, interactive branch): route by reply-id namespace.
func (e *Engine) OnInteractiveReply(ctx context.Context, userID, replyID, title string) {
	var err error
	switch {
	case isSurveyReply(replyID):
		err = e.handleSurveyReply(ctx, userID, replyID)
	case replyID == "order_status":
		err = e.handleOrderStatus(ctx, userID)
	case replyID == "buy_item":
		err = e.handleBuyItem(ctx, userID)
	case isGenderReply(replyID):
		err = e.handleGenderReply(ctx, userID, replyID)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Str("reply_id", replyID).Msg("workflow reply failed")
	}
}

func isSurveyReply(id string) bool {
	return len(id) >= 7 && id[:7] == "survey_"
}

func isGenderReply(id string) bool {
	return len(id) >= 7 && id[:7] == "gender_"
}
