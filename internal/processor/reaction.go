package processor

import (
	"context"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

// ReactionRequest is the duplex session's react{} input (spec.md
// §4.7).
type ReactionRequest struct {
	UserID           string
	TargetUpstreamID string
	Emoji            string
	Action           store.ReactionAction
}

// ProcessReaction forwards an agent-issued reaction to upstream
// synchronously -- unlike ProcessOutgoing's optimistic, fire-and-
// forget dispatch, a react{} reply only fans out once the upstream
// call itself has succeeded (spec.md §4.7: "forward to upstream; on
// success fan out reaction_update locally and to admins; persist a
// reaction row"). The persist-then-emit shape mirrors handleReaction's
// inbound counterpart in inbound.go.
func (p *Processor) ProcessReaction(ctx context.Context, req ReactionRequest) (*store.Message, error) {
	emoji := req.Emoji
	if req.Action == store.ReactionUnreact {
		emoji = ""
	}
	if _, err := p.upstream.SendReaction(ctx, req.UserID, req.TargetUpstreamID, emoji); err != nil {
		return nil, err
	}

	ts := nowISO()
	msg := &store.Message{
		UserID:                   req.UserID,
		Kind:                     store.KindReaction,
		FromAgent:                true,
		Status:                   store.StatusSent,
		ReactionTargetUpstreamID: req.TargetUpstreamID,
		ReactionEmoji:            emoji,
		ReactionAction:           req.Action,
		ClientTS:                 ts,
		ServerTS:                 ts,
	}
	saved, err := p.db.UpsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"target_upstream_id": saved.ReactionTargetUpstreamID,
		"emoji":              saved.ReactionEmoji,
		"action":             string(saved.ReactionAction),
		"from_agent":         true,
	}
	p.emit(ctx, saved.UserID, EventReactionUpdate, payload)
	p.broadcastAdmins(ctx, saved.UserID, EventReactionUpdate, payload)
	p.cache(ctx, saved.UserID, saved)
	return saved, nil
}
