package processor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

// dispatchJob is the background dispatch's input: the persisted
// optimistic Message plus the transient per-kind fields the Store
// doesn't carry as columns (spec.md §4.1 step 4 -- "columns not in
// the declared schema are dropped silently").
type dispatchJob struct {
	Message       *store.Message
	Buttons       []upstream.Button
	Sections      []upstream.ListSection
	CatalogID     string
	MediaMimeType string
}

// dispatch performs the background upstream send and reconciliation
// (spec.md §4.5 "Background dispatch" / "Reconciliation"). It always
// runs detached (fire-and-forget); failures are logged, never
// surfaced synchronously (spec.md §5).
func (p *Processor) dispatch(ctx context.Context, job dispatchJob) {
	msg := job.Message
	defer p.cleanupLocalMedia(msg)

	env, err := p.send(ctx, job)
	if err != nil {
		p.fail(ctx, msg, err)
		return
	}
	p.reconcile(ctx, msg, env)
}

func (p *Processor) cleanupLocalMedia(msg *store.Message) {
	if msg.MediaLocalPath == "" {
		return
	}
	if err := os.Remove(msg.MediaLocalPath); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("path", msg.MediaLocalPath).Msg("cleanup local media failed")
	}
}

func (p *Processor) send(ctx context.Context, job dispatchJob) (upstream.Envelope, error) {
	msg := job.Message
	switch msg.Kind {
	case store.KindText:
		return p.upstream.SendText(ctx, msg.UserID, msg.Body, msg.ReplyToUpstreamID)

	case store.KindCatalogItem, store.KindInteractiveProduct:
		return p.sendProductWithFallback(ctx, msg, job.CatalogID)

	case store.KindInteractiveButtons:
		if len(job.Buttons) < 1 || len(job.Buttons) > 3 {
			return p.upstream.SendText(ctx, msg.UserID, msg.Body, "")
		}
		return p.upstream.SendInteractiveButtons(ctx, msg.UserID, msg.Body, job.Buttons)

	case store.KindInteractiveList:
		if !validSections(job.Sections) {
			return p.upstream.SendText(ctx, msg.UserID, msg.Body, "")
		}
		return p.upstream.SendInteractiveList(ctx, msg.UserID, msg.Body, "Menu", job.Sections)

	case store.KindReaction:
		return p.upstream.SendReaction(ctx, msg.UserID, msg.ReactionTargetUpstreamID, msg.ReactionEmoji)

	case store.KindImage, store.KindAudio, store.KindVideo, store.KindDocument, store.KindSticker:
		return p.sendMedia(ctx, msg, job.MediaMimeType)

	default:
		return p.upstream.SendText(ctx, msg.UserID, msg.Body, "")
	}
}

// sendProductWithFallback implements spec.md §4.5's interactive-
// product fallback chain: product card -> fallback image with
// caption -> plain text caption.
func (p *Processor) sendProductWithFallback(ctx context.Context, msg *store.Message, catalogID string) (upstream.Envelope, error) {
	retailerID := ""
	if msg.ProductIdentifiers != nil {
		retailerID = msg.ProductIdentifiers.RetailerID
	}
	if catalogID != "" && retailerID != "" {
		env, err := p.upstream.SendInteractiveProduct(ctx, msg.UserID, catalogID, retailerID, msg.Body)
		if err == nil {
			return env, nil
		}
		p.log.Warn().Err(err).Str("retailer_id", retailerID).Msg("interactive product send failed, falling back")
	}

	if p.fallback != nil && retailerID != "" {
		if imageURL, ok := p.fallback.ResolveFallbackImage(ctx, retailerID); ok {
			env, err := p.upstream.SendMedia(ctx, msg.UserID, "image", upstream.MediaRef{Link: imageURL}, msg.Caption)
			if err == nil {
				return env, nil
			}
			p.log.Warn().Err(err).Msg("fallback image send failed, falling back to text")
		}
	}

	caption := msg.Caption
	if caption == "" {
		caption = msg.Body
	}
	return p.upstream.SendText(ctx, msg.UserID, caption, "")
}

func validSections(sections []upstream.ListSection) bool {
	if len(sections) == 0 {
		return false
	}
	for _, s := range sections {
		if len(s.Rows) == 0 {
			return false
		}
	}
	return true
}

// sendMedia uploads local bytes (optionally normalizing audio and
// best-effort pushing to object storage first) or sends by public
// link when no local path is present (spec.md §4.5).
func (p *Processor) sendMedia(ctx context.Context, msg *store.Message, mimeType string) (upstream.Envelope, error) {
	if msg.MediaLocalPath == "" {
		return p.upstream.SendMedia(ctx, msg.UserID, string(msg.Kind), upstream.MediaRef{Link: msg.MediaPublicURL}, msg.Caption)
	}

	data, mimeType, err := p.prepareLocalMedia(msg, mimeType)
	if err != nil {
		return upstream.Envelope{}, err
	}

	if len(msg.Waveform) > 0 {
		if saved, err := p.db.UpsertMessage(ctx, msg); err == nil {
			p.emit(ctx, msg.UserID, EventMessageStatusUpdate, map[string]interface{}{
				"temp_id":  saved.TempID,
				"waveform": saved.Waveform,
			})
		}
	}

	if p.media != nil {
		if publicURL, uploadErr := p.uploadWithRetry(ctx, msg, data, mimeType); uploadErr == nil {
			msg.MediaPublicURL = publicURL
			if saved, err := p.db.UpsertMessage(ctx, msg); err == nil {
				p.emit(ctx, msg.UserID, EventMessageStatusUpdate, map[string]interface{}{
					"temp_id":          saved.TempID,
					"media_public_url": publicURL,
				})
			}
		} else {
			p.log.Warn().Err(uploadErr).Msg("best-effort object storage upload failed, continuing without public url")
		}
	}

	handle, err := p.upstream.UploadMedia(ctx, filepath.Base(msg.MediaLocalPath), mimeType, data)
	if err != nil {
		return upstream.Envelope{}, err
	}
	return p.upstream.SendMedia(ctx, msg.UserID, string(msg.Kind), upstream.MediaRef{ID: handle}, msg.Caption)
}

func (p *Processor) reconcile(ctx context.Context, msg *store.Message, env upstream.Envelope) {
	upstreamID := env.UpstreamID()
	if upstreamID == "" {
		p.fail(ctx, msg, errEmptyUpstreamID)
		return
	}

	msg.UpstreamID = upstreamID
	msg.Status = store.StatusSent
	saved, err := p.db.UpsertMessage(ctx, msg)
	if err != nil {
		p.log.Error().Err(err).Msg("persist reconciled message failed")
		return
	}

	p.emit(ctx, msg.UserID, EventMessageStatusUpdate, map[string]interface{}{
		"temp_id":     saved.TempID,
		"upstream_id": saved.UpstreamID,
		"status":      string(store.StatusSent),
	})
}

func (p *Processor) fail(ctx context.Context, msg *store.Message, sendErr error) {
	p.log.Error().Err(sendErr).Str("user_id", msg.UserID).Str("temp_id", msg.TempID).Msg("upstream send failed")
	msg.Status = store.StatusFailed
	if _, err := p.db.UpsertMessage(ctx, msg); err != nil {
		p.log.Error().Err(err).Msg("persist failed-status message failed")
	}
	p.emit(ctx, msg.UserID, EventMessageStatusUpdate, map[string]interface{}{
		"temp_id": msg.TempID,
		"status":  string(store.StatusFailed),
		"error":   sendErr.Error(),
	})
}

var errEmptyUpstreamID = upstreamIDError{}

type upstreamIDError struct{}

func (upstreamIDError) Error() string { return "upstream response carried no message id" }
