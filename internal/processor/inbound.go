package processor

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

// WebhookEnvelope is the WhatsApp Cloud API webhook POST body
// (spec.md §6): `{entry:[{changes:[{value:{messages?,statuses?,
// contacts?}}]}]}`.
type WebhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []json.RawMessage `json:"messages"`
				Statuses []statusUpdate    `json:"statuses"`
				Contacts []json.RawMessage `json:"contacts"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type statusUpdate struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Context   *struct {
		ID string `json:"id"`
	} `json:"context"`
	Text      *struct{ Body string `json:"body"` } `json:"text"`
	Reaction  *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image    *mediaPayload `json:"image"`
	Video    *mediaPayload `json:"video"`
	Audio    *mediaPayload `json:"audio"`
	Document *mediaPayload `json:"document"`
	Sticker  *mediaPayload `json:"sticker"`
	Order    json.RawMessage `json:"order"`
}

type mediaPayload struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

// HandleWebhook runs the inbound pipeline (spec.md §4.5 "Inbound
// pipeline"). Webhook events within a single batch are processed
// sequentially in the order provided (spec.md §5).
func (p *Processor) HandleWebhook(ctx context.Context, raw []byte) error {
	var env WebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				p.handleStatus(ctx, st)
			}
			for _, raw := range change.Value.Messages {
				var m inboundMessage
				if err := json.Unmarshal(raw, &m); err != nil {
					p.log.Warn().Err(err).Msg("unmarshal inbound message failed")
					continue
				}
				p.handleInboundMessage(ctx, m)
			}
		}
	}
	return nil
}

func (p *Processor) handleStatus(ctx context.Context, st statusUpdate) {
	status := store.Status(st.Status)
	updated, err := p.db.UpdateStatus(ctx, st.ID, status)
	if err != nil {
		if err == store.ErrNotFound {
			return // owner unknown, drop (spec.md §4.5 step 2)
		}
		p.log.Error().Err(err).Str("upstream_id", st.ID).Msg("update status failed")
		return
	}
	p.emit(ctx, updated.UserID, EventMessageStatusUpdate, map[string]interface{}{
		"upstream_id": st.ID,
		"status":      string(status),
	})
}

const doneTag = "done"

func (p *Processor) stripDoneTag(ctx context.Context, userID string) {
	meta, err := p.db.GetConversationMeta(ctx, userID)
	if err != nil || meta == nil {
		return
	}
	idx := -1
	for i, t := range meta.Tags {
		if t == doneTag {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	meta.Tags = append(meta.Tags[:idx], meta.Tags[idx+1:]...)
	if err := p.db.SetConversationMeta(ctx, meta); err != nil {
		p.log.Warn().Err(err).Msg("strip done tag failed")
	}
}

func (p *Processor) handleInboundMessage(ctx context.Context, m inboundMessage) {
	userID := m.From
	if userID == "" {
		return
	}
	if _, err := p.db.UpsertUser(ctx, &store.User{UserID: userID, Phone: m.From}); err != nil {
		p.log.Error().Err(err).Msg("upsert inbound user failed")
		return
	}
	p.stripDoneTag(ctx, userID)

	ts := nowISO()
	base := &store.Message{
		UserID:    userID,
		UpstreamID: m.ID,
		FromAgent: false,
		ClientTS:  ts,
		ServerTS:  ts,
	}
	if m.Context != nil {
		base.ReplyToUpstreamID = m.Context.ID
	}

	switch {
	case m.Reaction != nil:
		p.handleReaction(ctx, base, m)
		return // no bubble, no message_received fan-out (spec.md §4.5, property 4)

	case m.Text != nil:
		base.Kind = store.KindText
		base.Body = m.Text.Body
		p.persistAndFanout(ctx, base, EventMessageReceived)
		if p.workflow != nil {
			p.workflow.OnInboundText(ctx, userID, m.Text.Body)
		}

	case m.Interactive != nil:
		p.handleInteractive(ctx, base, m)

	case m.Image != nil:
		p.handleInboundMedia(ctx, base, store.KindImage, m.Image, "[image]")
	case m.Video != nil:
		p.handleInboundMedia(ctx, base, store.KindVideo, m.Video, "[video]")
	case m.Audio != nil:
		p.handleInboundMedia(ctx, base, store.KindAudio, m.Audio, "[audio]")
	case m.Document != nil:
		p.handleInboundMedia(ctx, base, store.KindDocument, m.Document, "[document]")
	case m.Sticker != nil:
		// Sticker normalizes to image for display (spec.md §4.5/S3).
		p.handleInboundMedia(ctx, base, store.KindImage, m.Sticker, "[sticker]")

	case len(m.Order) > 0:
		base.Kind = store.KindOrder
		base.Body = string(m.Order)
		p.persistAndFanout(ctx, base, EventMessageReceived)
	}
}

func (p *Processor) handleReaction(ctx context.Context, base *store.Message, m inboundMessage) {
	base.Kind = store.KindReaction
	base.ReactionTargetUpstreamID = m.Reaction.MessageID
	base.ReactionEmoji = m.Reaction.Emoji
	if m.Reaction.Emoji == "" {
		base.ReactionAction = store.ReactionUnreact
	} else {
		base.ReactionAction = store.ReactionReact
	}

	saved, err := p.db.UpsertMessage(ctx, base)
	if err != nil {
		p.log.Error().Err(err).Msg("persist inbound reaction failed")
		return
	}

	payload := map[string]interface{}{
		"target_upstream_id": saved.ReactionTargetUpstreamID,
		"emoji":              saved.ReactionEmoji,
		"action":             string(saved.ReactionAction),
		"from_agent":         false,
	}
	p.emit(ctx, saved.UserID, EventReactionUpdate, payload)
	p.broadcastAdmins(ctx, saved.UserID, EventReactionUpdate, payload)
	p.cache(ctx, saved.UserID, saved)
}

// workflowReplyPrefixes are the id namespaces the Workflow Engine owns
// (spec.md §4.5 step 3).
var workflowReplyPrefixes = []string{"survey_", "order_status", "buy_item", "gender_"}

func isWorkflowReply(id string) bool {
	for _, prefix := range workflowReplyPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

func (p *Processor) handleInteractive(ctx context.Context, base *store.Message, m inboundMessage) {
	var replyID, title string
	switch {
	case m.Interactive.ButtonReply != nil:
		replyID, title = m.Interactive.ButtonReply.ID, m.Interactive.ButtonReply.Title
	case m.Interactive.ListReply != nil:
		replyID, title = m.Interactive.ListReply.ID, m.Interactive.ListReply.Title
	default:
		return
	}

	if isWorkflowReply(replyID) {
		base.Kind = store.KindText
		base.Body = title
		p.persistAndFanout(ctx, base, EventMessageReceived)
		if p.workflow != nil {
			p.workflow.OnInteractiveReply(ctx, base.UserID, replyID, title)
		}
		return
	}

	// Unknown reply id: default bilingual acknowledgment.
	ack := "Merci pour votre reponse. / Thank you for your reply."
	base.Kind = store.KindText
	base.Body = title
	p.persistAndFanout(ctx, base, EventMessageReceived)
	_, _ = p.ProcessOutgoing(ctx, OutgoingRequest{UserID: base.UserID, Kind: store.KindText, Body: ack})
}

func (p *Processor) handleInboundMedia(ctx context.Context, base *store.Message, kind store.Kind, media *mediaPayload, placeholder string) {
	data, contentType, err := p.upstream.DownloadMedia(ctx, media.ID)
	if err != nil {
		p.log.Warn().Err(err).Str("media_id", media.ID).Msg("inbound media download failed, degrading to placeholder")
		base.Kind = store.KindText
		base.Body = placeholder
		p.persistAndFanout(ctx, base, EventMessageReceived)
		return
	}

	base.Kind = kind
	if kind == store.KindAudio && p.waveform != nil {
		base.Waveform = p.computeInboundWaveform(ctx, data)
	}
	if p.media != nil {
		filename := store.MediaFilename(kind, parseTimeOrNow(base.ServerTS))
		if contentType == "" {
			contentType = media.MimeType
		}
		if publicURL, err := p.media.Upload(ctx, filename, contentType, data); err == nil {
			base.MediaPublicURL = publicURL
		} else {
			p.log.Warn().Err(err).Msg("inbound media upload to object storage failed")
		}
	}
	p.persistAndFanout(ctx, base, EventMessageReceived)
}

// computeInboundWaveform spills the downloaded bytes to a temp file
// since WaveformComputer shells ffmpeg against a path, the same
// contract AudioNormalizer uses for outbound audio.
func (p *Processor) computeInboundWaveform(ctx context.Context, data []byte) []int {
	tmp, err := os.CreateTemp("", "inbound-audio-*")
	if err != nil {
		p.log.Warn().Err(err).Msg("waveform temp file failed")
		return nil
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		p.log.Warn().Err(err).Msg("waveform temp file write failed")
		return nil
	}
	waveform, err := p.waveform.ComputeWaveform(ctx, tmp.Name())
	if err != nil {
		p.log.Warn().Err(err).Msg("inbound waveform computation failed")
		return nil
	}
	return waveform
}

// persistAndFanout implements spec.md §4.5 step 5: persist, then fan
// out locally and to admins (excluding the sender), then cache.
func (p *Processor) persistAndFanout(ctx context.Context, msg *store.Message, eventType string) {
	saved, err := p.db.UpsertMessage(ctx, msg)
	if err != nil {
		p.log.Error().Err(err).Msg("persist inbound message failed")
		return
	}
	p.emit(ctx, saved.UserID, eventType, saved)
	p.broadcastAdmins(ctx, saved.UserID, eventType, saved)
	p.cache(ctx, saved.UserID, saved)
}
