package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/cache"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

const invoiceCaptionMarker = "فاتورتك"

type surveyState struct {
	Stage       string `json:"stage"`
	Rating      int    `json:"rating,omitempty"`
	Improvement string `json:"improvement,omitempty"`
}

// runSurveySweep implements spec.md §4.6 Survey scheduler: every
// eligible, non-internal conversation with no unresponded inbound, a
// last outbound >4h old, no invite within the last 30 days, and no
// invoice caption match, receives the bilingual invite.
func (e *Engine) runSurveySweep(ctx context.Context) {
	conversations, err := e.db.ListConversations(ctx, store.ConversationFilter{})
	if err != nil {
		e.log.Warn().Err(err).Msg("survey sweep: list conversations failed")
		return
	}
	for _, c := range conversations {
		if isInternalChannelUserID(c.UserID) {
			continue
		}
		if err := e.maybeInviteSurvey(ctx, c.UserID, c.UnrespondedCount); err != nil {
			e.log.Warn().Err(err).Str("user_id", c.UserID).Msg("survey invite failed")
		}
	}
}

func isInternalChannelUserID(userID string) bool {
	for _, prefix := range []string{"team:", "agent:", "dm:"} {
		if len(userID) >= len(prefix) && userID[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (e *Engine) maybeInviteSurvey(ctx context.Context, userID string, unrespondedCount int) error {
	if unrespondedCount != 0 {
		return nil
	}

	lastOutbound, err := e.db.LastAgentMessageTime(ctx, userID)
	if err != nil {
		return err
	}
	if lastOutbound == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, lastOutbound)
	if err != nil || time.Since(ts) < 4*time.Hour {
		return nil
	}

	if e.bus != nil {
		invited, err := e.bus.CooldownExists(ctx, cache.SurveyInviteCooldownKey(userID))
		if err != nil {
			return err
		}
		if invited {
			return nil
		}
	}

	hasInvoice, err := e.db.HasInvoiceMessage(ctx, userID, invoiceCaptionMarker)
	if err != nil {
		return err
	}
	if hasInvoice {
		return nil
	}

	if err := e.send(ctx, processor.OutgoingRequest{
		UserID: userID,
		Kind:   store.KindInteractiveButtons,
		Body:   "Comment évaluez-vous votre expérience ? / كيف تقيّم تجربتك؟",
		Buttons: []upstream.Button{
			{ID: "survey_start_ok", Title: "Donner mon avis / إبداء الرأي"},
			{ID: "survey_decline", Title: "Non merci / لا شكراً"},
		},
	}); err != nil {
		return err
	}

	if e.bus != nil {
		if err := e.bus.CooldownSet(ctx, cache.SurveyInviteCooldownKey(userID), cache.SurveyInviteTTL); err != nil {
			e.log.Debug().Err(err).Msg("survey invite cooldown set failed (advisory)")
		}
	}
	return nil
}

// handleSurveyReply drives the reply FSM keyed by survey_state:<user>
// (spec.md §4.6 Survey Reply FSM).
func (e *Engine) handleSurveyReply(ctx context.Context, userID, replyID string) error {
	switch {
	case replyID == "survey_start_ok":
		return e.surveyAdvanceToRating(ctx, userID)
	case replyID == "survey_decline":
		return e.surveyDecline(ctx, userID)
	case strings.HasPrefix(replyID, "survey_rate_"):
		return e.surveyAdvanceToImprovement(ctx, userID, replyID)
	case strings.HasPrefix(replyID, "survey_improve_"):
		return e.surveyComplete(ctx, userID, replyID)
	}
	return nil
}

func (e *Engine) surveyAdvanceToRating(ctx context.Context, userID string) error {
	if e.bus == nil {
		return nil
	}
	state := surveyState{Stage: "rating"}
	if err := e.bus.SetJSON(ctx, cache.SurveyStateKey(userID), state, cache.SurveyStateTTL); err != nil {
		return err
	}
	rows := make([]upstream.ListRow, 0, 5)
	for i := 1; i <= 5; i++ {
		rows = append(rows, upstream.ListRow{
			ID:    fmt.Sprintf("survey_rate_%d", i),
			Title: fmt.Sprintf("%d %s", i, strings.Repeat("⭐", i)),
		})
	}
	return e.send(ctx, processor.OutgoingRequest{
		UserID: userID,
		Kind:   store.KindInteractiveList,
		Body:   "Notez votre expérience / قيّم تجربتك",
		Sections: []upstream.ListSection{
			{Title: "Note / التقييم", Rows: rows},
		},
	})
}

func (e *Engine) surveyDecline(ctx context.Context, userID string) error {
	if e.bus != nil {
		_ = e.bus.DeleteKey(ctx, cache.SurveyStateKey(userID))
		if err := e.bus.CooldownSet(ctx, cache.SurveyInviteCooldownKey(userID), cache.SurveyInviteTTL); err != nil {
			e.log.Debug().Err(err).Msg("survey decline cooldown set failed (advisory)")
		}
	}
	return e.send(ctx, processor.OutgoingRequest{
		UserID: userID,
		Kind:   store.KindText,
		Body:   "Merci pour votre temps ! / شكراً لوقتك!",
	})
}

var improvementOptions = []struct {
	ID    string
	Title string
}{
	{"survey_improve_quality", "Qualité des produits / جودة المنتجات"},
	{"survey_improve_delivery", "Délai de livraison / وقت التوصيل"},
	{"survey_improve_service", "Service client / خدمة العملاء"},
	{"survey_improve_price", "Prix / الأسعار"},
}

func (e *Engine) surveyAdvanceToImprovement(ctx context.Context, userID, replyID string) error {
	rating := clampRating(strings.TrimPrefix(replyID, "survey_rate_"))

	if e.bus != nil {
		state := surveyState{Stage: "improvement", Rating: rating}
		if err := e.bus.SetJSON(ctx, cache.SurveyStateKey(userID), state, cache.SurveyStateTTL); err != nil {
			return err
		}
	}

	rows := make([]upstream.ListRow, 0, len(improvementOptions))
	for _, opt := range improvementOptions {
		rows = append(rows, upstream.ListRow{ID: opt.ID, Title: opt.Title})
	}
	return e.send(ctx, processor.OutgoingRequest{
		UserID: userID,
		Kind:   store.KindInteractiveList,
		Body:   "Que pouvons-nous améliorer ? / ما الذي يمكننا تحسينه؟",
		Sections: []upstream.ListSection{
			{Title: "Amélioration / التحسين", Rows: rows},
		},
	})
}

func clampRating(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 1
	}
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}

func improvementLabel(replyID string) (fr, ar string) {
	labels := map[string][2]string{
		"survey_improve_quality":  {"Produits de meilleure qualité", "منتجات ذات جودة أعلى"},
		"survey_improve_delivery": {"Livraison plus rapide", "وقت توصيل أسرع"},
		"survey_improve_service":  {"Meilleur service client", "خدمة عملاء أفضل"},
		"survey_improve_price":    {"Meilleurs prix", "أسعار أفضل"},
	}
	if l, ok := labels[replyID]; ok {
		return l[0], l[1]
	}
	return "Autre", "أخرى"
}

func (e *Engine) surveyComplete(ctx context.Context, userID, replyID string) error {
	rating := 0
	if e.bus != nil {
		var state surveyState
		if ok, err := e.bus.GetJSON(ctx, cache.SurveyStateKey(userID), &state); err == nil && ok {
			rating = state.Rating
		}
		state.Stage = "done"
		state.Improvement = replyID
		if err := e.bus.SetJSON(ctx, cache.SurveyStateKey(userID), state, cache.SurveyStateDoneTTL); err != nil {
			return err
		}
		if err := e.bus.CooldownSet(ctx, cache.SurveyInviteCooldownKey(userID), cache.SurveyInviteTTL); err != nil {
			e.log.Debug().Err(err).Msg("survey completion cooldown set failed (advisory)")
		}
	}

	fr, ar := improvementLabel(replyID)
	stars := strings.Repeat("⭐", rating)
	body := fmt.Sprintf(
		"Merci ! Votre note : %s. Amélioration souhaitée : %s.\nشكراً! تقييمك: %s. التحسين المطلوب: %s.",
		stars, fr, stars, ar,
	)
	return e.send(ctx, processor.OutgoingRequest{UserID: userID, Kind: store.KindText, Body: body})
}
