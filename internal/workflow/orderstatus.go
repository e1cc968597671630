package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

const (
	orderLookupWindow = 4 * 24 * time.Hour
	orderLookupLimit  = 10
	orderSummaryCap   = 3
	orderImageCap     = 2
)

// handleOrderStatus implements spec.md §4.6 order-status flow: look up
// the customer by sender phone, summarize recent orders, follow up
// with up to 2 variant images.
func (e *Engine) handleOrderStatus(ctx context.Context, userID string) error {
	phone := digitsOf(userID)
	orders, err := e.backend.CustomerOrders(ctx, phone, time.Now().Add(-orderLookupWindow), orderLookupLimit)
	if err != nil || len(orders) == 0 {
		return e.send(ctx, processor.OutgoingRequest{
			UserID: userID,
			Kind:   store.KindText,
			Body:   "Nous n'avons trouvé aucune commande récente. / لم نجد أي طلب حديث.",
		})
	}

	summary := buildOrderSummary(orders)
	if err := e.send(ctx, processor.OutgoingRequest{UserID: userID, Kind: store.KindText, Body: summary}); err != nil {
		return err
	}

	sent := 0
	for _, o := range orders {
		if sent >= orderImageCap {
			break
		}
		for _, line := range o.Lines {
			if sent >= orderImageCap || line.VariantID == "" {
				break
			}
			urls, err := e.backend.VariantImageURLs(ctx, line.VariantID, 1)
			if err != nil || len(urls) == 0 {
				continue
			}
			if err := e.send(ctx, processor.OutgoingRequest{
				UserID:         userID,
				Kind:           store.KindImage,
				Caption:        fmt.Sprintf("%s (%s) - %s", line.Title, line.Variant, o.OrderID),
				MediaPublicURL: urls[0],
			}); err != nil {
				e.log.Debug().Err(err).Msg("order-status image send failed")
				continue
			}
			sent++
		}
	}
	return nil
}

func buildOrderSummary(orders []ecommerce.Order) string {
	n := len(orders)
	if n > orderSummaryCap {
		n = orderSummaryCap
	}
	var fr, ar strings.Builder
	fr.WriteString("Vos commandes récentes :\n")
	ar.WriteString("طلباتك الأخيرة:\n")
	for _, o := range orders[:n] {
		fr.WriteString(fmt.Sprintf("- %s:\n", o.OrderID))
		ar.WriteString(fmt.Sprintf("- %s:\n", o.OrderID))
		for _, line := range o.Lines {
			fr.WriteString(fmt.Sprintf("  %s (%s) x%d\n", line.Title, line.Variant, line.Quantity))
			ar.WriteString(fmt.Sprintf("  %s (%s) × %d\n", line.Title, line.Variant, line.Quantity))
		}
	}
	return fr.String() + "\n" + ar.String()
}

// handleBuyItem implements spec.md §4.6 buy_item flow's first step:
// the gender selection list.
func (e *Engine) handleBuyItem(ctx context.Context, userID string) error {
	return e.send(ctx, processor.OutgoingRequest{
		UserID: userID,
		Kind:   store.KindInteractiveList,
		Body:   "Pour qui achetez-vous ? / لمن تتسوق؟",
		Sections: []upstream.ListSection{
			{
				Title: "Genre / الجنس",
				Rows: []upstream.ListRow{
					{ID: "gender_girls", Title: "Fille / بنت"},
					{ID: "gender_boys", Title: "Garçon / ولد"},
				},
			},
		},
	})
}

// handleGenderReply implements spec.md §4.6 buy_item flow's second
// step: a bilingual age/shoe-size prompt with gender-specific ranges.
func (e *Engine) handleGenderReply(ctx context.Context, userID, replyID string) error {
	var ageRange, sizeRange string
	switch replyID {
	case "gender_girls":
		ageRange = "0 mois - 7 ans / 0 شهر - 7 سنوات"
	case "gender_boys":
		ageRange = "0 mois - 10 ans / 0 شهر - 10 سنوات"
	default:
		return nil
	}
	sizeRange = "16 - 38"

	body := fmt.Sprintf(
		"Indiquez l'âge (%s) et la pointure (%s) de l'enfant.\nيرجى تحديد عمر الطفل (%s) ومقاس الحذاء (%s).",
		ageRange, sizeRange, ageRange, sizeRange,
	)
	return e.send(ctx, processor.OutgoingRequest{UserID: userID, Kind: store.KindText, Body: body})
}
