package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/cache"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

const defaultAutoReplyMinScore = 0.6

var (
	digitsOnly    = regexp.MustCompile(`\d`)
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	idTagPattern  = regexp.MustCompile(`(?i)ID:\s*(\d+)`)
	queryIDPattern = regexp.MustCompile(`(?i)[?&](?:variant|id)=(\d{6,})`)
	pathVariant   = regexp.MustCompile(`(?i)/variants/(\d+)`)
	trailingRun   = regexp.MustCompile(`\d{6,}`)
	tokenPattern  = regexp.MustCompile(`[A-Za-z0-9\x{0600}-\x{06FF}]{2,}`)
)

// tryAutoReply implements the catalog auto-reply gate chain (spec.md
// §4.6). Gates run strictly in order and short-circuit on the first
// that doesn't pass -- this is a fixed, concrete sequence rather than
// a generic rule set, so it is written as plain sequential Go instead
// of reusing the teacher's condition-evaluator abstraction (see
// DESIGN.md).
func (e *Engine) tryAutoReply(ctx context.Context, userID, text string) error {
	if !e.cfg.AutoReplyCatalogMatch {
		return nil
	}
	if len(e.cfg.AutoReplyTestNumbers) > 0 && !inWhitelist(userID, e.cfg.AutoReplyTestNumbers) {
		return nil
	}
	if e.bus != nil {
		exists, err := e.bus.CooldownExists(ctx, cache.AutoReplyCooldownKey(userID))
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}

	if !urlPattern.MatchString(text) && !digitsOnly.MatchString(text) {
		return e.sendQuickReplyButtons(ctx, userID)
	}

	if retailerID, ok := extractProductID(text); ok {
		return e.sendCatalogItemByID(ctx, userID, retailerID)
	}

	return e.tryFuzzyMatch(ctx, userID, text)
}

func inWhitelist(userID string, whitelist []string) bool {
	digits := digitsOf(userID)
	for _, w := range whitelist {
		if digitsOf(w) == digits {
			return true
		}
	}
	return false
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (e *Engine) setAutoReplyCooldown(ctx context.Context, userID string) {
	if e.bus == nil {
		return
	}
	if err := e.bus.CooldownSet(ctx, cache.AutoReplyCooldownKey(userID), cache.AutoReplyCooldownTTL); err != nil {
		e.log.Debug().Err(err).Msg("auto-reply cooldown set failed (advisory)")
	}
}

func (e *Engine) sendQuickReplyButtons(ctx context.Context, userID string) error {
	err := e.send(ctx, processor.OutgoingRequest{
		UserID: userID,
		Kind:   store.KindInteractiveButtons,
		Body:   "Que souhaitez-vous faire ? / ماذا تريد أن تفعل؟",
		Buttons: []upstream.Button{
			{ID: "buy_item", Title: "Acheter / شراء"},
			{ID: "order_status", Title: "Ma commande / طلبي"},
		},
	})
	if err != nil {
		return err
	}
	e.setAutoReplyCooldown(ctx, userID)
	return nil
}

// extractProductID implements spec.md §4.6 step 5's explicit
// extraction priority order.
func extractProductID(text string) (string, bool) {
	if m := idTagPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := queryIDPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := pathVariant.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if matches := trailingRun.FindAllString(text, -1); len(matches) > 0 {
		return matches[len(matches)-1], true
	}
	return "", false
}

func (e *Engine) sendCatalogItemByID(ctx context.Context, userID, id string) error {
	product, ok, err := e.backend.ResolveVariant(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		product, ok, err = e.backend.ResolveProductFirstVariant(ctx, id)
		if err != nil {
			return err
		}
	}
	if !ok {
		return nil
	}

	if err := e.send(ctx, processor.OutgoingRequest{
		UserID:  userID,
		Kind:    store.KindCatalogItem,
		Caption: fmt.Sprintf("%s - %s", product.Name, product.Price),
		CatalogID: product.CatalogID,
		ProductIdentifiers: &store.ProductIdentifiers{
			RetailerID: product.RetailerID,
			ProductID:  product.ProductID,
			VariantID:  product.VariantID,
		},
	}); err != nil {
		return err
	}

	if err := e.send(ctx, processor.OutgoingRequest{
		UserID: userID,
		Kind:   store.KindText,
		Body:   "Voici le produit que vous recherchez. / هذا هو المنتج الذي تبحث عنه.",
	}); err != nil {
		return err
	}

	e.setAutoReplyCooldown(ctx, userID)
	return nil
}

// tryFuzzyMatch implements spec.md §4.6 step 6's token-overlap scoring.
func (e *Engine) tryFuzzyMatch(ctx context.Context, userID, text string) error {
	products, err := e.backend.ListProducts(ctx)
	if err != nil {
		return err
	}
	textTokens := tokenSet(text)
	normalizedText := strings.ToLower(text)

	threshold := e.cfg.AutoReplyMinScore
	if threshold <= 0 {
		threshold = defaultAutoReplyMinScore
	}

	var best = struct {
		product store.ProductIdentifiers
		name    string
		price   string
		image   string
		score   float64
	}{}
	found := false

	for _, p := range products {
		if p.ImageURL == "" {
			continue
		}
		score := nameMatchScore(p.Name, textTokens, normalizedText)
		if score >= threshold && (!found || score > best.score) {
			found = true
			best.score = score
			best.name = p.Name
			best.price = p.Price
			best.image = p.ImageURL
			best.product = store.ProductIdentifiers{RetailerID: p.RetailerID, ProductID: p.ProductID, VariantID: p.VariantID}
		}
	}
	if !found {
		return nil
	}

	if err := e.send(ctx, processor.OutgoingRequest{
		UserID:             userID,
		Kind:               store.KindImage,
		Caption:            fmt.Sprintf("%s - %s", best.name, best.price),
		MediaPublicURL:     best.image,
		ProductIdentifiers: &best.product,
	}); err != nil {
		return err
	}

	e.setAutoReplyCooldown(ctx, userID)
	return nil
}

func tokenSet(s string) map[string]bool {
	tokens := tokenPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// nameMatchScore computes |name_tokens ∩ text_tokens| / |name_tokens|
// plus a 0.2 substring bonus, clamped to 1.0 (spec.md §4.6 step 6).
func nameMatchScore(name string, textTokens map[string]bool, normalizedText string) float64 {
	nameTokens := tokenPattern.FindAllString(strings.ToLower(name), -1)
	if len(nameTokens) == 0 {
		return 0
	}
	overlap := 0
	for _, t := range nameTokens {
		if textTokens[t] {
			overlap++
		}
	}
	score := float64(overlap) / float64(len(nameTokens))
	if strings.Contains(normalizedText, strings.ToLower(strings.TrimSpace(name))) {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
