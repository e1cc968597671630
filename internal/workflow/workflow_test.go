package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/registry"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

type fakeBackend struct {
	products []ecommerce.Product
	orders   []ecommerce.Order
}

func (f *fakeBackend) ListProducts(ctx context.Context) ([]ecommerce.Product, error) {
	return f.products, nil
}

func (f *fakeBackend) ResolveVariant(ctx context.Context, variantID string) (ecommerce.Product, bool, error) {
	for _, p := range f.products {
		if p.VariantID == variantID || p.RetailerID == variantID {
			return p, true, nil
		}
	}
	return ecommerce.Product{}, false, nil
}

func (f *fakeBackend) ResolveProductFirstVariant(ctx context.Context, productID string) (ecommerce.Product, bool, error) {
	for _, p := range f.products {
		if p.ProductID == productID {
			return p, true, nil
		}
	}
	return ecommerce.Product{}, false, nil
}

func (f *fakeBackend) CustomerOrders(ctx context.Context, phone string, since time.Time, limit int) ([]ecommerce.Order, error) {
	return f.orders, nil
}

func (f *fakeBackend) VariantImageURLs(ctx context.Context, variantID string, max int) ([]string, error) {
	p, ok, _ := f.ResolveVariant(ctx, variantID)
	if !ok || p.ImageURL == "" {
		return nil, nil
	}
	return []string{p.ImageURL}, nil
}

func newTestEngine(t *testing.T, cfg Config, backend ecommerce.Backend) (*Engine, store.Store) {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	up, err := upstream.New(upstream.Config{PhoneNumberID: "1", AccessToken: "t"})
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}
	reg := registry.New(zerolog.Nop(), db, nil, registry.Config{SendTextPerMin: 30, SendMediaPerMin: 5})
	proc := processor.New(zerolog.Nop(), db, nil, reg, up, processor.Config{PublicBaseURL: "http://localhost:8080"})

	eng := New(zerolog.Nop(), db, nil, backend, proc, cfg)
	return eng, db
}

func TestExtractProductIDPriorityOrder(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"id tag wins over trailing digits", "voir ID: 111111 vs 222222222", "111111"},
		{"query param variant", "https://shop.example/p?variant=123456&x=1", "123456"},
		{"path segment", "https://shop.example/variants/987654", "987654"},
		{"trailing run fallback", "je veux le modele 555444333", "555444333"},
		{"no match", "bonjour comment ca va", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := extractProductID(c.text)
			if c.want == "" {
				if ok {
					t.Fatalf("expected no match, got %q", got)
				}
				return
			}
			if !ok || got != c.want {
				t.Fatalf("extractProductID(%q) = %q, %v; want %q", c.text, got, ok, c.want)
			}
		})
	}
}

func TestNameMatchScoreThresholdAndBonus(t *testing.T) {
	textTokens := tokenSet("je cherche des baskets rouges enfant")
	score := nameMatchScore("Baskets Rouges", textTokens, "je cherche des baskets rouges enfant")
	if score < 0.6 {
		t.Fatalf("expected score >= 0.6 for full token overlap + substring bonus, got %v", score)
	}

	noMatch := nameMatchScore("Casquette Bleue", textTokens, "je cherche des baskets rouges enfant")
	if noMatch > 0 {
		t.Fatalf("expected zero overlap score, got %v", noMatch)
	}
}

func TestClampRatingBounds(t *testing.T) {
	cases := map[string]int{"0": 1, "1": 1, "3": 3, "5": 5, "9": 5, "x": 1}
	for in, want := range cases {
		if got := clampRating(in); got != want {
			t.Errorf("clampRating(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestAutoReplyFeatureFlagDisabledNoOp(t *testing.T) {
	eng, db := newTestEngine(t, Config{AutoReplyCatalogMatch: false}, &fakeBackend{})
	if err := eng.tryAutoReply(context.Background(), "212600000001", "bonjour"); err != nil {
		t.Fatalf("tryAutoReply: %v", err)
	}
	rows, _ := db.GetMessages(context.Background(), "212600000001", 0, 10)
	if len(rows) != 0 {
		t.Fatalf("expected no message sent when feature flag disabled, got %d rows", len(rows))
	}
}

func TestAutoReplyWhitelistRejectsUnlisted(t *testing.T) {
	eng, db := newTestEngine(t, Config{
		AutoReplyCatalogMatch: true,
		AutoReplyTestNumbers:  []string{"212600000099"},
	}, &fakeBackend{})
	if err := eng.tryAutoReply(context.Background(), "212600000001", "bonjour 123"); err != nil {
		t.Fatalf("tryAutoReply: %v", err)
	}
	rows, _ := db.GetMessages(context.Background(), "212600000001", 0, 10)
	if len(rows) != 0 {
		t.Fatalf("expected no message sent for a number outside the whitelist, got %d rows", len(rows))
	}
}

func TestAutoReplyNoURLNoDigitSendsQuickReplyButtons(t *testing.T) {
	eng, db := newTestEngine(t, Config{AutoReplyCatalogMatch: true}, &fakeBackend{})
	if err := eng.tryAutoReply(context.Background(), "212600000001", "bonjour, je cherche un cadeau"); err != nil {
		t.Fatalf("tryAutoReply: %v", err)
	}
	rows, err := db.GetMessages(context.Background(), "212600000001", 0, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one optimistic row, got %d rows err=%v", len(rows), err)
	}
	if rows[0].Kind != store.KindInteractiveButtons {
		t.Fatalf("expected interactive_buttons kind, got %s", rows[0].Kind)
	}
}

func TestMaybeInviteSurveySkipsWhenUnresponded(t *testing.T) {
	eng, db := newTestEngine(t, Config{}, &fakeBackend{})
	if err := eng.maybeInviteSurvey(context.Background(), "212600000001", 3); err != nil {
		t.Fatalf("maybeInviteSurvey: %v", err)
	}
	rows, _ := db.GetMessages(context.Background(), "212600000001", 0, 10)
	if len(rows) != 0 {
		t.Fatalf("expected no invite sent while unresponded_count != 0, got %d rows", len(rows))
	}
}

func TestMaybeInviteSurveySkipsWithNoPriorOutbound(t *testing.T) {
	eng, db := newTestEngine(t, Config{}, &fakeBackend{})
	if err := eng.maybeInviteSurvey(context.Background(), "212600000001", 0); err != nil {
		t.Fatalf("maybeInviteSurvey: %v", err)
	}
	rows, _ := db.GetMessages(context.Background(), "212600000001", 0, 10)
	if len(rows) != 0 {
		t.Fatalf("expected no invite sent with no prior outbound message, got %d rows", len(rows))
	}
}

func TestIsInternalChannelUserID(t *testing.T) {
	for userID, want := range map[string]bool{"team:ops": true, "agent:jane": true, "dm:bob": true, "212600001": false} {
		if got := isInternalChannelUserID(userID); got != want {
			t.Errorf("isInternalChannelUserID(%q) = %v, want %v", userID, got, want)
		}
	}
}
