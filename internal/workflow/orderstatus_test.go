package workflow

import (
	"context"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce/mocks"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

// TestHandleOrderStatusSummarizesRecentOrders exercises the
// go.uber.org/mock collaborator for ecommerce.Backend, verifying the
// exact phone/window/limit CustomerOrders is called with (spec.md
// §4.6 order-status flow).
func TestHandleOrderStatusSummarizesRecentOrders(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)

	backend.EXPECT().
		CustomerOrders(gomock.Any(), "212600000001", gomock.Any(), orderLookupLimit).
		DoAndReturn(func(_ context.Context, _ string, since time.Time, _ int) ([]ecommerce.Order, error) {
			if time.Since(since) > orderLookupWindow+time.Minute {
				t.Fatalf("expected since to be within the order lookup window")
			}
			return []ecommerce.Order{
				{OrderID: "#1001", Lines: []ecommerce.OrderLine{{Title: "Baskets", Variant: "38", Quantity: 1, VariantID: "v1"}}},
			}, nil
		})
	backend.EXPECT().VariantImageURLs(gomock.Any(), "v1", 1).Return([]string{"https://cdn.example/v1.jpg"}, nil)

	eng, db := newTestEngine(t, Config{}, backend)
	if err := eng.handleOrderStatus(context.Background(), "212600000001"); err != nil {
		t.Fatalf("handleOrderStatus: %v", err)
	}

	rows, err := db.GetMessages(context.Background(), "212600000001", 0, 10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("expected a summary row + one image row, got %d rows err=%v", len(rows), err)
	}
	if rows[0].Kind != store.KindText {
		t.Fatalf("expected first row to be the text summary, got %s", rows[0].Kind)
	}
	if rows[1].Kind != store.KindImage || rows[1].MediaPublicURL == "" {
		t.Fatalf("expected second row to be the variant image, got %+v", rows[1])
	}
}

func TestHandleOrderStatusFallsBackWhenNoOrders(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().
		CustomerOrders(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil)

	eng, db := newTestEngine(t, Config{}, backend)
	if err := eng.handleOrderStatus(context.Background(), "212600000002"); err != nil {
		t.Fatalf("handleOrderStatus: %v", err)
	}
	rows, _ := db.GetMessages(context.Background(), "212600000002", 0, 10)
	if len(rows) != 1 || rows[0].Kind != store.KindText {
		t.Fatalf("expected exactly one fallback text row, got %+v", rows)
	}
}
