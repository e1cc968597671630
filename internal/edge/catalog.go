package edge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

// catalogSetSettingKey namespaces named product sets inside the
// key/value Settings table, storing each set as a JSON array of
// variant ids (spec.md §6: "catalog caches are JSON blobs keyed by
// set id").
func catalogSetSettingKey(setID string) string { return "catalog_set:" + setID }

type sendCatalogItemRequest struct {
	UserID     string `json:"user_id"`
	RetailerID string `json:"retailer_id"`
	ProductID  string `json:"product_id"`
	Body       string `json:"body"`
}

// handleSendCatalogItem implements POST /send-catalog-item: a single
// interactive product card with the fallback chain spec.md §4.5 names.
func (s *Server) handleSendCatalogItem(c *fiber.Ctx) error {
	var req sendCatalogItemRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" || (req.RetailerID == "" && req.ProductID == "") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and retailer_id/product_id are required", "status": "failed"})
	}
	retailerID := req.RetailerID
	if retailerID == "" {
		p, ok, err := s.backend.ResolveProductFirstVariant(c.Context(), req.ProductID)
		if err != nil || !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown product_id", "status": "failed"})
		}
		retailerID = p.RetailerID
	}
	msg, err := s.proc.ProcessOutgoing(c.Context(), processor.OutgoingRequest{
		UserID:             req.UserID,
		Kind:               store.KindCatalogItem,
		Body:               req.Body,
		CatalogID:          s.cfg.DefaultCatalogID,
		ProductIdentifiers: &store.ProductIdentifiers{RetailerID: retailerID, ProductID: req.ProductID},
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	return c.JSON(msg)
}

// sendProductList chunks products to at most 30 per message (spec.md
// "Bit-level notes") and sends each chunk as a paginated interactive
// product list, auditing every chunk as a catalog_set Message.
func (s *Server) sendProductList(ctx context.Context, userID, sectionTitle string, products []ecommerce.Product) (int, error) {
	items := make([]upstream.ProductItem, len(products))
	for i, p := range products {
		items[i] = upstream.ProductItem{RetailerID: p.RetailerID}
	}
	chunks := upstream.ChunkProductList(items)
	for i, chunk := range chunks {
		env, err := s.upstream.SendInteractiveProductList(ctx, userID, s.cfg.DefaultCatalogID, sectionTitle, chunk, i+1, len(chunks), i*30)
		if err != nil {
			return i, err
		}
		msg := &store.Message{
			UserID:     userID,
			UpstreamID: env.UpstreamID(),
			Kind:       store.KindCatalogSet,
			Body:       fmt.Sprintf("%s (%d/%d)", sectionTitle, i+1, len(chunks)),
			FromAgent:  true,
			Status:     store.StatusSent,
		}
		if _, err := s.db.UpsertMessage(ctx, msg); err != nil {
			s.log.Warn().Err(err).Msg("persist catalog_set audit row failed")
		}
	}
	return len(chunks), nil
}

type sendCatalogSetRequest struct {
	UserID string `json:"user_id"`
	SetID  string `json:"set_id"`
}

// handleSendCatalogSet implements POST /send-catalog-set: a named
// product set (admin-curated retailer-id list in Settings) to one user.
func (s *Server) handleSendCatalogSet(c *fiber.Ctx) error {
	var req sendCatalogSetRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" || req.SetID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and set_id are required", "status": "failed"})
	}
	products, err := s.resolveCatalogSet(c.Context(), req.SetID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	sent, err := s.sendProductList(c.Context(), req.UserID, req.SetID, products)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	return c.JSON(fiber.Map{"chunks_sent": sent})
}

type sendCatalogAllRequest struct {
	UserID string `json:"user_id"`
}

// handleSendCatalogAll implements POST /send-catalog-all: the entire
// catalog, paginated, to one user.
func (s *Server) handleSendCatalogAll(c *fiber.Ctx) error {
	var req sendCatalogAllRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required", "status": "failed"})
	}
	products, err := s.backend.ListProducts(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	sent, err := s.sendProductList(c.Context(), req.UserID, "Catalogue", products)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	return c.JSON(fiber.Map{"chunks_sent": sent})
}

type sendCatalogSetAllRequest struct {
	SetID string `json:"set_id"`
}

// handleSendCatalogSetAll implements POST /send-catalog-set-all: a
// named product set broadcast to every known conversation.
func (s *Server) handleSendCatalogSetAll(c *fiber.Ctx) error {
	var req sendCatalogSetAllRequest
	if err := c.BodyParser(&req); err != nil || req.SetID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "set_id is required", "status": "failed"})
	}
	products, err := s.resolveCatalogSet(c.Context(), req.SetID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	conversations, err := s.db.ListConversations(c.Context(), store.ConversationFilter{})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	recipients := 0
	for _, conv := range conversations {
		if _, err := s.sendProductList(c.Context(), conv.UserID, req.SetID, products); err != nil {
			s.log.Warn().Err(err).Str("user_id", conv.UserID).Msg("catalog-set-all send failed for recipient")
			continue
		}
		recipients++
	}
	return c.JSON(fiber.Map{"recipients": recipients})
}

func (s *Server) resolveCatalogSet(ctx context.Context, setID string) ([]ecommerce.Product, error) {
	raw, ok, err := s.db.GetSetting(ctx, catalogSetSettingKey(setID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("unknown catalog set %q", setID)
	}
	var variantIDs []string
	if err := json.Unmarshal([]byte(raw), &variantIDs); err != nil {
		return nil, fmt.Errorf("malformed catalog set %q: %w", setID, err)
	}
	products := make([]ecommerce.Product, 0, len(variantIDs))
	for _, id := range variantIDs {
		if p, ok, err := s.backend.ResolveVariant(ctx, id); err == nil && ok {
			products = append(products, p)
		}
	}
	return products, nil
}
