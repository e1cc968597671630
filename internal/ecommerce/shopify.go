package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const catalogFreshness = 15 * time.Minute

// ShopifyBackend implements Backend against the Shopify Admin REST
// API, generalizing original_source/backend/shopify_service.py's
// products.json / variants/<id>.json / customers/search.json calls
// into typed Go methods.
type ShopifyBackend struct {
	baseURL    string // e.g. https://{store}.myshopify.com/admin/api/2023-04
	accessToken string
	catalogID  string
	httpClient *http.Client

	mu          sync.Mutex
	cachedAt    time.Time
	cachedItems []Product
}

func NewShopifyBackend(storeDomain, accessToken, catalogID string) *ShopifyBackend {
	return &ShopifyBackend{
		baseURL:     fmt.Sprintf("https://%s/admin/api/2023-04", storeDomain),
		accessToken: accessToken,
		catalogID:   catalogID,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *ShopifyBackend) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Shopify-Access-Token", s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ecommerce: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ecommerce: status %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type shopifyVariant struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
}

type shopifyProduct struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Image    *struct{ Src string `json:"src"` } `json:"image"`
	Variants []shopifyVariant `json:"variants"`
}

// ListProducts fetches the catalog, serving the last response when
// younger than the 15-minute freshness window (spec.md §6).
func (s *ShopifyBackend) ListProducts(ctx context.Context) ([]Product, error) {
	s.mu.Lock()
	if time.Since(s.cachedAt) < catalogFreshness && s.cachedItems != nil {
		items := s.cachedItems
		s.mu.Unlock()
		return items, nil
	}
	s.mu.Unlock()

	var page struct {
		Products []shopifyProduct `json:"products"`
	}
	if err := s.get(ctx, "/products.json?limit=250", &page); err != nil {
		return nil, err
	}

	var out []Product
	for _, p := range page.Products {
		imageURL := ""
		if p.Image != nil {
			imageURL = p.Image.Src
		}
		for _, v := range p.Variants {
			out = append(out, Product{
				CatalogID:  s.catalogID,
				RetailerID: strconv.FormatInt(v.ID, 10),
				ProductID:  strconv.FormatInt(p.ID, 10),
				VariantID:  strconv.FormatInt(v.ID, 10),
				Name:       p.Title,
				Price:      v.Price,
				ImageURL:   imageURL,
			})
		}
	}

	s.mu.Lock()
	s.cachedItems = out
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return out, nil
}

// ResolveVariant fetches a single variant directly by id.
func (s *ShopifyBackend) ResolveVariant(ctx context.Context, variantID string) (Product, bool, error) {
	var wrap struct {
		Variant *shopifyVariant `json:"variant"`
	}
	if err := s.get(ctx, "/variants/"+variantID+".json", &wrap); err != nil {
		return Product{}, false, nil //nolint:nilerr // not-found and transient errors both fall through to product-id resolution
	}
	if wrap.Variant == nil {
		return Product{}, false, nil
	}
	return s.variantToProduct(ctx, *wrap.Variant)
}

// ResolveProductFirstVariant fetches a product by id and returns its
// first variant (spec.md §4.6 "product-first-variant").
func (s *ShopifyBackend) ResolveProductFirstVariant(ctx context.Context, productID string) (Product, bool, error) {
	var wrap struct {
		Product *shopifyProduct `json:"product"`
	}
	if err := s.get(ctx, "/products/"+productID+".json", &wrap); err != nil {
		return Product{}, false, nil //nolint:nilerr
	}
	if wrap.Product == nil || len(wrap.Product.Variants) == 0 {
		return Product{}, false, nil
	}
	imageURL := ""
	if wrap.Product.Image != nil {
		imageURL = wrap.Product.Image.Src
	}
	v := wrap.Product.Variants[0]
	return Product{
		CatalogID:  s.catalogID,
		RetailerID: strconv.FormatInt(v.ID, 10),
		ProductID:  strconv.FormatInt(wrap.Product.ID, 10),
		VariantID:  strconv.FormatInt(v.ID, 10),
		Name:       wrap.Product.Title,
		Price:      v.Price,
		ImageURL:   imageURL,
	}, true, nil
}

func (s *ShopifyBackend) variantToProduct(ctx context.Context, v shopifyVariant) (Product, bool, error) {
	var wrap struct {
		Product *shopifyProduct `json:"product"`
	}
	if err := s.get(ctx, "/products/"+strconv.FormatInt(v.ProductID, 10)+".json", &wrap); err != nil || wrap.Product == nil {
		return Product{
			RetailerID: strconv.FormatInt(v.ID, 10),
			VariantID:  strconv.FormatInt(v.ID, 10),
			ProductID:  strconv.FormatInt(v.ProductID, 10),
			Price:      v.Price,
			Name:       v.Title,
			CatalogID:  s.catalogID,
		}, true, nil
	}
	imageURL := ""
	if wrap.Product.Image != nil {
		imageURL = wrap.Product.Image.Src
	}
	return Product{
		CatalogID:  s.catalogID,
		RetailerID: strconv.FormatInt(v.ID, 10),
		ProductID:  strconv.FormatInt(v.ProductID, 10),
		VariantID:  strconv.FormatInt(v.ID, 10),
		Name:       wrap.Product.Title,
		Price:      v.Price,
		ImageURL:   imageURL,
	}, true, nil
}

type shopifyCustomer struct {
	ID    int64  `json:"id"`
	Phone string `json:"phone"`
}

type shopifyOrder struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	LineItems  []struct {
		Title       string `json:"title"`
		VariantID   int64  `json:"variant_id"`
		VariantTitle string `json:"variant_title"`
		Quantity    int    `json:"quantity"`
	} `json:"line_items"`
}

// CustomerOrders looks up the customer by phone, then lists their
// recent orders (spec.md §4.6 order-status flow).
func (s *ShopifyBackend) CustomerOrders(ctx context.Context, phone string, since time.Time, limit int) ([]Order, error) {
	var custPage struct {
		Customers []shopifyCustomer `json:"customers"`
	}
	if err := s.get(ctx, "/customers/search.json?query="+url.QueryEscape("phone:"+phone), &custPage); err != nil {
		return nil, err
	}
	if len(custPage.Customers) == 0 {
		return nil, nil
	}
	customerID := custPage.Customers[0].ID

	var orderPage struct {
		Orders []shopifyOrder `json:"orders"`
	}
	path := fmt.Sprintf("/orders.json?customer_id=%d&status=any&created_at_min=%s&limit=%d",
		customerID, url.QueryEscape(since.Format(time.RFC3339)), limit)
	if err := s.get(ctx, path, &orderPage); err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(orderPage.Orders))
	for _, o := range orderPage.Orders {
		lines := make([]OrderLine, 0, len(o.LineItems))
		for _, li := range o.LineItems {
			lines = append(lines, OrderLine{
				Title:     li.Title,
				Variant:   li.VariantTitle,
				Quantity:  li.Quantity,
				VariantID: strconv.FormatInt(li.VariantID, 10),
			})
		}
		out = append(out, Order{OrderID: o.Name, CreatedAt: o.CreatedAt, Lines: lines})
	}
	return out, nil
}

// VariantImageURLs resolves up to max image URLs for a variant's
// parent product.
func (s *ShopifyBackend) VariantImageURLs(ctx context.Context, variantID string, max int) ([]string, error) {
	p, ok, err := s.ResolveVariant(ctx, variantID)
	if err != nil || !ok || p.ImageURL == "" {
		return nil, err
	}
	if max < 1 {
		max = 1
	}
	return []string{p.ImageURL}, nil
}
