// Package ecommerce is the e-commerce backend collaborator (spec.md
// §4.6): product/variant lookup for the catalog auto-reply, and order
// lookup for the order-status flow. Grounded on
// original_source/backend/shopify_service.py -- the distilled spec
// targets a generic "e-commerce backend" but the source system is
// Shopify's Admin REST API (products.json, variants/<id>.json,
// customers/search.json), so this package speaks that API rather than
// inventing a protocol-free abstraction.
package ecommerce

import (
	"context"
	"time"
)

// Product is a catalog entry resolved from the e-commerce backend.
type Product struct {
	CatalogID  string
	RetailerID string
	ProductID  string
	VariantID  string
	Name       string
	Price      string
	ImageURL   string
}

// OrderLine is one line item of a customer Order.
type OrderLine struct {
	Title     string
	Variant   string
	Quantity  int
	VariantID string
}

// Order is a customer's purchase, for the order-status flow.
type Order struct {
	OrderID   string
	CreatedAt time.Time
	Lines     []OrderLine
}

// Backend is the e-commerce collaborator contract used by
// internal/workflow (spec.md §4.6). internal/ecommerce/shopify.go
// implements it against the Shopify Admin API.
type Backend interface {
	// ListProducts returns the full catalog, used for fuzzy name
	// matching; implementations should cache this with the 15-minute
	// freshness window spec.md §6 names.
	ListProducts(ctx context.Context) ([]Product, error)
	// ResolveVariant looks up a product by variant id.
	ResolveVariant(ctx context.Context, variantID string) (Product, bool, error)
	// ResolveProductFirstVariant looks up a product id and returns its
	// first variant.
	ResolveProductFirstVariant(ctx context.Context, productID string) (Product, bool, error)
	// CustomerOrders returns orders for the customer identified by
	// phone, created at or after since, newest first, capped at limit.
	CustomerOrders(ctx context.Context, phone string, since time.Time, limit int) ([]Order, error)
	// VariantImageURLs returns up to max image URLs for a variant's
	// parent product.
	VariantImageURLs(ctx context.Context, variantID string, max int) ([]string, error)
}
