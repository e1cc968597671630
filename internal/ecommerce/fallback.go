package ecommerce

import "context"

// FallbackResolver adapts a Backend to processor.FallbackImageResolver
// (spec.md §4.5's interactive-product fallback chain: "resolve a
// fallback image (local catalog cache -> upstream variant lookup)").
type FallbackResolver struct {
	Backend Backend
}

// ResolveFallbackImage looks up the variant's parent product image.
func (r FallbackResolver) ResolveFallbackImage(ctx context.Context, retailerID string) (string, bool) {
	p, ok, err := r.Backend.ResolveVariant(ctx, retailerID)
	if err != nil || !ok || p.ImageURL == "" {
		return "", false
	}
	return p.ImageURL, true
}
