// Package catalog is the product-catalog collaborator consumed by the
// checkout flow. The orchestrator only needs image resolution from it; the
// rest of the catalog (CRUD, search) lives elsewhere.
package catalog

import (
	"context"
	"errors"
	"sync"
)

// ErrProductNotFound means the product id resolves to nothing.
var ErrProductNotFound = errors.New("catalog: product not found")

// Product is the slice of the catalog entry the checkout flow cares about.
type Product struct {
	ID     string
	Name   string
	Images []string
}

// ProductCatalog resolves product details for order items.
type ProductCatalog interface {
	// PrimaryImage returns the product's first image URL, or
	// ErrProductNotFound.
	PrimaryImage(ctx context.Context, productID string) (string, error)
}

// MemoryCatalog is the in-process catalog used in dev mode and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

var _ ProductCatalog = (*MemoryCatalog)(nil)

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[string]Product)}
}

// Add inserts or replaces a product.
func (c *MemoryCatalog) Add(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// PrimaryImage returns the first image of the product, "" when the product
// exists but has no images.
func (c *MemoryCatalog) PrimaryImage(ctx context.Context, productID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return "", ErrProductNotFound
	}
	if len(p.Images) == 0 {
		return "", nil
	}
	return p.Images[0], nil
}
