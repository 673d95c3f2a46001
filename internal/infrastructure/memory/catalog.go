package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/ahz777/nxtmarket/internal/domain/catalog"
)

// Catalog is an in-process stock ledger. The mutex makes each conditional
// decrement a single atomic step.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewCatalog(products ...domain.Product) *Catalog {
	c := &Catalog{products: make(map[string]*domain.Product, len(products))}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

// Put inserts or replaces a product. SKUs are stored uppercase.
func (c *Catalog) Put(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.SKU = strings.ToUpper(p.SKU)
	c.products[p.ID] = &p
}

// Remove deletes a product, simulating a catalog edit racing a checkout.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

func (c *Catalog) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	_ = ctx
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrInvalidID
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (c *Catalog) Decrement(ctx context.Context, id string, qty int) (int, error) {
	_ = ctx
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if p.Stock < qty {
		return p.Stock, domain.ErrInsufficientStock
	}
	p.Stock -= qty
	return p.Stock, nil
}

func (c *Catalog) Increment(ctx context.Context, id string, qty int) error {
	_ = ctx
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Stock += qty
	return nil
}

func (c *Catalog) IncrementBySKU(ctx context.Context, sku string, qty int) error {
	_ = ctx
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	sku = strings.ToUpper(sku)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.products {
		if p.SKU == sku {
			p.Stock += qty
			return nil
		}
	}
	return domain.ErrNotFound
}

// Stock reports the current stock of id, or -1 when it does not exist.
func (c *Catalog) Stock(id string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.products[id]; ok {
		return p.Stock
	}
	return -1
}
