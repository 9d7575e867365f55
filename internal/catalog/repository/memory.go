package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	"github.com/fjod/go_store/internal/catalog/domain"
)

// MemoryRepository keeps products in a map. Returned products are copies so
// callers never share state with the catalog.
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewMemoryRepository(products ...*domain.Product) *MemoryRepository {
	r := &MemoryRepository{products: make(map[string]domain.Product)}
	for _, p := range products {
		r.put(p)
	}
	return r
}

func (r *MemoryRepository) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeProductNotFound, "product %s not found", id)
	}
	return &p, nil
}

func (r *MemoryRepository) GetAllProducts(_ context.Context) ([]*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	products := make([]*domain.Product, 0, len(r.products))
	for _, p := range r.products {
		p := p
		products = append(products, &p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (r *MemoryRepository) SaveProduct(_ context.Context, p *domain.Product) error {
	r.put(p)
	return nil
}

func (r *MemoryRepository) put(p *domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.products[p.ID] = *p
}
