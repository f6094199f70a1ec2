package memory

import (
	"context"
	"sort"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

type ProductRepository struct {
	db *DB
}

// Put inserts or replaces a catalog entry.
func (r *ProductRepository) Put(product models.Product) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.products[product.ID] = &product
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*models.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.products[id]
	if !ok {
		return nil, pkgerrors.ErrProductNotFound
	}
	out := *p
	return &out, nil
}

func (r *ProductRepository) List(_ context.Context) ([]models.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	out := make([]models.Product, 0, len(r.db.products))
	for _, p := range r.db.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ProductRepository) AdjustStock(_ context.Context, id string, delta int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.products[id]
	if !ok {
		return pkgerrors.ErrProductNotFound
	}
	if p.Stock+delta < 0 {
		return pkgerrors.ErrOutOfStock
	}
	p.Stock += delta
	return nil
}
