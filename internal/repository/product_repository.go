package repository

import (
	"context"

	"github.com/honeynil/ShopLedgerService/internal/models"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context) ([]models.Product, error)
	// AdjustStock adds delta to the product stock atomically. A result below
	// zero is refused with ErrOutOfStock.
	AdjustStock(ctx context.Context, id string, delta int) error
}
