package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const productTracer = "product-repository"

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (_ *models.Product, err error) {
	ctx, done := observability.StartCall(ctx, productTracer, "GetProductByID", attribute.String("product_id", id))
	defer func() { done(err) }()

	query := `
			SELECT id, name, description, price, stock
			FROM products
			WHERE id = $1
`
	var p models.Product
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Stock,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrProductNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (r *ProductRepository) List(ctx context.Context) (_ []models.Product, err error) {
	ctx, done := observability.StartCall(ctx, productTracer, "ListProducts")
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, price, stock FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var p models.Product
		if err = rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AdjustStock applies delta in one statement guarded by stock + delta >= 0.
func (r *ProductRepository) AdjustStock(ctx context.Context, id string, delta int) (err error) {
	ctx, done := observability.StartCall(ctx, productTracer, "AdjustStock",
		attribute.String("product_id", id),
		attribute.Int("delta", delta),
	)
	defer func() { done(err) }()

	query := `
		UPDATE products
		SET stock = stock + $1
		WHERE id = $2
		AND (stock + $1) >= 0
		RETURNING stock
		`
	var stock int
	err = r.db.QueryRowContext(ctx, query, delta, id).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); qErr != nil {
			err = fmt.Errorf("failed to check product: %w", qErr)
			return err
		}
		if !exists {
			err = pkgerrors.ErrProductNotFound
			return err
		}
		err = pkgerrors.ErrOutOfStock
		return err
	}
	if err != nil {
		slog.Error("failed to adjust stock", "method", "AdjustStock", "product_id", id, "delta", delta, "error", err)
		return fmt.Errorf("failed to adjust stock: %w", err)
	}

	slog.Info("stock adjusted", "method", "AdjustStock", "product_id", id, "delta", delta, "stock", stock)
	return nil
}
