package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/ShopLedgerService/internal/gateway"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/locker"
	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/repository"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type CreateOrderRequest struct {
	UserID        int64                `json:"user_id"`
	ProductID     string               `json:"product_id"`
	Quantity      int                  `json:"quantity"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
}

type OrderCheckout struct {
	Order  *models.Order          `json:"order"`
	Intent *gateway.PaymentIntent `json:"intent,omitempty"`
}

// Quote is a side-effect free price breakdown.
type Quote struct {
	ProductID      string             `json:"product_id"`
	Quantity       int                `json:"quantity"`
	Level          models.MemberLevel `json:"level,omitempty"`
	DiscountRate   decimal.Decimal    `json:"discount_rate"`
	OriginalAmount decimal.Decimal    `json:"original_amount"`
	DiscountAmount decimal.Decimal    `json:"discount_amount"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
}

type OrderService struct {
	users     repository.UserRepository
	orders    repository.OrderRepository
	products  repository.ProductRepository
	ledger    *Ledger
	registry  *gateway.Registry
	locks     locker.Locker
	fulfiller Fulfiller
	publisher Publisher
	window    time.Duration
	now       func() time.Time
}

func NewOrderService(
	users repository.UserRepository,
	orders repository.OrderRepository,
	products repository.ProductRepository,
	ledger *Ledger,
	registry *gateway.Registry,
	locks locker.Locker,
	fulfiller Fulfiller,
	publisher Publisher,
	window time.Duration,
) *OrderService {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &OrderService{
		users:     users,
		orders:    orders,
		products:  products,
		ledger:    ledger,
		registry:  registry,
		locks:     locks,
		fulfiller: fulfiller,
		publisher: publisher,
		window:    window,
		now:       time.Now,
	}
}

// price computes the discounted total for qty units. user may be nil.
func price(product *models.Product, qty int, user *models.User) Quote {
	q := Quote{
		ProductID:      product.ID,
		Quantity:       qty,
		DiscountRate:   decimal.Zero,
		OriginalAmount: product.Price.Mul(decimal.NewFromInt(int64(qty))),
	}
	if user != nil {
		b := user.Level.Benefits()
		q.Level = user.Level
		q.DiscountRate = b.Discount
	}
	q.TotalAmount = q.OriginalAmount.Mul(decimal.NewFromInt(1).Sub(q.DiscountRate)).Round(2)
	q.DiscountAmount = q.OriginalAmount.Sub(q.TotalAmount)
	return q
}

// lookupUser returns nil for unknown users.
func (s *OrderService) lookupUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, pkgerrors.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *OrderService) Quote(ctx context.Context, userID int64, productID string, qty int) (*Quote, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", pkgerrors.ErrInvalidInput)
	}
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	q := price(product, qty, user)
	return &q, nil
}

// Products lists the catalog entries still in stock.
func (s *OrderService) Products(ctx context.Context) ([]models.Product, error) {
	all, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(all))
	for _, p := range all {
		if p.Stock > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderCheckout, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "CreateOrder")
	span.SetAttributes(
		attribute.Int64("user_id", req.UserID),
		attribute.String("product_id", req.ProductID),
		attribute.String("method", string(req.PaymentMethod)),
	)
	defer span.End()

	if req.Quantity <= 0 {
		span.SetStatus(codes.Error, "invalid quantity")
		return nil, fmt.Errorf("%w: quantity must be positive", pkgerrors.ErrInvalidInput)
	}

	product, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if product.Stock < req.Quantity {
		span.SetStatus(codes.Error, "out of stock")
		return nil, pkgerrors.ErrOutOfStock
	}

	user, err := s.lookupUser(ctx, req.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	q := price(product, req.Quantity, user)
	now := s.now()
	order := &models.Order{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Items: []models.OrderItem{{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  req.Quantity,
		}},
		OriginalAmount: q.OriginalAmount,
		DiscountAmount: q.DiscountAmount,
		TotalAmount:    q.TotalAmount,
		PaymentMethod:  req.PaymentMethod,
		Status:         models.OrderPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.window),
	}

	var checkout *OrderCheckout
	if req.PaymentMethod == models.MethodBalance {
		checkout, err = s.payWithBalance(ctx, user, order)
	} else {
		checkout, err = s.payWithGateway(ctx, order)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return checkout, nil
}

func (s *OrderService) payWithBalance(ctx context.Context, user *models.User, order *models.Order) (*OrderCheckout, error) {
	if user == nil {
		return nil, pkgerrors.ErrNotAMember
	}
	if user.Balance.LessThan(order.TotalAmount) {
		return nil, pkgerrors.ErrInsufficientFunds
	}

	unlock, err := s.locks.Lock(ctx, userLockKey(user.ID))
	if err != nil {
		return nil, err
	}

	if err := s.reserve(ctx, order); err != nil {
		unlock()
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.restock(ctx, order)
		unlock()
		return nil, err
	}

	reason := fmt.Sprintf("purchase %s x%d", order.Items[0].Name, order.Items[0].Quantity)
	if _, err := s.ledger.apply(ctx, user.ID, order.TotalAmount.Neg(), models.KindPurchase, reason, order.ID); err != nil {
		if failErr := s.orders.MarkFailed(ctx, order.ID); failErr != nil {
			slog.Error("failed to fail order after debit error", "order_id", order.ID, "error", failErr)
		}
		s.restock(ctx, order)
		unlock()
		observability.Settlements.WithLabelValues("order", "error").Inc()
		return nil, err
	}

	completedAt := s.now()
	if err := s.orders.MarkCompleted(ctx, order.ID, "", completedAt); err != nil {
		// the debit is committed; the order row is the only thing out of date
		slog.Error("failed to complete paid order", "order_id", order.ID, "error", err)
	}
	unlock()

	order.Status = models.OrderCompleted
	order.CompletedAt = &completedAt
	observability.Settlements.WithLabelValues("order", "completed").Inc()
	s.completed(ctx, order)

	slog.Info("order paid from balance",
		"order_id", order.ID,
		"user_id", order.UserID,
		"total", order.TotalAmount.String())
	return &OrderCheckout{Order: order}, nil
}

func (s *OrderService) payWithGateway(ctx context.Context, order *models.Order) (*OrderCheckout, error) {
	route, err := s.registry.Resolve(order.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if err := s.reserve(ctx, order); err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.restock(ctx, order)
		return nil, err
	}

	intent, err := route.Gateway.CreateOrder(ctx, gateway.CreateRequest{
		Kind:        string(KindOrderRecord),
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Currency:    route.Currency,
		Description: order.Items[0].Name,
		Timeout:     s.window,
	})
	if err != nil {
		slog.Error("failed to open order payment", "order_id", order.ID, "gateway", route.Gateway.Name(), "error", err)
		if failErr := s.orders.MarkFailed(ctx, order.ID); failErr == nil {
			s.restock(ctx, order)
		} else {
			slog.Error("failed to fail order after gateway error", "order_id", order.ID, "error", failErr)
		}
		return nil, err
	}

	if intent.PaymentOrderID != "" {
		if err := s.orders.SetPaymentOrderID(ctx, order.ID, intent.PaymentOrderID); err != nil {
			slog.Error("failed to store payment order id", "order_id", order.ID, "error", err)
		}
		order.PaymentOrderID = intent.PaymentOrderID
	}

	slog.Info("order awaiting payment",
		"order_id", order.ID,
		"user_id", order.UserID,
		"gateway", route.Gateway.Name(),
		"total", order.TotalAmount.String())
	return &OrderCheckout{Order: order, Intent: intent}, nil
}

// reserve takes stock for every line, undoing partial reservations on error.
func (s *OrderService) reserve(ctx context.Context, order *models.Order) error {
	for i, item := range order.Items {
		if err := s.products.AdjustStock(ctx, item.ProductID, -item.Quantity); err != nil {
			for _, done := range order.Items[:i] {
				if undoErr := s.products.AdjustStock(ctx, done.ProductID, done.Quantity); undoErr != nil {
					slog.Error("failed to undo stock reservation", "product_id", done.ProductID, "error", undoErr)
				}
			}
			return err
		}
	}
	return nil
}

func (s *OrderService) restock(ctx context.Context, order *models.Order) {
	for _, item := range order.Items {
		if err := s.products.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			slog.Error("failed to restore stock", "order_id", order.ID, "product_id", item.ProductID, "error", err)
		}
	}
}

// completed runs fulfillment once; callers must have won the transition to
// completed.
func (s *OrderService) completed(ctx context.Context, order *models.Order) {
	if s.fulfiller != nil {
		if err := s.fulfiller.Fulfill(ctx, order); err != nil {
			slog.Error("order fulfillment failed", "order_id", order.ID, "error", err)
		}
	}
	publish(ctx, s.publisher, TopicOrders, Event{
		Type:       "order_completed",
		RecordID:   order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Amount:     order.TotalAmount.String(),
		OccurredAt: s.now(),
	})
}

// SettleOrder applies a gateway outcome to a pending order.
func (s *OrderService) SettleOrder(ctx context.Context, orderID string, status gateway.Status, externalRef string) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "SettleOrder")
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("status", string(status)))
	defer span.End()

	unlock, err := s.locks.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		return order, pkgerrors.ErrAlreadySettled
	}

	switch status {
	case gateway.StatusPaid:
		completedAt := s.now()
		if err := s.orders.MarkCompleted(ctx, orderID, externalRef, completedAt); err != nil {
			return nil, err
		}
		order.Status = models.OrderCompleted
		order.CompletedAt = &completedAt
		if externalRef != "" {
			order.PaymentOrderID = externalRef
		}
		observability.Settlements.WithLabelValues("order", "completed").Inc()
		s.completed(ctx, order)
		slog.Info("order settled", "order_id", orderID, "user_id", order.UserID, "external_ref", externalRef)

	case gateway.StatusExpired, gateway.StatusFailed:
		if err := s.orders.MarkFailed(ctx, orderID); err != nil {
			return nil, err
		}
		s.restock(ctx, order)
		order.Status = models.OrderFailed
		observability.Settlements.WithLabelValues("order", string(status)).Inc()
		publish(ctx, s.publisher, TopicOrders, Event{
			Type:       "order_failed",
			RecordID:   order.ID,
			UserID:     order.UserID,
			Status:     string(order.Status),
			OccurredAt: s.now(),
		})
		slog.Info("order closed without payment", "order_id", orderID, "status", status)

	default:
		slog.Info("order settle ignored", "order_id", orderID, "status", status)
	}
	return order, nil
}

// ExpireOrder fails a pending order past its window and returns its stock.
// It reports whether the order changed.
func (s *OrderService) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.Status != models.OrderPending {
		return false, pkgerrors.ErrAlreadySettled
	}
	if !order.IsExpired(s.now()) {
		return false, nil
	}
	if _, err := s.SettleOrder(ctx, orderID, gateway.StatusExpired, ""); err != nil {
		return false, err
	}
	return true, nil
}

func (s *OrderService) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

func (s *OrderService) History(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	return s.orders.ListByUser(ctx, userID, limit)
}
