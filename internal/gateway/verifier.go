package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/redis"
)

// TransferVerifier decides whether the transfer for an on-chain intent has
// landed. Finding transfers is outside this service.
type TransferVerifier interface {
	Confirmed(ctx context.Context, intent *PaymentIntent) (txHash string, ok bool, err error)
}

// ConfirmationVerifier reads confirmations an external indexer writes to
// Redis under onchain:confirmed:<orderID>, with the tx hash as the value.
type ConfirmationVerifier struct {
	store redis.RedisClient
}

func NewConfirmationVerifier(store redis.RedisClient) *ConfirmationVerifier {
	return &ConfirmationVerifier{store: store}
}

func ConfirmationKey(orderID string) string { return "onchain:confirmed:" + orderID }

func (v *ConfirmationVerifier) Confirmed(ctx context.Context, intent *PaymentIntent) (string, bool, error) {
	txHash, err := v.store.Get(ctx, ConfirmationKey(intent.OrderID))
	if errors.Is(err, redis.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return txHash, true, nil
}

// StaticVerifier confirms exactly the orders it was told about. It is the
// fake used in tests and local runs.
type StaticVerifier struct {
	mu        sync.Mutex
	confirmed map[string]string
}

func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{confirmed: make(map[string]string)}
}

func (v *StaticVerifier) Confirm(orderID, txHash string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.confirmed[orderID] = txHash
}

func (v *StaticVerifier) Confirmed(_ context.Context, intent *PaymentIntent) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	txHash, ok := v.confirmed[intent.OrderID]
	return txHash, ok, nil
}
