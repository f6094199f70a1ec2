package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

// Route binds a payment method to the gateway serving it and the currency
// code that gateway expects.
type Route struct {
	Gateway  Gateway
	Currency string
}

type Registry struct {
	mu     sync.RWMutex
	routes map[models.PaymentMethod]Route
	byName map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{
		routes: make(map[models.PaymentMethod]Route),
		byName: make(map[string]Gateway),
	}
}

func (r *Registry) Register(method models.PaymentMethod, gw Gateway, currency string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes[method] = Route{Gateway: gw, Currency: currency}
	r.byName[gw.Name()] = gw
}

func (r *Registry) Resolve(method models.PaymentMethod) (Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[method]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedPaymentMethod, method)
	}
	return route, nil
}

// Gateway looks a gateway up by its Name.
func (r *Registry) Gateway(name string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.byName[name]
	return gw, ok
}

func (r *Registry) Supports(method models.PaymentMethod) bool {
	_, err := r.Resolve(method)
	return err == nil
}

func (r *Registry) Methods() []models.PaymentMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PaymentMethod, 0, len(r.routes))
	for m := range r.routes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
