package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/gateway"
	"github.com/honeynil/ShopLedgerService/internal/gateway/gatewaytest"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/redis/redistest"
	"github.com/honeynil/ShopLedgerService/internal/locker"
	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testSecret = "callback-secret"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingFulfiller struct {
	mu     sync.Mutex
	orders map[string]int
}

func (f *recordingFulfiller) Fulfill(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID]++
	return nil
}

func (f *recordingFulfiller) Count(orderID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[orderID]
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Send(_ context.Context, topic, _ string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

type fixture struct {
	ctx        context.Context
	clock      *clock
	db         *memory.DB
	cache      *redistest.Fake
	bepusdt    *gatewaytest.Fake
	onchain    *gatewaytest.Fake
	registry   *gateway.Registry
	ledger     *Ledger
	selector   *ActivitySelector
	recharges  *RechargeService
	orders     *OrderService
	members    *MemberService
	reconciler *Reconciler
	sweeper    *Sweeper
	fulfiller  *recordingFulfiller
	events     *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:       context.Background(),
		clock:     &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		db:        memory.NewDB(),
		cache:     redistest.New(),
		bepusdt:   gatewaytest.New("bepusdt", testSecret),
		onchain:   gatewaytest.New("onchain", testSecret),
		registry:  gateway.NewRegistry(),
		fulfiller: &recordingFulfiller{orders: make(map[string]int)},
		events:    &recordingPublisher{},
	}
	f.registry.Register(models.MethodUSDTTRC20, f.bepusdt, "usdt.trc20")
	f.registry.Register(models.MethodUSDT, f.onchain, "usdt")

	locks := locker.NewKeyed()
	users := f.db.Users()

	f.ledger = NewLedger(users, f.db.Transactions(), locks, f.cache)
	f.ledger.now = f.clock.Now
	f.selector = NewActivitySelector(f.db.Activities())
	f.selector.now = f.clock.Now
	f.recharges = NewRechargeService(users, f.db.Recharges(), f.db.Activities(), f.selector, f.ledger, f.registry, locks, f.events,
		RechargeConfig{Window: time.Hour, MinAmount: decimal.NewFromInt(1)})
	f.recharges.now = f.clock.Now
	f.orders = NewOrderService(users, f.db.Orders(), f.db.Products(), f.ledger, f.registry, locks, f.fulfiller, f.events, 30*time.Minute)
	f.orders.now = f.clock.Now
	f.members = NewMemberService(users, f.ledger, f.cache, 5*time.Minute, decimal.NewFromInt(10))
	f.reconciler = NewReconciler(f.recharges, f.orders, f.registry)
	f.reconciler.now = f.clock.Now
	f.sweeper = NewSweeper(f.reconciler, f.db.Recharges(), f.db.Orders(), time.Minute)
	f.sweeper.now = f.clock.Now
	return f
}

// member registers userID and funds it through the ledger.
func (f *fixture) member(t *testing.T, userID int64, balance string) *models.User {
	t.Helper()

	_, err := f.members.Register(f.ctx, RegisterRequest{UserID: userID, Username: "user" + itoa(userID)})
	require.NoError(t, err)
	if amount := dec(balance); amount.IsPositive() {
		_, err = f.ledger.Credit(f.ctx, userID, amount, models.KindAdmin, "seed", "")
		require.NoError(t, err)
	}
	u, err := f.db.Users().GetByID(f.ctx, userID)
	require.NoError(t, err)
	return u
}

func (f *fixture) product(id, price string, stock int) {
	f.db.Products().Put(models.Product{ID: id, Name: "Product " + id, Price: dec(price), Stock: stock})
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.db.Products().GetByID(f.ctx, id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	u, err := f.db.Users().GetByID(f.ctx, userID)
	require.NoError(t, err)
	return u.Balance
}

// requireBalanced checks that the stored balance equals the sum of entries.
func (f *fixture) requireBalanced(t *testing.T, userID int64) {
	t.Helper()
	balance, sum, err := f.ledger.Audit(f.ctx, userID)
	require.NoError(t, err)
	require.True(t, balance.Equal(sum), "balance %s != sum %s", balance, sum)
}

func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}
