package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/api"
	"github.com/honeynil/ShopLedgerService/internal/config"
	"github.com/honeynil/ShopLedgerService/internal/fulfillment"
	"github.com/honeynil/ShopLedgerService/internal/gateway"
	"github.com/honeynil/ShopLedgerService/internal/handler"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/auth"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/kafka"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/redis"
	"github.com/honeynil/ShopLedgerService/internal/locker"
	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/observability"
	"github.com/honeynil/ShopLedgerService/internal/repository"
	"github.com/honeynil/ShopLedgerService/internal/repository/memory"
	"github.com/honeynil/ShopLedgerService/internal/repository/postgres"
	service "github.com/honeynil/ShopLedgerService/internal/services"
	_ "github.com/lib/pq"
)

type repositories struct {
	users        repository.UserRepository
	transactions repository.TransactionRepository
	activities   repository.ActivityRepository
	recharges    repository.RechargeRepository
	orders       repository.OrderRepository
	products     repository.ProductRepository
	close        func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	// Инициализируем логи, метрики, трейсы
	shutdownTracing, metrics, err := observability.Setup(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("failed to shut down tracing", "error", err)
		}
	}()

	if err := run(ctx, cfg, metrics); err != nil {
		slog.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("service stopped")
}

func run(ctx context.Context, cfg *config.Config, metrics http.Handler) error {
	repos, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var locks locker.Locker
	switch cfg.LockBackend {
	case "local":
		locks = locker.NewKeyed()
	default:
		locks = redis.NewLocker(redisClient, cfg.LockTTL)
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := buildRegistry(cfg, redisClient)
	if len(registry.Methods()) == 0 {
		slog.Warn("no payment gateway configured, only balance payments are available")
	}

	// Инициализируем сервисы
	ledger := service.NewLedger(repos.users, repos.transactions, locks, redisClient)
	selector := service.NewActivitySelector(repos.activities)
	members := service.NewMemberService(repos.users, ledger, redisClient, cfg.BalanceCacheTTL, cfg.ReferralBonus)
	recharges := service.NewRechargeService(
		repos.users, repos.recharges, repos.activities, selector, ledger, registry, locks, producer,
		service.RechargeConfig{Window: cfg.RechargeWindow, MinAmount: cfg.MinRecharge},
	)
	orders := service.NewOrderService(
		repos.users, repos.orders, repos.products, ledger, registry, locks,
		fulfillment.NewDispatcher(producer), producer, cfg.OrderWindow,
	)
	reconciler := service.NewReconciler(recharges, orders, registry)
	sweeper := service.NewSweeper(reconciler, repos.recharges, repos.orders, cfg.SweepInterval)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL, redisClient)

	if err := selector.SeedDefaults(ctx); err != nil {
		slog.Warn("failed to seed default activities", "error", err)
	}

	go sweeper.Run(ctx)

	// Настраиваем Kafka-консьюмер уведомлений от платёжных шлюзов
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, service.TopicPaymentNotifications, cfg.KafkaGroupID,
		func(ctx context.Context, n kafka.Notification) error {
			kind, err := service.ParseRecordKind(n.Kind)
			if err != nil {
				return err
			}
			_, err = reconciler.HandleCallback(ctx, n.Gateway, kind, n.Payload)
			return err
		})
	defer consumer.Close()
	go consumer.Consume(ctx)

	h := handler.NewHandler(members, recharges, orders, selector, reconciler, sweeper, tokens)
	router := api.SetupRouter(h, api.RouterConfig{
		Tokens:         tokens,
		AdminTokenHash: cfg.AdminTokenHash,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Storage == "memory" {
		slog.Warn("using in-memory storage, data is lost on restart")
		db := memory.NewDB()
		return &repositories{
			users:        db.Users(),
			transactions: db.Transactions(),
			activities:   db.Activities(),
			recharges:    db.Recharges(),
			orders:       db.Orders(),
			products:     db.Products(),
			close:        func() error { return nil },
		}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &repositories{
		users:        postgres.NewUserRepository(db),
		transactions: postgres.NewTransactionRepository(db),
		activities:   postgres.NewActivityRepository(db),
		recharges:    postgres.NewRechargeRepository(db),
		orders:       postgres.NewOrderRepository(db),
		products:     postgres.NewProductRepository(db),
		close:        db.Close,
	}, nil
}

func buildRegistry(cfg *config.Config, store redis.RedisClient) *gateway.Registry {
	registry := gateway.NewRegistry()

	if cfg.BEpusdtURL != "" {
		bepusdt := gateway.NewBEpusdt(gateway.BEpusdtConfig{
			BaseURL:   cfg.BEpusdtURL,
			AppID:     cfg.BEpusdtAppID,
			Secret:    cfg.BEpusdtSecret,
			NotifyURL: cfg.BEpusdtNotifyURL,
			Retries:   2,
		}, nil)
		for _, method := range []models.PaymentMethod{
			models.MethodUSDTTRC20,
			models.MethodTronTRX,
			models.MethodUSDTERC20,
			models.MethodUSDTBSC,
			models.MethodUSDTPolygon,
		} {
			registry.Register(method, bepusdt, string(method))
		}
	}

	addresses := make(map[string]string)
	if cfg.OnchainUSDTAddress != "" {
		addresses[string(models.MethodUSDT)] = cfg.OnchainUSDTAddress
	}
	if cfg.OnchainTRXAddress != "" {
		addresses[string(models.MethodTRX)] = cfg.OnchainTRXAddress
	}
	if len(addresses) > 0 {
		onchain := gateway.NewOnchain(gateway.OnchainConfig{
			Addresses: addresses,
			Window:    cfg.RechargeWindow,
			Secret:    cfg.OnchainSecret,
		}, store, gateway.NewConfirmationVerifier(store))
		for currency := range addresses {
			registry.Register(models.PaymentMethod(currency), onchain, currency)
		}
	}
	return registry
}
