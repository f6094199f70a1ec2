package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	ServiceName  string
	HTTPAddr     string
	LogLevel     string
	OTLPEndpoint string

	// Storage is "postgres" or "memory".
	Storage      string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	KafkaGroupID string
	// LockBackend is "redis" or "local"; local only serializes one process.
	LockBackend string
	LockTTL     time.Duration

	JWTSecret      string
	TokenTTL       time.Duration
	AdminTokenHash string

	RechargeWindow  time.Duration
	OrderWindow     time.Duration
	SweepInterval   time.Duration
	BalanceCacheTTL time.Duration
	MinRecharge     decimal.Decimal
	ReferralBonus   decimal.Decimal

	BEpusdtURL       string
	BEpusdtAppID     string
	BEpusdtSecret    string
	BEpusdtNotifyURL string

	OnchainUSDTAddress string
	OnchainTRXAddress  string
	OnchainSecret      string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		ServiceName:  getEnv("SERVICE_NAME", "shop-ledger"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),

		Storage:      getEnv("STORAGE", "postgres"),
		PostgresDSN:  getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=shop sslmode=disable"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "shop-ledger"),
		LockBackend:  getEnv("LOCK_BACKEND", "redis"),
		LockTTL:      getDuration("LOCK_TTL", 10*time.Second),

		JWTSecret:      getEnv("JWT_SECRET", "supersecret"),
		TokenTTL:       getDuration("TOKEN_TTL", 24*time.Hour),
		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),

		RechargeWindow:  getDuration("RECHARGE_WINDOW", time.Hour),
		OrderWindow:     getDuration("ORDER_WINDOW", 30*time.Minute),
		SweepInterval:   getDuration("SWEEP_INTERVAL", time.Minute),
		BalanceCacheTTL: getDuration("BALANCE_CACHE_TTL", 5*time.Minute),
		MinRecharge:     getDecimal("MIN_RECHARGE", decimal.NewFromInt(1)),
		ReferralBonus:   getDecimal("REFERRAL_BONUS", decimal.NewFromInt(10)),

		BEpusdtURL:       os.Getenv("BEPUSDT_URL"),
		BEpusdtAppID:     os.Getenv("BEPUSDT_APP_ID"),
		BEpusdtSecret:    os.Getenv("BEPUSDT_SECRET"),
		BEpusdtNotifyURL: os.Getenv("BEPUSDT_NOTIFY_URL"),

		OnchainUSDTAddress: os.Getenv("ONCHAIN_USDT_ADDRESS"),
		OnchainTRXAddress:  os.Getenv("ONCHAIN_TRX_ADDRESS"),
		OnchainSecret:      os.Getenv("ONCHAIN_SECRET"),
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"storage", cfg.Storage,
		"lock_backend", cfg.LockBackend,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"recharge_window", cfg.RechargeWindow,
		"order_window", cfg.OrderWindow,
		"bepusdt_enabled", cfg.BEpusdtURL != "",
	)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		slog.Warn("invalid amount, using default", "key", key, "value", v, "default", fallback.String())
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
