package observability

import (
	"context"
	"net/http"

	"github.com/honeynil/ShopLedgerService/internal/config"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup installs logging, metrics and tracing for the process and returns the
// tracer shutdown hook together with the /metrics handler.
func Setup(ctx context.Context, cfg *config.Config) (func(context.Context) error, http.Handler, error) {
	observability.InitLogger(cfg.LogLevel)
	observability.InitMetrics()
	tracerShutdown, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}
	return tracerShutdown, promhttp.Handler(), nil
}
