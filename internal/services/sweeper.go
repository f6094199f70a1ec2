package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/repository"
)

// Sweeper closes overdue pending records. Each one is polled through the
// reconciler first so a gateway verdict wins over a local expiry.
type Sweeper struct {
	reconciler *Reconciler
	recharges  repository.RechargeRepository
	orders     repository.OrderRepository
	interval   time.Duration
	batch      int
	now        func() time.Time
}

func NewSweeper(reconciler *Reconciler, recharges repository.RechargeRepository, orders repository.OrderRepository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		reconciler: reconciler,
		recharges:  recharges,
		orders:     orders,
		interval:   interval,
		batch:      100,
		now:        time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce handles one batch and returns how many records changed state.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	changed := 0

	recharges, err := s.recharges.ListPendingExpired(ctx, now, s.batch)
	if err != nil {
		return changed, err
	}
	for _, rec := range recharges {
		if s.sweep(ctx, KindRechargeRecord, rec.ID) {
			changed++
		}
	}

	orders, err := s.orders.ListPendingExpired(ctx, now, s.batch)
	if err != nil {
		return changed, err
	}
	for _, o := range orders {
		if s.sweep(ctx, KindOrderRecord, o.ID) {
			changed++
		}
	}

	if changed > 0 {
		slog.Info("sweep finished", "changed", changed)
	}
	return changed, nil
}

func (s *Sweeper) sweep(ctx context.Context, kind RecordKind, id string) bool {
	out, err := s.reconciler.Poll(ctx, kind, id)
	if err == nil {
		return out.Applied
	}
	slog.Warn("poll failed, expiring locally", "kind", kind, "record_id", id, "error", err)
	changed, err := s.reconciler.expireLocally(ctx, kind, id)
	if err != nil {
		slog.Error("failed to expire record", "kind", kind, "record_id", id, "error", err)
		return false
	}
	return changed
}
