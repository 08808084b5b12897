package worker

import (
	"context"
	"time"

	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// Reconciler runs the two recurring sweeps: stale unpaid order expiry and
// deferred seller payout. Both are idempotent, so overlapping runs are safe;
// the Redis lock only avoids wasted work across replicas.
type Reconciler struct {
	orders  *service.OrderService
	wallets *service.WalletService
	redis   *redisclient.Client
	logger  *zap.Logger

	interval time.Duration
}

// NewReconciler creates a new reconciler
func NewReconciler(orders *service.OrderService, wallets *service.WalletService, redis *redisclient.Client, interval time.Duration) *Reconciler {
	return &Reconciler{
		orders:   orders,
		wallets:  wallets,
		redis:    redis,
		logger:   util.GetLogger(),
		interval: interval,
	}
}

// Start runs the sweeps until the context ends.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting reconciler", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			r.runSweep(ctx, "order-expiry", func(sctx context.Context) error {
				_, err := r.orders.ExpireStaleOrders(sctx)
				return err
			})
			r.runSweep(ctx, "deferred-payout", func(sctx context.Context) error {
				_, err := r.wallets.ReleaseDuePayouts(sctx)
				return err
			})
		}
	}
}

func (r *Reconciler) runSweep(ctx context.Context, name string, sweep func(context.Context) error) {
	if r.redis != nil {
		acquired, err := r.redis.AcquireLock(ctx, "sweep:"+name, r.interval)
		if err != nil {
			r.logger.Warn("Sweep lock unavailable, running anyway",
				zap.String("sweep", name), zap.Error(err))
		} else if !acquired {
			return
		} else {
			defer func() {
				if err := r.redis.ReleaseLock(ctx, "sweep:"+name); err != nil {
					r.logger.Warn("Failed to release sweep lock",
						zap.String("sweep", name), zap.Error(err))
				}
			}()
		}
	}

	sctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	if err := sweep(sctx); err != nil {
		r.logger.Error("Sweep failed", zap.String("sweep", name), zap.Error(err))
	}
}
