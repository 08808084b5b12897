package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// WalletService fronts the append-only ledger. Balance reads are lock-free
// aggregates; the payout writers are idempotent by construction.
type WalletService struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger

	platformFeePct int
	payoutHold     time.Duration
}

// NewWalletService creates a new wallet service
func NewWalletService(store Store, notifier Notifier, platformFeePct int, payoutHold time.Duration) *WalletService {
	return &WalletService{
		store:          store,
		notifier:       notifier,
		logger:         util.GetLogger(),
		platformFeePct: platformFeePct,
		payoutHold:     payoutHold,
	}
}

// GetBalance returns the caller's wallet and derived balance.
func (ws *WalletService) GetBalance(ctx context.Context, actor models.Actor) (*models.Wallet, int64, error) {
	wallet, err := ws.store.GetOrCreateWallet(ctx, actor.UserID)
	if err != nil {
		return nil, 0, err
	}
	balance, err := ws.store.GetWalletBalance(ctx, wallet.ID)
	if err != nil {
		return nil, 0, err
	}
	return wallet, balance, nil
}

// GetTransactions returns the caller's ledger history.
func (ws *WalletService) GetTransactions(ctx context.Context, actor models.Actor) ([]models.WalletTransaction, error) {
	wallet, err := ws.store.GetOrCreateWallet(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return ws.store.ListWalletTransactions(ctx, wallet.ID)
}

// Deposit credits the caller's wallet.
func (ws *WalletService) Deposit(ctx context.Context, actor models.Actor, amount int64, description string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %w", apperr.ErrValidation)
	}
	wallet, err := ws.store.GetOrCreateWallet(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return ws.store.Deposit(ctx, wallet.ID, amount, description)
}

// PostSellerPayout credits the seller for a paid order exactly once:
// PAYMENT_TO_SELLER for the total minus commission, PLATFORM_FEE for the
// commission. Reports whether a posting happened.
func (ws *WalletService) PostSellerPayout(ctx context.Context, orderID int64) (bool, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.PostSellerPayout")
	defer span.End()

	order, err := ws.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.PaymentStatus != models.PaymentStatusPaid {
		return false, fmt.Errorf("order %d is not paid: %w", orderID, apperr.ErrPreconditionFailed)
	}

	shop, err := ws.store.GetShopByID(ctx, order.ShopID)
	if err != nil {
		return false, err
	}
	sellerWallet, err := ws.store.GetOrCreateWallet(ctx, shop.OwnerUserID)
	if err != nil {
		return false, err
	}

	fee := order.TotalAmount * int64(ws.platformFeePct) / 100
	payout := order.TotalAmount - fee

	posted, err := ws.store.PostSellerPayoutTx(ctx, orderID, sellerWallet.ID, payout, fee)
	if err != nil {
		return false, err
	}
	if !posted {
		util.PayoutsSkippedTotal.Inc()
		return false, nil
	}

	util.PayoutsPostedTotal.Inc()
	ws.logger.Info("Seller payout posted",
		zap.Int64("order_id", orderID),
		zap.Int64("wallet_id", sellerWallet.ID),
		zap.Int64("payout", payout),
		zap.Int64("fee", fee))

	msg := fmt.Sprintf("Payout for order %d released", orderID)
	if err := ws.notifier.Notify(ctx, shop.OwnerUserID, models.NotifyPayoutReleased, msg, orderID); err != nil {
		util.NotifyPublishFailedTotal.Inc()
		ws.logger.Warn("Failed to publish payout notification", zap.Error(err))
	}

	return true, nil
}

// ReleaseDuePayouts sweeps PAID orders past the holding window that lack a
// seller payout and posts one each. Safe to run concurrently: the per-order
// check-then-post closes the race.
func (ws *WalletService) ReleaseDuePayouts(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.ReleaseDuePayouts")
	defer span.End()

	paidBefore := time.Now().Add(-ws.payoutHold)
	orders, err := ws.store.ListPayableOrders(ctx, paidBefore, 100)
	if err != nil {
		return 0, fmt.Errorf("list payable orders: %w", err)
	}

	released := 0
	for _, order := range orders {
		posted, err := ws.PostSellerPayout(ctx, order.ID)
		if err != nil {
			ws.logger.Error("Payout sweep failed for order",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			continue
		}
		if posted {
			released++
		}
	}

	if released > 0 {
		ws.logger.Info("Released deferred payouts", zap.Int("count", released))
	}
	return released, nil
}
