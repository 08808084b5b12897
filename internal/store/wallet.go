package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrCreateWallet returns the single wallet for a user, creating it on
// first access.
func (s *Store) GetOrCreateWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	var w models.Wallet
	err = s.db.GetContext(ctx, &w, "SELECT * FROM wallets WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

// GetWalletBalance computes the balance as a read-only aggregate over the
// immutable log. No locks are taken.
func (s *Store) GetWalletBalance(ctx context.Context, walletID int64) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance,
		"SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE wallet_id = $1", walletID)
	return balance, err
}

// ListWalletTransactions returns the ledger history for a wallet
func (s *Store) ListWalletTransactions(ctx context.Context, walletID int64) ([]models.WalletTransaction, error) {
	var txs []models.WalletTransaction
	err := s.db.SelectContext(ctx, &txs,
		"SELECT * FROM wallet_transactions WHERE wallet_id = $1 ORDER BY created_at DESC", walletID)
	return txs, err
}

// Deposit appends a DEPOSIT transaction
func (s *Store) Deposit(ctx context.Context, walletID, amount int64, description string) (*models.WalletTransaction, error) {
	var wt models.WalletTransaction
	err := s.db.GetContext(ctx, &wt,
		`INSERT INTO wallet_transactions (wallet_id, type, amount, description)
		 VALUES ($1, $2, $3, $4) RETURNING *`,
		walletID, models.TxTypeDeposit, amount, description)
	if err != nil {
		return nil, fmt.Errorf("insert deposit: %w", err)
	}
	return &wt, nil
}

// PayOrderWithWalletTx debits the buyer wallet and marks the order PAID in
// one atomic unit. The wallet row lock serializes concurrent debits so the
// balance check holds; the order row lock closes the race against a
// concurrent cancellation. Returns applied=false if the order is already
// PAID (safe retry).
func (s *Store) PayOrderWithWalletTx(ctx context.Context, orderID, walletID int64) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var order models.Order
		err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		if order.PaymentStatus == models.PaymentStatusPaid {
			return nil
		}
		if order.Status == models.OrderStatusCancelled {
			return fmt.Errorf("order %d already cancelled: %w", orderID, apperr.ErrConflictingTransition)
		}

		var dummy int
		err = tx.GetContext(ctx, &dummy, "SELECT 1 FROM wallets WHERE id = $1 FOR UPDATE", walletID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("wallet %d: %w", walletID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		var balance int64
		err = tx.GetContext(ctx, &balance,
			"SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE wallet_id = $1", walletID)
		if err != nil {
			return fmt.Errorf("sum wallet: %w", err)
		}
		if balance < order.TotalAmount {
			return fmt.Errorf("balance %d below total %d: %w", balance, order.TotalAmount, apperr.ErrInsufficientFunds)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallet_transactions (wallet_id, type, amount, order_id, description)
			 VALUES ($1, $2, $3, $4, $5)`,
			walletID, models.TxTypeWithdraw, -order.TotalAmount, orderID, "order payment")
		if err != nil {
			return fmt.Errorf("insert withdraw: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET payment_status = $1, paid_at = NOW(), updated_at = NOW() WHERE id = $2`,
			models.PaymentStatusPaid, orderID)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		applied = true
		return nil
	})
	return applied, err
}

// PostSellerPayoutTx posts PAYMENT_TO_SELLER and PLATFORM_FEE for a paid
// order exactly once. The order row lock closes the race between two
// concurrent payout sweeps; the existence check makes re-runs no-ops.
func (s *Store) PostSellerPayoutTx(ctx context.Context, orderID, sellerWalletID, payout, fee int64) (bool, error) {
	posted := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var dummy int
		err := tx.GetContext(ctx, &dummy, "SELECT 1 FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		var exists bool
		err = tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM wallet_transactions WHERE order_id = $1 AND type = $2)`,
			orderID, models.TxTypePaymentToSeller)
		if err != nil {
			return fmt.Errorf("check existing payout: %w", err)
		}
		if exists {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallet_transactions (wallet_id, type, amount, order_id, description)
			 VALUES ($1, $2, $3, $4, $5)`,
			sellerWalletID, models.TxTypePaymentToSeller, payout, orderID, "seller payout")
		if err != nil {
			return fmt.Errorf("insert seller payout: %w", err)
		}

		if fee > 0 {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO wallet_transactions (wallet_id, type, amount, order_id, description)
				 VALUES ($1, $2, $3, $4, $5)`,
				sellerWalletID, models.TxTypePlatformFee, -fee, orderID, "platform commission")
			if err != nil {
				return fmt.Errorf("insert platform fee: %w", err)
			}
		}

		posted = true
		return nil
	})
	return posted, err
}

// PostRefundPayoutTx credits the buyer wallet for a completed refund exactly
// once, keyed by refund id.
func (s *Store) PostRefundPayoutTx(ctx context.Context, refundID, orderID, buyerWalletID, amount int64) (bool, error) {
	posted := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var dummy int
		err := tx.GetContext(ctx, &dummy, "SELECT 1 FROM refunds WHERE id = $1 FOR UPDATE", refundID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("refund %d: %w", refundID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock refund: %w", err)
		}

		var exists bool
		err = tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM wallet_transactions WHERE refund_id = $1 AND type = $2)`,
			refundID, models.TxTypeRefundToSeller)
		if err != nil {
			return fmt.Errorf("check existing refund payout: %w", err)
		}
		if exists {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallet_transactions (wallet_id, type, amount, order_id, refund_id, description)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			buyerWalletID, models.TxTypeRefundToSeller, amount, orderID, refundID, "refund reversal")
		if err != nil {
			return fmt.Errorf("insert refund payout: %w", err)
		}

		posted = true
		return nil
	})
	return posted, err
}

// ListPayableOrders finds PAID orders past the holding window that have no
// seller payout posted yet. CANCELLED orders are excluded as a backstop: a
// cancelled order must never produce a seller payout.
func (s *Store) ListPayableOrders(ctx context.Context, paidBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT o.* FROM orders o
		 WHERE o.payment_status = $1 AND o.paid_at < $2 AND o.status <> $3
		   AND NOT EXISTS (
		       SELECT 1 FROM wallet_transactions wt
		       WHERE wt.order_id = o.id AND wt.type = $4)
		 ORDER BY o.paid_at
		 LIMIT $5`,
		models.PaymentStatusPaid, paidBefore, models.OrderStatusCancelled,
		models.TxTypePaymentToSeller, limit)
	return orders, err
}
