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

// CreateVoucher creates a new voucher
func (s *Store) CreateVoucher(ctx context.Context, v *models.Voucher) error {
	query := `
		INSERT INTO vouchers (code, scope, shop_id, discount_amount, discount_percent,
			min_order_value, quantity, usage_limit, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, v, query,
		v.Code, v.Scope, v.ShopID, v.DiscountAmount, v.DiscountPercent,
		v.MinOrderValue, v.Quantity, v.UsageLimit, v.StartDate, v.EndDate, v.Status)
}

// GetVoucherByCode retrieves a voucher by its unique code
func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v, "SELECT * FROM vouchers WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("voucher %s: %w", code, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// redeemVoucherTx is the redemption guard: it locks the voucher row for the
// whole check-decrement-validate sequence so concurrent buyers serialize on
// it. Runs inside the order-creation transaction, so a later failure rolls
// the decrement back.
func redeemVoucherTx(ctx context.Context, tx *sqlx.Tx, code string, orderValue, buyerID, shopID int64) (*models.Voucher, error) {
	var v models.Voucher
	err := tx.GetContext(ctx, &v, "SELECT * FROM vouchers WHERE code = $1 FOR UPDATE", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("voucher %s: %w", code, apperr.ErrVoucherNotApplicable)
	}
	if err != nil {
		return nil, fmt.Errorf("lock voucher: %w", err)
	}

	now := time.Now()
	if v.Status != models.VoucherStatusActive || now.Before(v.StartDate) || now.After(v.EndDate) {
		return nil, fmt.Errorf("voucher %s: %w", code, apperr.ErrVoucherExpired)
	}
	if v.Scope == models.VoucherScopeShop && v.ShopID != shopID {
		return nil, fmt.Errorf("voucher %s is scoped to another shop: %w", code, apperr.ErrVoucherNotApplicable)
	}
	if orderValue < v.MinOrderValue {
		return nil, fmt.Errorf("order below voucher minimum: %w", apperr.ErrVoucherNotApplicable)
	}
	if v.Quantity <= 0 {
		return nil, fmt.Errorf("voucher %s: %w", code, apperr.ErrVoucherExhausted)
	}

	if v.UsageLimit > 0 {
		var used int
		err := tx.GetContext(ctx, &used,
			`SELECT COUNT(*) FROM orders WHERE voucher_code = $1 AND buyer_id = $2`,
			code, buyerID)
		if err != nil {
			return nil, fmt.Errorf("count voucher usage: %w", err)
		}
		if used >= v.UsageLimit {
			return nil, fmt.Errorf("per-user usage limit reached: %w", apperr.ErrVoucherNotApplicable)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE vouchers SET quantity = quantity - 1 WHERE id = $1", v.ID)
	if err != nil {
		return nil, fmt.Errorf("decrement voucher quantity: %w", err)
	}
	v.Quantity--

	return &v, nil
}
