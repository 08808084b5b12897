package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CreateRefundTx creates a refund request, enforcing "one refund in flight
// (or completed) per order" under the order row lock.
func (s *Store) CreateRefundTx(ctx context.Context, refund *models.Refund, items []models.RefundItem) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var dummy int
		err := tx.GetContext(ctx, &dummy, "SELECT 1 FROM orders WHERE id = $1 FOR UPDATE", refund.OrderID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("order %d: %w", refund.OrderID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		var exists bool
		err = tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM refunds WHERE order_id = $1 AND status = ANY($2))`,
			refund.OrderID,
			pq.Array([]string{
				models.RefundStatusRequested,
				models.RefundStatusApproved,
				models.RefundStatusReturning,
				models.RefundStatusCompleted,
			}))
		if err != nil {
			return fmt.Errorf("check open refunds: %w", err)
		}
		if exists {
			return fmt.Errorf("order %d already has an open or completed refund: %w",
				refund.OrderID, apperr.ErrOrderNotEligible)
		}

		query := `
			INSERT INTO refunds (order_id, buyer_id, amount, reason, evidence, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at`

		err = tx.GetContext(ctx, refund, query,
			refund.OrderID, refund.BuyerID, refund.Amount, refund.Reason, refund.Evidence, refund.Status)
		if err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}

		for i := range items {
			items[i].RefundID = refund.ID
			err := tx.GetContext(ctx, &items[i].ID,
				`INSERT INTO refund_items (refund_id, order_item_id, quantity)
				 VALUES ($1, $2, $3) RETURNING id`,
				items[i].RefundID, items[i].OrderItemID, items[i].Quantity)
			if err != nil {
				return fmt.Errorf("insert refund item: %w", err)
			}
		}

		return nil
	})
}

// GetRefundByID retrieves a refund by ID
func (s *Store) GetRefundByID(ctx context.Context, id int64) (*models.Refund, error) {
	var r models.Refund
	err := s.db.GetContext(ctx, &r, "SELECT * FROM refunds WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("refund %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRefundItems retrieves the item rows of an item-level refund
func (s *Store) GetRefundItems(ctx context.Context, refundID int64) ([]models.RefundItem, error) {
	var items []models.RefundItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM refund_items WHERE refund_id = $1 ORDER BY id", refundID)
	return items, err
}

// UpdateRefundStatusFrom performs a compare-and-set refund transition.
func (s *Store) UpdateRefundStatusFrom(ctx context.Context, refundID int64, to string, from ...string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE refunds SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)",
		to, refundID, pq.Array(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RejectRefund transitions to REJECTED with a mandatory reason.
func (s *Store) RejectRefund(ctx context.Context, refundID int64, reason string, from ...string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refunds SET status = $1, reject_reason = $2, updated_at = NOW()
		 WHERE id = $3 AND status = ANY($4)`,
		models.RefundStatusRejected, reason, refundID, pq.Array(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RestoreStockForRefund returns the goods of an accepted return to stock.
// Item-level refunds restore only the targeted order items; whole-order
// refunds restore every line. Called once by the caller that won the
// COMPLETED transition.
func (s *Store) RestoreStockForRefund(ctx context.Context, refundID, orderID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var refundItems []models.RefundItem
		if err := tx.SelectContext(ctx, &refundItems,
			"SELECT * FROM refund_items WHERE refund_id = $1", refundID); err != nil {
			return fmt.Errorf("select refund items: %w", err)
		}

		if len(refundItems) > 0 {
			for _, ri := range refundItems {
				var variantID int64
				err := tx.GetContext(ctx, &variantID,
					"SELECT variant_id FROM order_items WHERE id = $1", ri.OrderItemID)
				if err != nil {
					return fmt.Errorf("resolve order item %d: %w", ri.OrderItemID, err)
				}
				_, err = tx.ExecContext(ctx,
					"UPDATE product_variants SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
					ri.Quantity, variantID)
				if err != nil {
					return fmt.Errorf("restore stock for variant %d: %w", variantID, err)
				}
			}
			return nil
		}

		var orderItems []models.OrderItem
		if err := tx.SelectContext(ctx, &orderItems,
			"SELECT * FROM order_items WHERE order_id = $1", orderID); err != nil {
			return fmt.Errorf("select order items: %w", err)
		}
		for _, item := range orderItems {
			_, err := tx.ExecContext(ctx,
				"UPDATE product_variants SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
				item.Quantity, item.VariantID)
			if err != nil {
				return fmt.Errorf("restore stock for variant %d: %w", item.VariantID, err)
			}
		}
		return nil
	})
}
