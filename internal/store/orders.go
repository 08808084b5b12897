package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// GetShopByID retrieves a shop by ID
func (s *Store) GetShopByID(ctx context.Context, id int64) (*models.Shop, error) {
	var shop models.Shop
	err := s.db.GetContext(ctx, &shop, "SELECT * FROM shops WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("shop %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// GetVariantsByIDs retrieves multiple product variants by IDs
func (s *Store) GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.ProductVariant, error) {
	if len(ids) == 0 {
		return []models.ProductVariant{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM product_variants WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var variants []models.ProductVariant
	err = s.db.SelectContext(ctx, &variants, query, args...)
	return variants, err
}

// CreateOrderTx creates an order, its items, the per-variant stock decrement
// and the optional voucher redemption in a single transaction. Any sub-step
// failure rolls back the whole operation, including the voucher decrement.
// Discount and TotalAmount are computed here once the voucher row is locked.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i := range items {
			var stock int
			err := tx.GetContext(ctx, &stock,
				"SELECT stock FROM product_variants WHERE id = $1 FOR UPDATE", items[i].VariantID)
			if err == sql.ErrNoRows {
				return fmt.Errorf("variant %d: %w", items[i].VariantID, apperr.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("lock variant %d: %w", items[i].VariantID, err)
			}
			if stock < items[i].Quantity {
				return fmt.Errorf("variant %d has %d left: %w", items[i].VariantID, stock, apperr.ErrInsufficientStock)
			}
			_, err = tx.ExecContext(ctx,
				"UPDATE product_variants SET stock = stock - $1, updated_at = NOW() WHERE id = $2",
				items[i].Quantity, items[i].VariantID)
			if err != nil {
				return fmt.Errorf("decrement stock for variant %d: %w", items[i].VariantID, err)
			}
		}

		order.Discount = 0
		if order.VoucherCode != "" {
			voucher, err := redeemVoucherTx(ctx, tx, order.VoucherCode, order.BaseAmount, order.BuyerID, order.ShopID)
			if err != nil {
				return err
			}
			order.Discount = voucher.DiscountFor(order.BaseAmount)
		}
		order.TotalAmount = order.BaseAmount - order.Discount + order.ShippingFee

		query := `
			INSERT INTO orders (buyer_id, shop_id, status, payment_status, payment_method,
				base_amount, discount, shipping_fee, total_amount, voucher_code,
				shipping_addr, gateway_order_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id, created_at, updated_at`

		err := tx.GetContext(ctx, order, query,
			order.BuyerID, order.ShopID, order.Status, order.PaymentStatus, order.PaymentMethod,
			order.BaseAmount, order.Discount, order.ShippingFee, order.TotalAmount, order.VoucherCode,
			order.ShippingAddr, order.GatewayOrderID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
			err := tx.GetContext(ctx, &items[i].ID,
				`INSERT INTO order_items (order_id, variant_id, quantity, unit_price)
				 VALUES ($1, $2, $3, $4) RETURNING id`,
				items[i].OrderID, items[i].VariantID, items[i].Quantity, items[i].UnitPrice)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		return nil
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByGatewayOrderID looks up the order referenced by a gateway callback.
func (s *Store) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE gateway_order_id = $1", gatewayOrderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gateway order %s: %w", gatewayOrderID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderStatusFrom performs a compare-and-set status transition. It
// reports whether a row changed; the caller decides between InvalidState and
// ConflictingTransition by re-reading.
func (s *Store) UpdateOrderStatusFrom(ctx context.Context, orderID int64, to string, from ...string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)",
		to, orderID, pq.Array(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteOrderFromShipping transitions SHIPPING -> COMPLETED and stamps
// completed_at. Reports false when the order was not in SHIPPING.
func (s *Store) CompleteOrderFromShipping(ctx context.Context, orderID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		models.OrderStatusCompleted, orderID, models.OrderStatusShipping)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkOrderPaidTx applies an at-most-once payment confirmation. Returns
// applied=false when the order is already PAID (duplicate delivery) and
// ConflictingTransition when a cancellation already committed.
func (s *Store) MarkOrderPaidTx(ctx context.Context, orderID int64, gatewayTxnID string) (bool, error) {
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

		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET payment_status = $1, gateway_txn_id = $2, paid_at = NOW(), updated_at = NOW()
			 WHERE id = $3`,
			models.PaymentStatusPaid, gatewayTxnID, orderID)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// CancelOrderTx cancels an order, restoring stock for every item and marking
// the shipment cancelled if one exists. A PAID order cannot be cancelled:
// payment confirmation and cancellation must never both take effect, so the
// paid re-check runs under the row lock and fails closed against a payment
// that raced in. Paid orders go through the refund workflow instead.
func (s *Store) CancelOrderTx(ctx context.Context, orderID int64) (*models.Order, error) {
	var cancelled models.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var order models.Order
		err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusProcessing {
			return fmt.Errorf("cannot cancel order in %s: %w", order.Status, apperr.ErrInvalidState)
		}
		if order.PaymentStatus == models.PaymentStatusPaid {
			return fmt.Errorf("order %d is paid: %w", orderID, apperr.ErrConflictingTransition)
		}

		var items []models.OrderItem
		if err := tx.SelectContext(ctx, &items,
			"SELECT * FROM order_items WHERE order_id = $1", orderID); err != nil {
			return fmt.Errorf("select order items: %w", err)
		}
		for _, item := range items {
			_, err := tx.ExecContext(ctx,
				"UPDATE product_variants SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
				item.Quantity, item.VariantID)
			if err != nil {
				return fmt.Errorf("restore stock for variant %d: %w", item.VariantID, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE shipments SET status = $1, updated_at = NOW() WHERE order_id = $2",
			models.ShipmentStatusCancelled, orderID)
		if err != nil {
			return fmt.Errorf("cancel shipment: %w", err)
		}

		err = tx.GetContext(ctx, &cancelled,
			"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
			models.OrderStatusCancelled, orderID)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cancelled, nil
}

// CreateShipment creates the 1:1 shipment record for an order
func (s *Store) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	query := `
		INSERT INTO shipments (order_id, carrier_order_code, status, carrier_status, raw_payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, shipment, query,
		shipment.OrderID, shipment.CarrierOrderCode, shipment.Status,
		shipment.CarrierStatus, shipment.RawPayload)
}

// MarkShipmentCancelled flags an order's shipment record as cancelled.
func (s *Store) MarkShipmentCancelled(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE shipments SET status = $1, updated_at = NOW() WHERE order_id = $2",
		models.ShipmentStatusCancelled, orderID)
	return err
}

// GetShipmentByOrderID returns nil when no shipment exists yet.
func (s *Store) GetShipmentByOrderID(ctx context.Context, orderID int64) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment, "SELECT * FROM shipments WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// ListExpiredUnpaidOrders finds gateway orders still UNPAID past the cutoff.
func (s *Store) ListExpiredUnpaidOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders
		 WHERE payment_method = $1 AND payment_status = $2 AND status = $3 AND created_at < $4
		 ORDER BY created_at
		 LIMIT $5`,
		models.PaymentMethodGateway, models.PaymentStatusUnpaid, models.OrderStatusPending, cutoff, limit)
	return orders, err
}
