package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/carrier"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService owns order state transitions, stock adjustment on cancel and
// the shipment creation handoff.
type OrderService struct {
	store    Store
	carrier  Carrier
	notifier Notifier
	logger   *zap.Logger

	orderExpiry time.Duration
}

// NewOrderService creates a new order service
func NewOrderService(store Store, carrierClient Carrier, notifier Notifier, orderExpiry time.Duration) *OrderService {
	return &OrderService{
		store:       store,
		carrier:     carrierClient,
		notifier:    notifier,
		logger:      util.GetLogger(),
		orderExpiry: orderExpiry,
	}
}

// CreateOrderRequest represents a checkout request
type CreateOrderRequest struct {
	ShopID        int64              `json:"shop_id" binding:"required"`
	Items         []OrderItemRequest `json:"items" binding:"required,min=1"`
	ShippingAddr  string             `json:"shipping_addr" binding:"required"`
	ShippingFee   int64              `json:"shipping_fee"`
	PaymentMethod string             `json:"payment_method" binding:"required"`
	VoucherCode   string             `json:"voucher_code,omitempty"`
}

// OrderItemRequest represents one cart line
type OrderItemRequest struct {
	VariantID int64 `json:"variant_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrder validates the cart, snapshots prices and creates the order.
// Stock decrement and voucher redemption happen atomically with the insert:
// the whole operation fails if any line lacks stock or the voucher cannot be
// redeemed.
func (s *OrderService) CreateOrder(ctx context.Context, actor models.Actor, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.PaymentMethod != models.PaymentMethodGateway && req.PaymentMethod != models.PaymentMethodWallet {
		return nil, fmt.Errorf("unknown payment method %q: %w", req.PaymentMethod, apperr.ErrValidation)
	}
	if req.ShippingFee < 0 {
		return nil, fmt.Errorf("negative shipping fee: %w", apperr.ErrValidation)
	}

	if _, err := s.store.GetShopByID(ctx, req.ShopID); err != nil {
		return nil, err
	}

	variants, err := s.loadVariants(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	var base int64
	for _, line := range req.Items {
		v := variants[line.VariantID]
		items = append(items, models.OrderItem{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: v.Price,
		})
		base += v.Price * int64(line.Quantity)
	}

	order := &models.Order{
		BuyerID:       actor.UserID,
		ShopID:        req.ShopID,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		PaymentMethod: req.PaymentMethod,
		BaseAmount:    base,
		ShippingFee:   req.ShippingFee,
		VoucherCode:   req.VoucherCode,
		ShippingAddr:  req.ShippingAddr,
	}
	if req.PaymentMethod == models.PaymentMethodGateway {
		order.GatewayOrderID = uuid.New().String()
	}

	if err := s.store.CreateOrderTx(ctx, order, items); err != nil {
		switch {
		case errors.Is(err, apperr.ErrInsufficientStock):
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		case errors.Is(err, apperr.ErrVoucherExhausted):
			util.VouchersExhaustedTotal.Inc()
			util.OrdersFailedTotal.WithLabelValues("voucher").Inc()
		case errors.Is(err, apperr.ErrVoucherExpired), errors.Is(err, apperr.ErrVoucherNotApplicable):
			util.OrdersFailedTotal.WithLabelValues("voucher").Inc()
		default:
			util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		}
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	if order.VoucherCode != "" {
		util.VouchersRedeemedTotal.Inc()
	}
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("buyer_id", order.BuyerID),
		zap.Int64("total", order.TotalAmount))

	return order, nil
}

func (s *OrderService) loadVariants(ctx context.Context, lines []OrderItemRequest) (map[int64]*models.ProductVariant, error) {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if seen[line.VariantID] {
			return nil, fmt.Errorf("duplicate variant %d in cart: %w", line.VariantID, apperr.ErrValidation)
		}
		seen[line.VariantID] = true
		ids = append(ids, line.VariantID)
	}

	variants, err := s.store.GetVariantsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(variants) != len(ids) {
		return nil, fmt.Errorf("some variants not found: %w", apperr.ErrValidation)
	}

	byID := make(map[int64]*models.ProductVariant, len(variants))
	for i := range variants {
		byID[variants[i].ID] = &variants[i]
	}
	return byID, nil
}

// ShipParams carries the carrier parameters for the confirm-and-ship step.
type ShipParams struct {
	PickupAddress string `json:"pickup_address" binding:"required"`
	ServiceID     int    `json:"service_id"`
	ServiceTypeID int    `json:"service_type_id"`
}

// ConfirmAndShip is the seller accepting a PENDING order: it registers the
// shipment with the carrier and transitions to PROCESSING. The carrier call
// is critical here; its failure aborts the operation.
func (s *OrderService) ConfirmAndShip(ctx context.Context, actor models.Actor, orderID int64, params ShipParams) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmAndShip")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSeller(ctx, actor, order); err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("order is %s: %w", order.Status, apperr.ErrInvalidState)
	}

	result, err := s.carrier.CreateShipment(ctx, carrier.ShipmentRequest{
		OrderID:       order.ID,
		PickupAddress: params.PickupAddress,
		ToAddress:     order.ShippingAddr,
		ServiceID:     params.ServiceID,
		ServiceTypeID: params.ServiceTypeID,
	})
	if err != nil {
		return nil, err
	}

	shipment := &models.Shipment{
		OrderID:          order.ID,
		CarrierOrderCode: result.CarrierOrderCode,
		Status:           models.ShipmentStatusCreated,
		CarrierStatus:    result.Status,
		RawPayload:       result.RawPayload,
	}
	if err := s.store.CreateShipment(ctx, shipment); err != nil {
		return nil, fmt.Errorf("persist shipment: %w", err)
	}

	moved, err := s.store.UpdateOrderStatusFrom(ctx, order.ID,
		models.OrderStatusProcessing, models.OrderStatusPending)
	if err != nil {
		return nil, err
	}
	if !moved {
		// The order changed under us after the carrier accepted; undo the
		// carrier order best-effort and report the conflict.
		if cerr := s.carrier.CancelShipment(ctx, result.CarrierOrderCode); cerr != nil {
			s.logger.Error("Carrier desync: shipment created for conflicted order",
				zap.Int64("order_id", order.ID),
				zap.String("carrier_code", result.CarrierOrderCode),
				zap.Error(cerr))
		}
		if serr := s.store.MarkShipmentCancelled(ctx, order.ID); serr != nil {
			s.logger.Error("Failed to mark shipment cancelled after conflict",
				zap.Int64("order_id", order.ID),
				zap.Error(serr))
		}
		return nil, fmt.Errorf("order %d left PENDING concurrently: %w", order.ID, apperr.ErrConflictingTransition)
	}

	s.logger.Info("Order confirmed and shipment created",
		zap.Int64("order_id", order.ID),
		zap.String("carrier_code", result.CarrierOrderCode))

	return s.store.GetOrderByID(ctx, order.ID)
}

// StartShipping transitions PROCESSING -> SHIPPING once a shipment exists.
func (s *OrderService) StartShipping(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.StartShipping")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSeller(ctx, actor, order); err != nil {
		return nil, err
	}

	shipment, err := s.store.GetShipmentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, fmt.Errorf("order %d has no shipment: %w", orderID, apperr.ErrPreconditionFailed)
	}

	moved, err := s.store.UpdateOrderStatusFrom(ctx, orderID,
		models.OrderStatusShipping, models.OrderStatusProcessing)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("order is not PROCESSING: %w", apperr.ErrInvalidState)
	}

	msg := fmt.Sprintf("Order %d has been handed to the carrier", orderID)
	if nerr := s.notifier.Notify(ctx, order.BuyerID, models.NotifyOrderShipped, msg, orderID); nerr != nil {
		util.NotifyPublishFailedTotal.Inc()
		s.logger.Warn("Failed to publish shipped notification",
			zap.Int64("order_id", orderID),
			zap.Error(nerr))
	}

	return s.store.GetOrderByID(ctx, orderID)
}

// CompleteDelivery transitions SHIPPING -> COMPLETED. Seller confirmation and
// the buyer's "confirm received" both land here; whichever fires first wins
// and the loser is a no-op.
func (s *OrderService) CompleteDelivery(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CompleteDelivery")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeParty(ctx, actor, order); err != nil {
		return nil, err
	}

	moved, err := s.store.CompleteOrderFromShipping(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !moved {
		current, err := s.store.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.OrderStatusCompleted {
			return current, nil
		}
		return nil, fmt.Errorf("order is %s: %w", current.Status, apperr.ErrInvalidState)
	}

	return s.store.GetOrderByID(ctx, orderID)
}

// Cancel cancels a PENDING or PROCESSING order, restoring stock for every
// item. A paid order cannot be cancelled (the money already moved; refunds
// handle that path), and the check runs under the order row lock so a racing
// payment confirmation and a cancel never both succeed. The local state
// change commits even when the carrier cancel fails; voucher quantity is
// deliberately not restored.
func (s *OrderService) Cancel(ctx context.Context, actor models.Actor, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeParty(ctx, actor, order); err != nil {
		return nil, err
	}

	shipment, err := s.store.GetShipmentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.store.CancelOrderTx(ctx, orderID)
	if err != nil {
		return nil, err
	}
	util.OrdersCancelledTotal.Inc()

	if shipment != nil && shipment.Status != models.ShipmentStatusCancelled {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if cerr := s.carrier.CancelShipment(cctx, shipment.CarrierOrderCode); cerr != nil {
			s.logger.Warn("Carrier cancel failed, order cancelled locally",
				zap.Int64("order_id", orderID),
				zap.String("carrier_code", shipment.CarrierOrderCode),
				zap.Error(cerr))
		}
		cancel()
	}

	s.notifyCancellation(ctx, actor, cancelled, reason)

	s.logger.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))

	return cancelled, nil
}

func (s *OrderService) notifyCancellation(ctx context.Context, actor models.Actor, order *models.Order, reason string) {
	target := order.BuyerID
	if actor.UserID == order.BuyerID {
		shop, err := s.store.GetShopByID(ctx, order.ShopID)
		if err != nil {
			s.logger.Warn("Cannot resolve counter-party for cancel notification", zap.Error(err))
			return
		}
		target = shop.OwnerUserID
	}

	msg := fmt.Sprintf("Order %d was cancelled: %s", order.ID, reason)
	if err := s.notifier.Notify(ctx, target, models.NotifyOrderCancelled, msg, order.ID); err != nil {
		util.NotifyPublishFailedTotal.Inc()
		s.logger.Warn("Failed to publish cancel notification",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// ExpireStaleOrders cancels gateway orders still unpaid past the expiry
// cutoff. A cancel racing a late payment fails closed and is skipped.
func (s *OrderService) ExpireStaleOrders(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ExpireStaleOrders")
	defer span.End()

	cutoff := time.Now().Add(-s.orderExpiry)
	orders, err := s.store.ListExpiredUnpaidOrders(ctx, cutoff, 100)
	if err != nil {
		return 0, fmt.Errorf("list expired orders: %w", err)
	}

	expired := 0
	for _, order := range orders {
		if _, err := s.store.CancelOrderTx(ctx, order.ID); err != nil {
			if errors.Is(err, apperr.ErrConflictingTransition) || errors.Is(err, apperr.ErrInvalidState) {
				s.logger.Info("Skipping expiry, order moved on",
					zap.Int64("order_id", order.ID),
					zap.Error(err))
				continue
			}
			return expired, fmt.Errorf("expire order %d: %w", order.ID, err)
		}
		expired++
		util.OrdersExpiredTotal.Inc()
	}

	if expired > 0 {
		s.logger.Info("Expired stale unpaid orders", zap.Int("count", expired))
	}
	return expired, nil
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// CreateVoucherRequest represents a new promotion
type CreateVoucherRequest struct {
	Code            string    `json:"code" binding:"required"`
	Scope           string    `json:"scope" binding:"required"`
	ShopID          int64     `json:"shop_id,omitempty"`
	DiscountAmount  int64     `json:"discount_amount"`
	DiscountPercent int       `json:"discount_percent"`
	MinOrderValue   int64     `json:"min_order_value"`
	Quantity        int       `json:"quantity" binding:"required,min=1"`
	UsageLimit      int       `json:"usage_limit"`
	StartDate       time.Time `json:"start_date" binding:"required"`
	EndDate         time.Time `json:"end_date" binding:"required"`
}

// CreateVoucher registers a promotion. Shop-scoped vouchers require the
// owning seller; platform vouchers require an admin.
func (s *OrderService) CreateVoucher(ctx context.Context, actor models.Actor, req *CreateVoucherRequest) (*models.Voucher, error) {
	if req.DiscountAmount <= 0 && (req.DiscountPercent <= 0 || req.DiscountPercent > 100) {
		return nil, fmt.Errorf("voucher needs a fixed amount or a percent in 1..100: %w", apperr.ErrValidation)
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, fmt.Errorf("voucher end date must be after start date: %w", apperr.ErrValidation)
	}

	switch req.Scope {
	case models.VoucherScopePlatform:
		if actor.Role != models.RoleAdmin {
			return nil, fmt.Errorf("platform vouchers require admin: %w", apperr.ErrUnauthorized)
		}
	case models.VoucherScopeShop:
		if actor.Role != models.RoleAdmin {
			shop, err := s.store.GetShopByID(ctx, req.ShopID)
			if err != nil {
				return nil, err
			}
			if shop.OwnerUserID != actor.UserID {
				return nil, fmt.Errorf("user %d does not own shop %d: %w", actor.UserID, req.ShopID, apperr.ErrUnauthorized)
			}
		}
	default:
		return nil, fmt.Errorf("unknown voucher scope %q: %w", req.Scope, apperr.ErrValidation)
	}

	voucher := &models.Voucher{
		Code:            req.Code,
		Scope:           req.Scope,
		ShopID:          req.ShopID,
		DiscountAmount:  req.DiscountAmount,
		DiscountPercent: req.DiscountPercent,
		MinOrderValue:   req.MinOrderValue,
		Quantity:        req.Quantity,
		UsageLimit:      req.UsageLimit,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Status:          models.VoucherStatusActive,
	}
	if err := s.store.CreateVoucher(ctx, voucher); err != nil {
		return nil, err
	}

	s.logger.Info("Voucher created",
		zap.String("code", voucher.Code),
		zap.String("scope", voucher.Scope),
		zap.Int("quantity", voucher.Quantity))
	return voucher, nil
}

// GetVoucher looks up a promotion by code.
func (s *OrderService) GetVoucher(ctx context.Context, code string) (*models.Voucher, error) {
	return s.store.GetVoucherByCode(ctx, code)
}

func (s *OrderService) authorizeSeller(ctx context.Context, actor models.Actor, order *models.Order) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	shop, err := s.store.GetShopByID(ctx, order.ShopID)
	if err != nil {
		return err
	}
	if shop.OwnerUserID != actor.UserID {
		return fmt.Errorf("user %d does not own shop %d: %w", actor.UserID, order.ShopID, apperr.ErrUnauthorized)
	}
	return nil
}

// authorizeParty allows the buyer, the owning seller or an admin.
func (s *OrderService) authorizeParty(ctx context.Context, actor models.Actor, order *models.Order) error {
	if actor.Role == models.RoleAdmin || actor.UserID == order.BuyerID {
		return nil
	}
	return s.authorizeSeller(ctx, actor, order)
}
