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

// RefundService drives the multi-party return workflow:
// REQUESTED -> APPROVED -> RETURNING -> COMPLETED, with REJECTED reachable
// from REQUESTED and from return inspection. Money and stock move exactly
// once, on the transition into COMPLETED.
type RefundService struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger

	refundWindow time.Duration
}

// NewRefundService creates a new refund service
func NewRefundService(store Store, notifier Notifier, refundWindowDays int) *RefundService {
	return &RefundService{
		store:        store,
		notifier:     notifier,
		logger:       util.GetLogger(),
		refundWindow: time.Duration(refundWindowDays) * 24 * time.Hour,
	}
}

// CreateRefundRequest represents a buyer's refund request
type CreateRefundRequest struct {
	OrderID  int64               `json:"order_id" binding:"required"`
	Amount   int64               `json:"amount" binding:"required,min=1"`
	Reason   string              `json:"reason" binding:"required"`
	Evidence string              `json:"evidence,omitempty"`
	Items    []RefundItemRequest `json:"items,omitempty"`
}

// RefundItemRequest targets a specific order item
type RefundItemRequest struct {
	OrderItemID int64 `json:"order_item_id" binding:"required"`
	Quantity    int   `json:"quantity" binding:"required,min=1"`
}

// CreateRefund opens a refund request. The order must be COMPLETED, within
// the return window, and free of other open or completed refunds.
func (rs *RefundService) CreateRefund(ctx context.Context, actor models.Actor, req *CreateRefundRequest) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.CreateRefund")
	defer span.End()

	order, err := rs.store.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("user %d is not the buyer: %w", actor.UserID, apperr.ErrUnauthorized)
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, fmt.Errorf("order is %s: %w", order.Status, apperr.ErrOrderNotEligible)
	}

	completedAt := order.UpdatedAt
	if order.CompletedAt != nil {
		completedAt = *order.CompletedAt
	}
	if time.Since(completedAt) > rs.refundWindow {
		return nil, fmt.Errorf("return window closed: %w", apperr.ErrOrderNotEligible)
	}

	if req.Amount > order.TotalAmount {
		return nil, fmt.Errorf("refund amount %d exceeds order total %d: %w",
			req.Amount, order.TotalAmount, apperr.ErrValidation)
	}

	items, err := rs.buildRefundItems(ctx, order.ID, req.Items)
	if err != nil {
		return nil, err
	}

	refund := &models.Refund{
		OrderID:  order.ID,
		BuyerID:  order.BuyerID,
		Amount:   req.Amount,
		Reason:   req.Reason,
		Evidence: req.Evidence,
		Status:   models.RefundStatusRequested,
	}

	if err := rs.store.CreateRefundTx(ctx, refund, items); err != nil {
		return nil, err
	}

	rs.logger.Info("Refund requested",
		zap.Int64("refund_id", refund.ID),
		zap.Int64("order_id", order.ID),
		zap.Int64("amount", refund.Amount))

	rs.notifySeller(ctx, order, models.NotifyRefundRequested,
		fmt.Sprintf("Refund requested for order %d", order.ID))

	return refund, nil
}

func (rs *RefundService) buildRefundItems(ctx context.Context, orderID int64, reqs []RefundItemRequest) ([]models.RefundItem, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	orderItems, err := rs.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.OrderItem, len(orderItems))
	for _, item := range orderItems {
		byID[item.ID] = item
	}

	items := make([]models.RefundItem, 0, len(reqs))
	for _, r := range reqs {
		item, ok := byID[r.OrderItemID]
		if !ok {
			return nil, fmt.Errorf("order item %d does not belong to order %d: %w",
				r.OrderItemID, orderID, apperr.ErrValidation)
		}
		if r.Quantity > item.Quantity {
			return nil, fmt.Errorf("refund quantity exceeds ordered quantity: %w", apperr.ErrValidation)
		}
		items = append(items, models.RefundItem{
			OrderItemID: r.OrderItemID,
			Quantity:    r.Quantity,
		})
	}
	return items, nil
}

// Review is the seller's decision on a REQUESTED refund. Approval always
// requires a physical return before any money moves; rejection needs a
// reason.
func (rs *RefundService) Review(ctx context.Context, actor models.Actor, refundID int64, approve bool, rejectReason string) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.Review")
	defer span.End()

	refund, order, err := rs.loadForSeller(ctx, actor, refundID)
	if err != nil {
		return nil, err
	}

	if approve {
		moved, err := rs.store.UpdateRefundStatusFrom(ctx, refundID,
			models.RefundStatusApproved, models.RefundStatusRequested)
		if err != nil {
			return nil, err
		}
		if !moved {
			return nil, fmt.Errorf("refund is not REQUESTED: %w", apperr.ErrInvalidState)
		}
		rs.notifyBuyer(ctx, refund, order, models.NotifyRefundReviewed,
			fmt.Sprintf("Refund %d approved, please return the goods", refundID))
	} else {
		if rejectReason == "" {
			return nil, fmt.Errorf("reject reason is required: %w", apperr.ErrValidation)
		}
		moved, err := rs.store.RejectRefund(ctx, refundID, rejectReason, models.RefundStatusRequested)
		if err != nil {
			return nil, err
		}
		if !moved {
			return nil, fmt.Errorf("refund is not REQUESTED: %w", apperr.ErrInvalidState)
		}
		rs.notifyBuyer(ctx, refund, order, models.NotifyRefundReviewed,
			fmt.Sprintf("Refund %d rejected: %s", refundID, rejectReason))
	}

	return rs.store.GetRefundByID(ctx, refundID)
}

// MarkReturning is the buyer reporting the goods are on their way back.
func (rs *RefundService) MarkReturning(ctx context.Context, actor models.Actor, refundID int64) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.MarkReturning")
	defer span.End()

	refund, err := rs.store.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.BuyerID != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("user %d is not the buyer: %w", actor.UserID, apperr.ErrUnauthorized)
	}

	moved, err := rs.store.UpdateRefundStatusFrom(ctx, refundID,
		models.RefundStatusReturning, models.RefundStatusApproved)
	if err != nil {
		return nil, err
	}
	if !moved {
		current, err := rs.store.GetRefundByID(ctx, refundID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.RefundStatusReturning {
			return current, nil
		}
		return nil, fmt.Errorf("refund is %s: %w", current.Status, apperr.ErrInvalidState)
	}

	return rs.store.GetRefundByID(ctx, refundID)
}

// ConfirmReturnReceived is the seller inspecting the returned goods. Accept
// completes the refund and triggers the single idempotent ledger posting plus
// stock restore; reject ends the workflow with no money movement. Calling it
// again on a COMPLETED refund is a no-op.
func (rs *RefundService) ConfirmReturnReceived(ctx context.Context, actor models.Actor, refundID int64, isAccepted bool, note string) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.ConfirmReturnReceived")
	defer span.End()

	refund, order, err := rs.loadForSeller(ctx, actor, refundID)
	if err != nil {
		return nil, err
	}

	if !isAccepted {
		if note == "" {
			return nil, fmt.Errorf("rejection note is required: %w", apperr.ErrValidation)
		}
		moved, err := rs.store.RejectRefund(ctx, refundID, note,
			models.RefundStatusApproved, models.RefundStatusReturning)
		if err != nil {
			return nil, err
		}
		if !moved {
			return nil, fmt.Errorf("refund is %s: %w", refund.Status, apperr.ErrInvalidState)
		}
		rs.notifyBuyer(ctx, refund, order, models.NotifyRefundReviewed,
			fmt.Sprintf("Returned goods for refund %d rejected: %s", refundID, note))
		return rs.store.GetRefundByID(ctx, refundID)
	}

	moved, err := rs.store.UpdateRefundStatusFrom(ctx, refundID,
		models.RefundStatusCompleted, models.RefundStatusApproved, models.RefundStatusReturning)
	if err != nil {
		return nil, err
	}
	if !moved {
		current, err := rs.store.GetRefundByID(ctx, refundID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.RefundStatusCompleted {
			return nil, fmt.Errorf("refund is %s: %w", current.Status, apperr.ErrInvalidState)
		}
		// Already COMPLETED: fall through to the posting guard so a crash
		// between transition and posting heals on retry.
	}

	if err := rs.postRefund(ctx, refundID, order); err != nil {
		return nil, err
	}

	return rs.store.GetRefundByID(ctx, refundID)
}

// postRefund credits the buyer wallet exactly once for a completed refund
// and restores stock for the returned goods. The ledger existence check keyed
// by refund id is the idempotency guard.
func (rs *RefundService) postRefund(ctx context.Context, refundID int64, order *models.Order) error {
	refund, err := rs.store.GetRefundByID(ctx, refundID)
	if err != nil {
		return err
	}

	buyerWallet, err := rs.store.GetOrCreateWallet(ctx, refund.BuyerID)
	if err != nil {
		return err
	}

	posted, err := rs.store.PostRefundPayoutTx(ctx, refundID, order.ID, buyerWallet.ID, refund.Amount)
	if err != nil {
		return err
	}
	if !posted {
		return nil
	}

	if err := rs.store.RestoreStockForRefund(ctx, refundID, order.ID); err != nil {
		rs.logger.Error("Failed to restore stock for completed refund",
			zap.Int64("refund_id", refundID),
			zap.Error(err))
	}

	util.RefundsCompletedTotal.Inc()
	rs.logger.Info("Refund completed and posted",
		zap.Int64("refund_id", refundID),
		zap.Int64("order_id", order.ID),
		zap.Int64("amount", refund.Amount))

	rs.notifyBuyer(ctx, refund, order, models.NotifyRefundCompleted,
		fmt.Sprintf("Refund %d completed, %d credited to your wallet", refundID, refund.Amount))

	return nil
}

// ConfirmReceiptAndRefund combines "goods received" and "accepted" in one
// call. Same idempotency guarantee: a second call on a COMPLETED refund is a
// no-op, not a double payout.
func (rs *RefundService) ConfirmReceiptAndRefund(ctx context.Context, actor models.Actor, refundID int64) (*models.Refund, error) {
	return rs.ConfirmReturnReceived(ctx, actor, refundID, true, "")
}

// GetRefund retrieves a refund with its items
func (rs *RefundService) GetRefund(ctx context.Context, refundID int64) (*models.Refund, []models.RefundItem, error) {
	refund, err := rs.store.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, nil, err
	}
	items, err := rs.store.GetRefundItems(ctx, refundID)
	if err != nil {
		return nil, nil, err
	}
	return refund, items, nil
}

func (rs *RefundService) loadForSeller(ctx context.Context, actor models.Actor, refundID int64) (*models.Refund, *models.Order, error) {
	refund, err := rs.store.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, nil, err
	}
	order, err := rs.store.GetOrderByID(ctx, refund.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if actor.Role != models.RoleAdmin {
		shop, err := rs.store.GetShopByID(ctx, order.ShopID)
		if err != nil {
			return nil, nil, err
		}
		if shop.OwnerUserID != actor.UserID {
			return nil, nil, fmt.Errorf("user %d does not own shop %d: %w",
				actor.UserID, order.ShopID, apperr.ErrUnauthorized)
		}
	}
	return refund, order, nil
}

func (rs *RefundService) notifyBuyer(ctx context.Context, refund *models.Refund, order *models.Order, notifyType, msg string) {
	if err := rs.notifier.Notify(ctx, refund.BuyerID, notifyType, msg, order.ID); err != nil {
		util.NotifyPublishFailedTotal.Inc()
		rs.logger.Warn("Failed to publish refund notification",
			zap.Int64("refund_id", refund.ID),
			zap.Error(err))
	}
}

func (rs *RefundService) notifySeller(ctx context.Context, order *models.Order, notifyType, msg string) {
	shop, err := rs.store.GetShopByID(ctx, order.ShopID)
	if err != nil {
		rs.logger.Warn("Cannot resolve seller for notification", zap.Error(err))
		return
	}
	if err := rs.notifier.Notify(ctx, shop.OwnerUserID, notifyType, msg, order.ID); err != nil {
		util.NotifyPublishFailedTotal.Inc()
		rs.logger.Warn("Failed to publish refund notification",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
