package models

import "time"

// Notification event types
const (
	NotifyOrderCancelled  = "ORDER_CANCELLED"
	NotifyOrderPaid       = "ORDER_PAID"
	NotifyOrderShipped    = "ORDER_SHIPPED"
	NotifyRefundRequested = "REFUND_REQUESTED"
	NotifyRefundReviewed  = "REFUND_REVIEWED"
	NotifyRefundCompleted = "REFUND_COMPLETED"
	NotifyPayoutReleased  = "PAYOUT_RELEASED"
)

// NotificationEvent is the fire-and-forget message published to the
// notification collaborator. Delivery failures are logged, never propagated.
type NotificationEvent struct {
	EventID   string    `json:"event_id"`
	UserID    int64     `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	OrderID   int64     `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
