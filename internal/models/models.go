package models

import "time"

// Role identifies the capability of a resolved caller. Identity resolution
// happens outside the core; handlers receive it already decided.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Actor is the authorization context passed into every core operation.
type Actor struct {
	UserID int64
	Role   Role
}

// Shop represents a seller storefront
type Shop struct {
	ID          int64     `db:"id" json:"id"`
	OwnerUserID int64     `db:"owner_user_id" json:"owner_user_id"`
	Name        string    `db:"name" json:"name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Product represents a product in the catalog
type Product struct {
	ID        int64     `db:"id" json:"id"`
	ShopID    int64     `db:"shop_id" json:"shop_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProductVariant carries the sellable unit: price and stock live here.
type ProductVariant struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order statuses. CANCELLED is reachable from PENDING and PROCESSING only;
// COMPLETED and CANCELLED are terminal.
const (
	OrderStatusPending    = "PENDING"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipping   = "SHIPPING"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
)

// Payment statuses
const (
	PaymentStatusUnpaid = "UNPAID"
	PaymentStatusPaid   = "PAID"
)

// Payment methods
const (
	PaymentMethodGateway = "GATEWAY"
	PaymentMethodWallet  = "WALLET"
)

// Order represents a customer order. Amounts are in cents.
// Invariant: BaseAmount - Discount + ShippingFee == TotalAmount.
type Order struct {
	ID             int64      `db:"id" json:"id"`
	BuyerID        int64      `db:"buyer_id" json:"buyer_id"`
	ShopID         int64      `db:"shop_id" json:"shop_id"`
	Status         string     `db:"status" json:"status"`
	PaymentStatus  string     `db:"payment_status" json:"payment_status"`
	PaymentMethod  string     `db:"payment_method" json:"payment_method"`
	BaseAmount     int64      `db:"base_amount" json:"base_amount"`
	Discount       int64      `db:"discount" json:"discount"`
	ShippingFee    int64      `db:"shipping_fee" json:"shipping_fee"`
	TotalAmount    int64      `db:"total_amount" json:"total_amount"`
	VoucherCode    string     `db:"voucher_code" json:"voucher_code,omitempty"`
	ShippingAddr   string     `db:"shipping_addr" json:"shipping_addr"`
	GatewayOrderID string     `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayTxnID   string     `db:"gateway_txn_id" json:"gateway_txn_id,omitempty"`
	PaidAt         *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderItem is a price snapshot: immutable after creation.
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	VariantID int64 `db:"variant_id" json:"variant_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

// Voucher statuses
const (
	VoucherStatusActive   = "ACTIVE"
	VoucherStatusDisabled = "DISABLED"
)

// Voucher scopes
const (
	VoucherScopePlatform = "PLATFORM"
	VoucherScopeShop     = "SHOP"
)

// Voucher represents a discount code. Quantity is the remaining number of
// redemptions and must never go below zero.
type Voucher struct {
	ID              int64     `db:"id" json:"id"`
	Code            string    `db:"code" json:"code"`
	Scope           string    `db:"scope" json:"scope"`
	ShopID          int64     `db:"shop_id" json:"shop_id,omitempty"`
	DiscountAmount  int64     `db:"discount_amount" json:"discount_amount"`
	DiscountPercent int       `db:"discount_percent" json:"discount_percent"`
	MinOrderValue   int64     `db:"min_order_value" json:"min_order_value"`
	Quantity        int       `db:"quantity" json:"quantity"`
	UsageLimit      int       `db:"usage_limit" json:"usage_limit"`
	StartDate       time.Time `db:"start_date" json:"start_date"`
	EndDate         time.Time `db:"end_date" json:"end_date"`
	Status          string    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// DiscountFor computes the discount this voucher grants on a base amount.
// A fixed amount wins over a percentage; the result never exceeds base.
func (v *Voucher) DiscountFor(base int64) int64 {
	var d int64
	if v.DiscountAmount > 0 {
		d = v.DiscountAmount
	} else if v.DiscountPercent > 0 {
		d = base * int64(v.DiscountPercent) / 100
	}
	if d > base {
		d = base
	}
	return d
}

// Refund statuses. REJECTED is reachable from REQUESTED and from return
// inspection; COMPLETED and REJECTED are terminal.
const (
	RefundStatusRequested = "REQUESTED"
	RefundStatusApproved  = "APPROVED"
	RefundStatusReturning = "RETURNING"
	RefundStatusCompleted = "COMPLETED"
	RefundStatusRejected  = "REJECTED"
)

// Refund represents a refund/return request against an order.
type Refund struct {
	ID           int64     `db:"id" json:"id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	BuyerID      int64     `db:"buyer_id" json:"buyer_id"`
	Amount       int64     `db:"amount" json:"amount"`
	Reason       string    `db:"reason" json:"reason"`
	Evidence     string    `db:"evidence" json:"evidence,omitempty"`
	RejectReason string    `db:"reject_reason" json:"reject_reason,omitempty"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// RefundItem targets a specific order item for item-level refunds.
type RefundItem struct {
	ID          int64 `db:"id" json:"id"`
	RefundID    int64 `db:"refund_id" json:"refund_id"`
	OrderItemID int64 `db:"order_item_id" json:"order_item_id"`
	Quantity    int   `db:"quantity" json:"quantity"`
}

// Wallet holds one user's funds. Balance is derived from the transaction log.
type Wallet struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Wallet transaction types
const (
	TxTypeDeposit         = "DEPOSIT"
	TxTypeWithdraw        = "WITHDRAW"
	TxTypePaymentToSeller = "PAYMENT_TO_SELLER"
	TxTypePlatformFee     = "PLATFORM_FEE"
	TxTypeRefundToSeller  = "REFUND_TO_SELLER"
)

// WalletTransaction is an append-only ledger row. Amount is signed: credits
// positive, debits (WITHDRAW, PLATFORM_FEE) negative. Rows are never updated
// or deleted; wallet balance is SUM(amount).
type WalletTransaction struct {
	ID          int64     `db:"id" json:"id"`
	WalletID    int64     `db:"wallet_id" json:"wallet_id"`
	Type        string    `db:"type" json:"type"`
	Amount      int64     `db:"amount" json:"amount"`
	OrderID     *int64    `db:"order_id" json:"order_id,omitempty"`
	RefundID    *int64    `db:"refund_id" json:"refund_id,omitempty"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Shipment statuses (local view; CarrierStatus mirrors the carrier verbatim)
const (
	ShipmentStatusCreated   = "CREATED"
	ShipmentStatusCancelled = "CANCELLED"
)

// Shipment is the 1:1 carrier handoff record for an order.
type Shipment struct {
	ID               int64     `db:"id" json:"id"`
	OrderID          int64     `db:"order_id" json:"order_id"`
	CarrierOrderCode string    `db:"carrier_order_code" json:"carrier_order_code"`
	Status           string    `db:"status" json:"status"`
	CarrierStatus    string    `db:"carrier_status" json:"carrier_status,omitempty"`
	RawPayload       string    `db:"raw_payload" json:"raw_payload,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
