package service

import (
	"context"
	"time"

	"marketplace-service/internal/carrier"
	"marketplace-service/internal/models"
)

// Store is the data-access contract the services depend on. Implemented by
// store.Store in production and by an in-memory fake in tests.
type Store interface {
	GetShopByID(ctx context.Context, id int64) (*models.Shop, error)
	GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.ProductVariant, error)

	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatusFrom(ctx context.Context, orderID int64, to string, from ...string) (bool, error)
	CompleteOrderFromShipping(ctx context.Context, orderID int64) (bool, error)
	MarkOrderPaidTx(ctx context.Context, orderID int64, gatewayTxnID string) (bool, error)
	CancelOrderTx(ctx context.Context, orderID int64) (*models.Order, error)
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
	GetShipmentByOrderID(ctx context.Context, orderID int64) (*models.Shipment, error)
	MarkShipmentCancelled(ctx context.Context, orderID int64) error
	ListExpiredUnpaidOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)

	CreateVoucher(ctx context.Context, v *models.Voucher) error
	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)

	GetOrCreateWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	GetWalletBalance(ctx context.Context, walletID int64) (int64, error)
	ListWalletTransactions(ctx context.Context, walletID int64) ([]models.WalletTransaction, error)
	Deposit(ctx context.Context, walletID, amount int64, description string) (*models.WalletTransaction, error)
	PayOrderWithWalletTx(ctx context.Context, orderID, walletID int64) (bool, error)
	PostSellerPayoutTx(ctx context.Context, orderID, sellerWalletID, payout, fee int64) (bool, error)
	PostRefundPayoutTx(ctx context.Context, refundID, orderID, buyerWalletID, amount int64) (bool, error)
	ListPayableOrders(ctx context.Context, paidBefore time.Time, limit int) ([]models.Order, error)

	CreateRefundTx(ctx context.Context, refund *models.Refund, items []models.RefundItem) error
	GetRefundByID(ctx context.Context, id int64) (*models.Refund, error)
	GetRefundItems(ctx context.Context, refundID int64) ([]models.RefundItem, error)
	UpdateRefundStatusFrom(ctx context.Context, refundID int64, to string, from ...string) (bool, error)
	RejectRefund(ctx context.Context, refundID int64, reason string, from ...string) (bool, error)
	RestoreStockForRefund(ctx context.Context, refundID, orderID int64) error
}

// Carrier is the shipping collaborator. Create is a critical call; Cancel is
// best-effort.
type Carrier interface {
	CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (*carrier.ShipmentResult, error)
	CancelShipment(ctx context.Context, carrierOrderCode string) error
}

// Notifier is the fire-and-forget notification collaborator. Errors are
// logged by callers, never propagated.
type Notifier interface {
	Notify(ctx context.Context, userID int64, notifyType, message string, orderID int64) error
}
