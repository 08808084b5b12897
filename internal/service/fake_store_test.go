package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/carrier"
	"marketplace-service/internal/models"
)

// memStore is an in-memory Store with the same transactional semantics as the
// SQL implementation: one mutex stands in for row locks, so the check-then-act
// invariants hold under concurrent callers exactly as they do with FOR UPDATE.
type memStore struct {
	mu sync.Mutex

	shops     map[int64]*models.Shop
	variants  map[int64]*models.ProductVariant
	orders    map[int64]*models.Order
	items     map[int64][]models.OrderItem
	shipments map[int64]*models.Shipment
	vouchers  map[string]*models.Voucher
	wallets   map[int64]*models.Wallet
	ledger    []models.WalletTransaction
	refunds   map[int64]*models.Refund
	refItems  map[int64][]models.RefundItem

	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		shops:     make(map[int64]*models.Shop),
		variants:  make(map[int64]*models.ProductVariant),
		orders:    make(map[int64]*models.Order),
		items:     make(map[int64][]models.OrderItem),
		shipments: make(map[int64]*models.Shipment),
		vouchers:  make(map[string]*models.Voucher),
		wallets:   make(map[int64]*models.Wallet),
		refunds:   make(map[int64]*models.Refund),
		refItems:  make(map[int64][]models.RefundItem),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// --- test seed helpers ---

func (m *memStore) seedShop(ownerUserID int64) *models.Shop {
	m.mu.Lock()
	defer m.mu.Unlock()
	shop := &models.Shop{ID: m.id(), OwnerUserID: ownerUserID, Name: "test shop"}
	m.shops[shop.ID] = shop
	return shop
}

func (m *memStore) seedVariant(price int64, stock int) *models.ProductVariant {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &models.ProductVariant{ID: m.id(), Price: price, Stock: stock}
	m.variants[v.ID] = v
	return v
}

func (m *memStore) seedVoucher(v *models.Voucher) *models.Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id()
	if v.Status == "" {
		v.Status = models.VoucherStatusActive
	}
	if v.StartDate.IsZero() {
		v.StartDate = time.Now().Add(-time.Hour)
	}
	if v.EndDate.IsZero() {
		v.EndDate = time.Now().Add(time.Hour)
	}
	m.vouchers[v.Code] = v
	return v
}

func (m *memStore) stockOf(variantID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variants[variantID].Stock
}

func (m *memStore) ledgerRows(walletID int64) []models.WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.WalletTransaction
	for _, tx := range m.ledger {
		if tx.WalletID == walletID {
			rows = append(rows, tx)
		}
	}
	return rows
}

func (m *memStore) setOrderTimes(orderID int64, createdAt time.Time, paidAt *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	o.CreatedAt = createdAt
	o.PaidAt = paidAt
}

// --- Store implementation ---

func (m *memStore) GetShopByID(_ context.Context, id int64) (*models.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shop, ok := m.shops[id]
	if !ok {
		return nil, fmt.Errorf("shop %d: %w", id, apperr.ErrNotFound)
	}
	cp := *shop
	return &cp, nil
}

func (m *memStore) GetVariantsByIDs(_ context.Context, ids []int64) ([]models.ProductVariant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProductVariant
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *memStore) CreateOrderTx(_ context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		v, ok := m.variants[item.VariantID]
		if !ok {
			return fmt.Errorf("variant %d: %w", item.VariantID, apperr.ErrNotFound)
		}
		if v.Stock < item.Quantity {
			return fmt.Errorf("variant %d: %w", item.VariantID, apperr.ErrInsufficientStock)
		}
	}

	if order.VoucherCode != "" {
		if err := m.redeemVoucherLocked(order.VoucherCode, order.BaseAmount, order.BuyerID, order.ShopID); err != nil {
			return err
		}
		order.Discount = m.vouchers[order.VoucherCode].DiscountFor(order.BaseAmount)
	}
	order.TotalAmount = order.BaseAmount - order.Discount + order.ShippingFee

	for i := range items {
		m.variants[items[i].VariantID].Stock -= items[i].Quantity
	}

	order.ID = m.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	m.orders[order.ID] = &cp
	for i := range items {
		items[i].ID = m.id()
		items[i].OrderID = order.ID
	}
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (m *memStore) redeemVoucherLocked(code string, orderValue, buyerID, shopID int64) error {
	v, ok := m.vouchers[code]
	if !ok {
		return fmt.Errorf("voucher %s: %w", code, apperr.ErrVoucherNotApplicable)
	}
	now := time.Now()
	if v.Status != models.VoucherStatusActive || now.Before(v.StartDate) || now.After(v.EndDate) {
		return apperr.ErrVoucherExpired
	}
	if v.Scope == models.VoucherScopeShop && v.ShopID != shopID {
		return apperr.ErrVoucherNotApplicable
	}
	if orderValue < v.MinOrderValue {
		return apperr.ErrVoucherNotApplicable
	}
	if v.Quantity <= 0 {
		return apperr.ErrVoucherExhausted
	}
	if v.UsageLimit > 0 {
		used := 0
		for _, o := range m.orders {
			if o.VoucherCode == code && o.BuyerID == buyerID {
				used++
			}
		}
		if used >= v.UsageLimit {
			return apperr.ErrVoucherNotApplicable
		}
	}
	v.Quantity--
	return nil
}

func (m *memStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, apperr.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderByGatewayOrderID(_ context.Context, gatewayOrderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID == gatewayOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("gateway order %s: %w", gatewayOrderID, apperr.ErrNotFound)
}

func (m *memStore) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) UpdateOrderStatusFrom(_ context.Context, orderID int64, to string, from ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			o.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CompleteOrderFromShipping(_ context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	if o.Status != models.OrderStatusShipping {
		return false, nil
	}
	now := time.Now()
	o.Status = models.OrderStatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	return true, nil
}

func (m *memStore) MarkOrderPaidTx(_ context.Context, orderID int64, gatewayTxnID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	if o.PaymentStatus == models.PaymentStatusPaid {
		return false, nil
	}
	if o.Status == models.OrderStatusCancelled {
		return false, fmt.Errorf("order %d cancelled: %w", orderID, apperr.ErrConflictingTransition)
	}
	now := time.Now()
	o.PaymentStatus = models.PaymentStatusPaid
	o.GatewayTxnID = gatewayTxnID
	o.PaidAt = &now
	o.UpdatedAt = now
	return true, nil
}

func (m *memStore) CancelOrderTx(_ context.Context, orderID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	if o.Status != models.OrderStatusPending && o.Status != models.OrderStatusProcessing {
		return nil, fmt.Errorf("order is %s: %w", o.Status, apperr.ErrInvalidState)
	}
	if o.PaymentStatus == models.PaymentStatusPaid {
		return nil, fmt.Errorf("order %d is paid: %w", orderID, apperr.ErrConflictingTransition)
	}
	for _, item := range m.items[orderID] {
		m.variants[item.VariantID].Stock += item.Quantity
	}
	if sh, ok := m.shipments[orderID]; ok {
		sh.Status = models.ShipmentStatusCancelled
	}
	o.Status = models.OrderStatusCancelled
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (m *memStore) CreateShipment(_ context.Context, shipment *models.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	shipment.ID = m.id()
	cp := *shipment
	m.shipments[shipment.OrderID] = &cp
	return nil
}

func (m *memStore) MarkShipmentCancelled(_ context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sh, ok := m.shipments[orderID]; ok {
		sh.Status = models.ShipmentStatusCancelled
	}
	return nil
}

func (m *memStore) GetShipmentByOrderID(_ context.Context, orderID int64) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shipments[orderID]
	if !ok {
		return nil, nil
	}
	cp := *sh
	return &cp, nil
}

func (m *memStore) ListExpiredUnpaidOrders(_ context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.PaymentMethod == models.PaymentMethodGateway &&
			o.PaymentStatus == models.PaymentStatusUnpaid &&
			o.Status == models.OrderStatusPending &&
			o.CreatedAt.Before(cutoff) {
			out = append(out, *o)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) CreateVoucher(_ context.Context, v *models.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id()
	cp := *v
	m.vouchers[v.Code] = &cp
	return nil
}

func (m *memStore) GetVoucherByCode(_ context.Context, code string) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[code]
	if !ok {
		return nil, fmt.Errorf("voucher %s: %w", code, apperr.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) GetOrCreateWallet(_ context.Context, userID int64) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}
	w := &models.Wallet{ID: m.id(), UserID: userID}
	m.wallets[userID] = w
	cp := *w
	return &cp, nil
}

func (m *memStore) balanceLocked(walletID int64) int64 {
	var sum int64
	for _, tx := range m.ledger {
		if tx.WalletID == walletID {
			sum += tx.Amount
		}
	}
	return sum
}

func (m *memStore) GetWalletBalance(_ context.Context, walletID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(walletID), nil
}

func (m *memStore) ListWalletTransactions(_ context.Context, walletID int64) ([]models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WalletTransaction
	for _, tx := range m.ledger {
		if tx.WalletID == walletID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memStore) appendTxLocked(tx models.WalletTransaction) models.WalletTransaction {
	tx.ID = m.id()
	tx.CreatedAt = time.Now()
	m.ledger = append(m.ledger, tx)
	return tx
}

func (m *memStore) Deposit(_ context.Context, walletID, amount int64, description string) (*models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.appendTxLocked(models.WalletTransaction{
		WalletID:    walletID,
		Type:        models.TxTypeDeposit,
		Amount:      amount,
		Description: description,
	})
	return &tx, nil
}

func (m *memStore) PayOrderWithWalletTx(_ context.Context, orderID, walletID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	if o.PaymentStatus == models.PaymentStatusPaid {
		return false, nil
	}
	if o.Status == models.OrderStatusCancelled {
		return false, fmt.Errorf("order %d cancelled: %w", orderID, apperr.ErrConflictingTransition)
	}
	if m.balanceLocked(walletID) < o.TotalAmount {
		return false, fmt.Errorf("balance below %d: %w", o.TotalAmount, apperr.ErrInsufficientFunds)
	}
	m.appendTxLocked(models.WalletTransaction{
		WalletID: walletID,
		Type:     models.TxTypeWithdraw,
		Amount:   -o.TotalAmount,
		OrderID:  &orderID,
	})
	now := time.Now()
	o.PaymentStatus = models.PaymentStatusPaid
	o.PaidAt = &now
	o.UpdatedAt = now
	return true, nil
}

func (m *memStore) PostSellerPayoutTx(_ context.Context, orderID, sellerWalletID, payout, fee int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return false, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	for _, tx := range m.ledger {
		if tx.OrderID != nil && *tx.OrderID == orderID && tx.Type == models.TxTypePaymentToSeller {
			return false, nil
		}
	}
	m.appendTxLocked(models.WalletTransaction{
		WalletID: sellerWalletID,
		Type:     models.TxTypePaymentToSeller,
		Amount:   payout,
		OrderID:  &orderID,
	})
	if fee > 0 {
		m.appendTxLocked(models.WalletTransaction{
			WalletID: sellerWalletID,
			Type:     models.TxTypePlatformFee,
			Amount:   -fee,
			OrderID:  &orderID,
		})
	}
	return true, nil
}

func (m *memStore) PostRefundPayoutTx(_ context.Context, refundID, orderID, buyerWalletID, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunds[refundID]; !ok {
		return false, fmt.Errorf("refund %d: %w", refundID, apperr.ErrNotFound)
	}
	for _, tx := range m.ledger {
		if tx.RefundID != nil && *tx.RefundID == refundID && tx.Type == models.TxTypeRefundToSeller {
			return false, nil
		}
	}
	m.appendTxLocked(models.WalletTransaction{
		WalletID: buyerWalletID,
		Type:     models.TxTypeRefundToSeller,
		Amount:   amount,
		OrderID:  &orderID,
		RefundID: &refundID,
	})
	return true, nil
}

func (m *memStore) ListPayableOrders(_ context.Context, paidBefore time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.PaymentStatus != models.PaymentStatusPaid || o.PaidAt == nil || !o.PaidAt.Before(paidBefore) {
			continue
		}
		if o.Status == models.OrderStatusCancelled {
			continue
		}
		paid := false
		for _, tx := range m.ledger {
			if tx.OrderID != nil && *tx.OrderID == o.ID && tx.Type == models.TxTypePaymentToSeller {
				paid = true
				break
			}
		}
		if !paid {
			out = append(out, *o)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) CreateRefundTx(_ context.Context, refund *models.Refund, items []models.RefundItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[refund.OrderID]; !ok {
		return fmt.Errorf("order %d: %w", refund.OrderID, apperr.ErrNotFound)
	}
	for _, r := range m.refunds {
		if r.OrderID == refund.OrderID && r.Status != models.RefundStatusRejected {
			return fmt.Errorf("order %d already has refund %d: %w", refund.OrderID, r.ID, apperr.ErrOrderNotEligible)
		}
	}
	refund.ID = m.id()
	refund.CreatedAt = time.Now()
	refund.UpdatedAt = refund.CreatedAt
	cp := *refund
	m.refunds[refund.ID] = &cp
	for i := range items {
		items[i].ID = m.id()
		items[i].RefundID = refund.ID
	}
	m.refItems[refund.ID] = append([]models.RefundItem(nil), items...)
	return nil
}

func (m *memStore) GetRefundByID(_ context.Context, id int64) (*models.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, fmt.Errorf("refund %d: %w", id, apperr.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetRefundItems(_ context.Context, refundID int64) ([]models.RefundItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RefundItem(nil), m.refItems[refundID]...), nil
}

func (m *memStore) UpdateRefundStatusFrom(_ context.Context, refundID int64, to string, from ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[refundID]
	if !ok {
		return false, fmt.Errorf("refund %d: %w", refundID, apperr.ErrNotFound)
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = to
			r.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RejectRefund(_ context.Context, refundID int64, reason string, from ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[refundID]
	if !ok {
		return false, fmt.Errorf("refund %d: %w", refundID, apperr.ErrNotFound)
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = models.RefundStatusRejected
			r.RejectReason = reason
			r.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RestoreStockForRefund(_ context.Context, refundID, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	refItems := m.refItems[refundID]
	if len(refItems) > 0 {
		byID := make(map[int64]models.OrderItem)
		for _, item := range m.items[orderID] {
			byID[item.ID] = item
		}
		for _, ri := range refItems {
			if item, ok := byID[ri.OrderItemID]; ok {
				m.variants[item.VariantID].Stock += ri.Quantity
			}
		}
		return nil
	}
	for _, item := range m.items[orderID] {
		m.variants[item.VariantID].Stock += item.Quantity
	}
	return nil
}

// fakeCarrier records calls and can be told to fail. onCreate, when set, runs
// during the create call so tests can interleave a concurrent state change.
type fakeCarrier struct {
	mu        sync.Mutex
	created   []int64
	cancelled []string
	failNext  error
	onCreate  func()
}

func (f *fakeCarrier) CreateShipment(_ context.Context, req carrier.ShipmentRequest) (*carrier.ShipmentResult, error) {
	f.mu.Lock()
	hook := f.onCreate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	f.created = append(f.created, req.OrderID)
	return &carrier.ShipmentResult{
		CarrierOrderCode: fmt.Sprintf("GHN%d", req.OrderID),
		Status:           "ready_to_pick",
	}, nil
}

func (f *fakeCarrier) CancelShipment(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, code)
	return nil
}

// fakeNotifier records published notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, notifyType, _ string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("%s:%d:%d", notifyType, userID, orderID))
	return nil
}
