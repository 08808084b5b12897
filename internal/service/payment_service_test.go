package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signCallback(cb *GatewayCallback, accessKey, secretKey string) {
	raw := fmt.Sprintf("accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		accessKey, cb.Amount, cb.ExtraData, cb.Message, cb.OrderID, cb.OrderInfo,
		cb.OrderType, cb.PartnerCode, cb.PayType, cb.RequestID, cb.ResponseTime,
		cb.ResultCode, cb.TransID)
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(raw))
	cb.Signature = hex.EncodeToString(mac.Sum(nil))
}

func gatewayCB(order *models.Order, resultCode int) *GatewayCallback {
	return &GatewayCallback{
		PartnerCode:  "MARKETPLACE",
		OrderID:      order.GatewayOrderID,
		RequestID:    "req-1",
		Amount:       order.TotalAmount,
		OrderInfo:    "pay order",
		OrderType:    "captureWallet",
		TransID:      987654,
		ResultCode:   resultCode,
		Message:      "Success",
		PayType:      "qr",
		ResponseTime: 1724900000000,
	}
}

func TestVerifySignature(t *testing.T) {
	env := newTestEnv()
	shop := env.store.seedShop(2)
	variant := env.store.seedVariant(1000, 5)
	order := createTestOrder(t, env, shop.ID, variant.ID, 1)

	cb := gatewayCB(order, 0)
	signCallback(cb, "access", "secret")
	assert.True(t, env.payments.VerifySignature(cb))

	cb.Amount++
	assert.False(t, env.payments.VerifySignature(cb))
}

func TestGatewayCallbackMarksPaid(t *testing.T) {
	env := newTestEnv()
	shop := env.store.seedShop(2)
	variant := env.store.seedVariant(1000, 5)
	order := createTestOrder(t, env, shop.ID, variant.ID, 1)
	ctx := context.Background()

	cb := gatewayCB(order, 0)
	signCallback(cb, "access", "secret")
	require.NoError(t, env.payments.HandleGatewayCallback(ctx, cb))

	got, err := env.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, "987654", got.GatewayTxnID)
	require.NotNil(t, got.PaidAt)
	firstPaidAt := *got.PaidAt

	// redelivery succeeds without touching the order again
	require.NoError(t, env.payments.HandleGatewayCallback(ctx, cb))
	got, err = env.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, firstPaidAt, *got.PaidAt)
}

func TestGatewayCallbackBadSignature(t *testing.T) {
	env := newTestEnv()
	shop := env.store.seedShop(2)
	variant := env.store.seedVariant(1000, 5)
	order := createTestOrder(t, env, shop.ID, variant.ID, 1)
	ctx := context.Background()

	cb := gatewayCB(order, 0)
	cb.Signature = "deadbeef"
	err := env.payments.HandleGatewayCallback(ctx, cb)
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)

	got, err := env.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, got.PaymentStatus)
}

func TestGatewayCallbackAmountMismatch(t *testing.T) {
	env := newTestEnv()
	shop := env.store.seedShop(2)
	variant := env.store.seedVariant(1000, 5)
	order := createTestOrder(t, env, shop.ID, variant.ID, 1)
	ctx := context.Background()

	cb := gatewayCB(order, 0)
	cb.Amount = order.TotalAmount - 1
	signCallback(cb, "access", "secret")

	err := env.payments.HandleGatewayCallback(ctx, cb)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := env.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, got.PaymentStatus)
}

func TestGatewayCallbackFailureResult(t *testing.T) {
	env := newTestEnv()
	shop := env.store.seedShop(2)
	variant := env.store.seedVariant(1000, 5)
	order := createTestOrder(t, env, shop.ID, variant.ID, 1)
	ctx := context.Background()

	cb := gatewayCB(order, 1006)
	cb.Message = "Transaction denied by user"
	signCallback(cb, "access", "secret")

	// a failed payment is acknowledged, not an error, and changes nothing
	require.NoError(t, env.payments.HandleGatewayCallback(ctx, cb))

	got, err := env.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, got.Status)
}

func TestPayWithWallet(t *testing.T) {
	env := newTestEnv()
	shop := env.store.seedShop(2)
	variant := env.store.seedVariant(1000, 5)
	order := createTestOrder(t, env, shop.ID, variant.ID, 1)
	ctx := context.Background()

	_, err := env.wallets.Deposit(ctx, buyer(1), 5000, "top up")
	require.NoError(t, err)

	paid, err := env.payments.PayWithWallet(ctx, buyer(1), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)

	_, balance, err := env.wallets.GetBalance(ctx, buyer(1))
	require.NoError(t, err)
	assert.Equal(t, int64(4000), balance)

	// retry must not debit twice
	_, err = env.payments.PayWithWallet(ctx, buyer(1), order.ID)
	require.NoError(t, err)
	_, balance, err = env.wallets.GetBalance(ctx, buyer(1))
	require.NoError(t, err)
	assert.Equal(t, int64(4000), balance)
}

func TestPayWithWalletInsufficientFunds(t *testing.T) {
	env := newTestEnv()
	shop := env.store.seedShop(2)
	variant := env.store.seedVariant(1000, 5)
	order := createTestOrder(t, env, shop.ID, variant.ID, 1)
	ctx := context.Background()

	_, err := env.wallets.Deposit(ctx, buyer(1), 500, "not enough")
	require.NoError(t, err)

	_, err = env.payments.PayWithWallet(ctx, buyer(1), order.ID)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	// order stays open for a later retry, balance untouched
	got, err := env.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, got.Status)

	_, balance, err := env.wallets.GetBalance(ctx, buyer(1))
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestPayWithWalletWrongBuyer(t *testing.T) {
	env := newTestEnv()
	shop := env.store.seedShop(2)
	variant := env.store.seedVariant(1000, 5)
	order := createTestOrder(t, env, shop.ID, variant.ID, 1)

	_, err := env.payments.PayWithWallet(context.Background(), buyer(42), order.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
