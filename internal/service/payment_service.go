package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// PaymentService reconciles payments from the two paths: the asynchronous
// gateway callback and the synchronous wallet debit at checkout. Both are
// safe to retry with the same inputs.
type PaymentService struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger

	partnerCode string
	accessKey   string
	secretKey   string
}

// NewPaymentService creates a new payment service
func NewPaymentService(store Store, notifier Notifier, partnerCode, accessKey, secretKey string) *PaymentService {
	return &PaymentService{
		store:       store,
		notifier:    notifier,
		logger:      util.GetLogger(),
		partnerCode: partnerCode,
		accessKey:   accessKey,
		secretKey:   secretKey,
	}
}

// GatewayCallback is the webhook payload posted by the payment gateway.
type GatewayCallback struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// rawSignature builds the canonical parameter string the gateway signs. The
// field order is fixed by the gateway contract.
func (ps *PaymentService) rawSignature(cb *GatewayCallback) string {
	return fmt.Sprintf("accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		ps.accessKey, cb.Amount, cb.ExtraData, cb.Message, cb.OrderID, cb.OrderInfo,
		cb.OrderType, cb.PartnerCode, cb.PayType, cb.RequestID, cb.ResponseTime,
		cb.ResultCode, cb.TransID)
}

// VerifySignature checks the callback's HMAC-SHA256 signature.
func (ps *PaymentService) VerifySignature(cb *GatewayCallback) bool {
	mac := hmac.New(sha256.New, []byte(ps.secretKey))
	mac.Write([]byte(ps.rawSignature(cb)))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(cb.Signature))
}

// HandleGatewayCallback applies an at-most-once payment confirmation from a
// gateway webhook. Duplicate deliveries (order already PAID) succeed without
// re-applying; an invalid signature changes no state.
func (ps *PaymentService) HandleGatewayCallback(ctx context.Context, cb *GatewayCallback) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleGatewayCallback")
	defer span.End()

	if !ps.VerifySignature(cb) {
		util.GatewayCallbacksTotal.WithLabelValues("invalid_signature").Inc()
		return fmt.Errorf("callback for %s: %w", cb.OrderID, apperr.ErrInvalidSignature)
	}
	if cb.PartnerCode != ps.partnerCode {
		util.GatewayCallbacksTotal.WithLabelValues("invalid_partner").Inc()
		return fmt.Errorf("unexpected partner code %q: %w", cb.PartnerCode, apperr.ErrValidation)
	}

	order, err := ps.store.GetOrderByGatewayOrderID(ctx, cb.OrderID)
	if err != nil {
		util.GatewayCallbacksTotal.WithLabelValues("unknown_order").Inc()
		return err
	}

	if cb.ResultCode != 0 {
		util.GatewayCallbacksTotal.WithLabelValues("gateway_failure").Inc()
		ps.logger.Warn("Gateway reported payment failure",
			zap.Int64("order_id", order.ID),
			zap.Int("result_code", cb.ResultCode),
			zap.String("message", cb.Message))
		return nil
	}

	if cb.Amount != order.TotalAmount {
		util.GatewayCallbacksTotal.WithLabelValues("amount_mismatch").Inc()
		return fmt.Errorf("callback amount %d does not match order total %d: %w",
			cb.Amount, order.TotalAmount, apperr.ErrValidation)
	}

	applied, err := ps.store.MarkOrderPaidTx(ctx, order.ID, fmt.Sprintf("%d", cb.TransID))
	if err != nil {
		return err
	}
	if !applied {
		util.GatewayCallbacksTotal.WithLabelValues("duplicate").Inc()
		ps.logger.Info("Duplicate gateway callback",
			zap.Int64("order_id", order.ID),
			zap.Int64("trans_id", cb.TransID))
		return nil
	}

	util.GatewayCallbacksTotal.WithLabelValues("paid").Inc()
	util.OrdersPaidTotal.WithLabelValues("gateway").Inc()
	ps.logger.Info("Order paid via gateway",
		zap.Int64("order_id", order.ID),
		zap.Int64("trans_id", cb.TransID))

	msg := fmt.Sprintf("Payment for order %d confirmed", order.ID)
	if err := ps.notifier.Notify(ctx, order.BuyerID, models.NotifyOrderPaid, msg, order.ID); err != nil {
		util.NotifyPublishFailedTotal.Inc()
		ps.logger.Warn("Failed to publish payment notification", zap.Error(err))
	}

	return nil
}

// PayWithWallet debits the buyer's wallet and marks the order PAID in one
// atomic unit. Insufficient balance leaves the order UNPAID and PENDING.
// Retrying after success is a no-op.
func (ps *PaymentService) PayWithWallet(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.PayWithWallet")
	defer span.End()

	order, err := ps.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("user %d is not the buyer: %w", actor.UserID, apperr.ErrUnauthorized)
	}

	wallet, err := ps.store.GetOrCreateWallet(ctx, order.BuyerID)
	if err != nil {
		return nil, err
	}

	applied, err := ps.store.PayOrderWithWalletTx(ctx, orderID, wallet.ID)
	if err != nil {
		return nil, err
	}
	if applied {
		util.OrdersPaidTotal.WithLabelValues("wallet").Inc()
		ps.logger.Info("Order paid from wallet",
			zap.Int64("order_id", orderID),
			zap.Int64("wallet_id", wallet.ID))
	}

	return ps.store.GetOrderByID(ctx, orderID)
}
