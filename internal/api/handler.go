package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	walletService  *service.WalletService
	refundService  *service.RefundService
	redis          *redisclient.Client
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, payments *service.PaymentService, wallets *service.WalletService, refunds *service.RefundService, redis *redisclient.Client) *Handler {
	return &Handler{
		orderService:   orders,
		paymentService: payments,
		walletService:  wallets,
		refundService:  refunds,
		redis:          redis,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// The gateway posts here without identity headers; the signature is the
	// authentication.
	v1.POST("/payments/gateway/callback", h.gatewayCallback)

	authed := v1.Group("")
	authed.Use(requireActor())
	{
		authed.POST("/orders", rateLimit(h.redis, "create_order", 30, time.Minute), h.createOrder)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/confirm", h.confirmOrder)
		authed.POST("/orders/:id/ship", h.shipOrder)
		authed.POST("/orders/:id/received", h.orderReceived)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.POST("/orders/:id/pay-wallet", h.payWithWallet)

		authed.POST("/refunds", rateLimit(h.redis, "create_refund", 10, time.Minute), h.createRefund)
		authed.GET("/refunds/:id", h.getRefund)
		authed.POST("/refunds/:id/review", h.reviewRefund)
		authed.POST("/refunds/:id/returning", h.refundReturning)
		authed.POST("/refunds/:id/confirm-return", h.confirmReturn)
		authed.POST("/refunds/:id/complete", h.completeRefund)

		authed.POST("/vouchers", h.createVoucher)
		authed.GET("/vouchers/:code", h.getVoucher)

		authed.GET("/wallet", h.getWallet)
		authed.GET("/wallet/transactions", h.getWalletTransactions)
		authed.POST("/wallet/deposit", h.deposit)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "details": "invalid id"})
		return 0, false
	}
	return id, true
}

// createOrder handles checkout. For wallet payment the debit runs right after
// creation; an insufficient balance leaves the order PENDING and UNPAID so the
// buyer can top up and retry.
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"details": err.Error(),
		})
		return
	}

	actor := getActor(c)
	order, err := h.orderService.CreateOrder(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.PaymentMethod == models.PaymentMethodWallet {
		paid, err := h.paymentService.PayWithWallet(c.Request.Context(), actor, order.ID)
		if err != nil {
			if errors.Is(err, apperr.ErrInsufficientFunds) {
				c.JSON(http.StatusCreated, gin.H{
					"order":         order,
					"payment_error": apperr.Code(err),
				})
				return
			}
			respondError(c, err)
			return
		}
		order = paid
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, items, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// confirmOrder is the seller accepting the order and booking the shipment
func (h *Handler) confirmOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var params service.ShipParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.ConfirmAndShip(c.Request.Context(), getActor(c), orderID, params)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// shipOrder marks the parcel as handed to the carrier
func (h *Handler) shipOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orderService.StartShipping(c.Request.Context(), getActor(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// orderReceived marks the order delivered and completed
func (h *Handler) orderReceived(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orderService.CompleteDelivery(c.Request.Context(), getActor(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// cancelOrder handles order cancellation
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req cancelOrderRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.orderService.Cancel(c.Request.Context(), getActor(c), orderID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// payWithWallet retries wallet payment for an existing unpaid order
func (h *Handler) payWithWallet(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.paymentService.PayWithWallet(c.Request.Context(), getActor(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// createRefund opens a refund request
func (h *Handler) createRefund(c *gin.Context) {
	var req service.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"details": err.Error(),
		})
		return
	}

	refund, err := h.refundService.CreateRefund(c.Request.Context(), getActor(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"refund": refund})
}

// getRefund handles get refund by ID
func (h *Handler) getRefund(c *gin.Context) {
	refundID, ok := pathID(c)
	if !ok {
		return
	}

	refund, items, err := h.refundService.GetRefund(c.Request.Context(), refundID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"refund": refund,
		"items":  items,
	})
}

type reviewRefundRequest struct {
	Approve      bool   `json:"approve"`
	RejectReason string `json:"reject_reason,omitempty"`
}

// reviewRefund is the seller's approve/reject decision
func (h *Handler) reviewRefund(c *gin.Context) {
	refundID, ok := pathID(c)
	if !ok {
		return
	}

	var req reviewRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"details": err.Error(),
		})
		return
	}

	refund, err := h.refundService.Review(c.Request.Context(), getActor(c), refundID, req.Approve, req.RejectReason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// refundReturning is the buyer reporting the goods shipped back
func (h *Handler) refundReturning(c *gin.Context) {
	refundID, ok := pathID(c)
	if !ok {
		return
	}

	refund, err := h.refundService.MarkReturning(c.Request.Context(), getActor(c), refundID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

type confirmReturnRequest struct {
	Accept bool   `json:"accept"`
	Note   string `json:"note,omitempty"`
}

// confirmReturn is the seller inspecting the returned goods
func (h *Handler) confirmReturn(c *gin.Context) {
	refundID, ok := pathID(c)
	if !ok {
		return
	}

	var req confirmReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"details": err.Error(),
		})
		return
	}

	refund, err := h.refundService.ConfirmReturnReceived(c.Request.Context(), getActor(c), refundID, req.Accept, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// completeRefund is the one-step accept for sellers who skip the inspection
// note. Safe to retry.
func (h *Handler) completeRefund(c *gin.Context) {
	refundID, ok := pathID(c)
	if !ok {
		return
	}

	refund, err := h.refundService.ConfirmReceiptAndRefund(c.Request.Context(), getActor(c), refundID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// createVoucher registers a promotion
func (h *Handler) createVoucher(c *gin.Context) {
	var req service.CreateVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"details": err.Error(),
		})
		return
	}

	voucher, err := h.orderService.CreateVoucher(c.Request.Context(), getActor(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"voucher": voucher})
}

// getVoucher looks up a promotion by code
func (h *Handler) getVoucher(c *gin.Context) {
	voucher, err := h.orderService.GetVoucher(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"voucher": voucher})
}

// getWallet returns the caller's wallet and balance
func (h *Handler) getWallet(c *gin.Context) {
	wallet, balance, err := h.walletService.GetBalance(c.Request.Context(), getActor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":  wallet,
		"balance": balance,
	})
}

// getWalletTransactions returns the caller's ledger history
func (h *Handler) getWalletTransactions(c *gin.Context) {
	txns, err := h.walletService.GetTransactions(c.Request.Context(), getActor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

type depositRequest struct {
	Amount      int64  `json:"amount" binding:"required,min=1"`
	Description string `json:"description,omitempty"`
}

// deposit credits the caller's wallet
func (h *Handler) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"details": err.Error(),
		})
		return
	}

	txn, err := h.walletService.Deposit(c.Request.Context(), getActor(c), req.Amount, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": txn})
}
