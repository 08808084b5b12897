// Package carrier wraps the shipping carrier's HTTP API. Calls carry bounded
// timeouts; a timeout surfaces as an error and never blocks a database
// transaction.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/util"
)

type Client struct {
	endpoint   string
	token      string
	shopID     string
	httpClient *http.Client
}

// ShipmentRequest carries the parameters for creating a carrier order.
type ShipmentRequest struct {
	OrderID       int64  `json:"order_id"`
	PickupAddress string `json:"pickup_address"`
	ToAddress     string `json:"to_address"`
	ServiceID     int    `json:"service_id"`
	ServiceTypeID int    `json:"service_type_id"`
}

// ShipmentResult is the carrier's answer to a create call.
type ShipmentResult struct {
	CarrierOrderCode string `json:"order_code"`
	Status           string `json:"status"`
	RawPayload       string `json:"-"`
}

// NewClient creates a carrier API client
func NewClient(endpoint, token, shopID string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		shopID:   shopID,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// CreateShipment registers a shipping order with the carrier and returns the
// carrier order code.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	start := time.Now()
	defer func() {
		util.CarrierCallLatency.WithLabelValues("create").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal shipment request: %w", err)
	}

	resp, err := c.post(ctx, "/shiip/public-api/v2/shipping-order/create", body)
	if err != nil {
		return nil, fmt.Errorf("carrier create: %w: %v", apperr.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("carrier create returned %d: %w", resp.StatusCode, apperr.ErrExternalService)
	}

	var envelope struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode carrier response: %w", err)
	}

	var result ShipmentResult
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return nil, fmt.Errorf("decode carrier data: %w", err)
	}
	result.RawPayload = string(envelope.Data)

	if result.CarrierOrderCode == "" {
		return nil, fmt.Errorf("carrier returned empty order code: %w", apperr.ErrExternalService)
	}

	return &result, nil
}

// CancelShipment cancels a carrier order by its code.
func (c *Client) CancelShipment(ctx context.Context, carrierOrderCode string) error {
	start := time.Now()
	defer func() {
		util.CarrierCallLatency.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(map[string][]string{"order_codes": {carrierOrderCode}})
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}

	resp, err := c.post(ctx, "/shiip/public-api/v2/switch-status/cancel", body)
	if err != nil {
		return fmt.Errorf("carrier cancel: %w: %v", apperr.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("carrier cancel returned %d: %w", resp.StatusCode, apperr.ErrExternalService)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", c.token)
	req.Header.Set("ShopId", c.shopID)

	return c.httpClient.Do(req)
}
