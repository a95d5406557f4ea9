package voucher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
)

// Client talks to the voucher service. Usage is incremented once at
// order creation and intentionally not decremented on cancellation.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

func NewClient(baseURL string, client *http.Client, log *logger.Logger) *Client {
	if baseURL != "" && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{baseURL: baseURL, client: client, logger: log}
}

func (c *Client) Validate(ctx context.Context, voucherID string, subtotal float64) (*models.VoucherValidation, error) {
	url := fmt.Sprintf("%s/internal/v1/vouchers/%s/validate?subtotal=%.2f", c.baseURL, voucherID, subtotal)
	c.logger.Debug("VOUCHER", fmt.Sprintf("Validating voucher: %s", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create voucher request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("VOUCHER", fmt.Sprintf("Voucher service error: %v", err))
		return nil, fmt.Errorf("voucher service error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &models.VoucherValidation{VoucherID: voucherID, Valid: false, Reason: "voucher not found"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("VOUCHER", fmt.Sprintf("Voucher service returned status: %d", resp.StatusCode))
		return nil, fmt.Errorf("voucher service returned status: %d", resp.StatusCode)
	}

	var validation models.VoucherValidation
	if err := json.NewDecoder(resp.Body).Decode(&validation); err != nil {
		return nil, fmt.Errorf("failed to decode voucher response: %w", err)
	}
	return &validation, nil
}

func (c *Client) IncrementUsage(ctx context.Context, voucherID string) error {
	url := fmt.Sprintf("%s/internal/v1/vouchers/%s/increment-usage", c.baseURL, voucherID)
	c.logger.Debug("VOUCHER", fmt.Sprintf("Incrementing voucher usage: %s", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create increment usage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("VOUCHER", fmt.Sprintf("Increment usage error: %v", err))
		return fmt.Errorf("increment usage error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("VOUCHER", fmt.Sprintf("Increment usage returned status: %d", resp.StatusCode))
		return fmt.Errorf("increment usage returned status: %d", resp.StatusCode)
	}

	c.logger.Info("VOUCHER", fmt.Sprintf("Voucher usage incremented: %s", voucherID))
	return nil
}
