package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-fulfillment/internal/errs"
	"ms-fulfillment/internal/logger"
	"ms-fulfillment/internal/models"
)

// Client talks to the catalog service. The engine uses it for price
// and stock pre-checks only; the authoritative reservation happens in
// the inventory ledger.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

func NewClient(baseURL string, client *http.Client, log *logger.Logger) *Client {
	return &Client{baseURL: trimSlash(baseURL), client: client, logger: log}
}

func (c *Client) GetVariantForPricing(ctx context.Context, variantID string) (*models.CatalogVariant, error) {
	url := fmt.Sprintf("%s/internal/v1/variants/%s", c.baseURL, variantID)
	c.logger.Debug("CATALOG", fmt.Sprintf("Fetching variant: %s", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create variant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("CATALOG", fmt.Sprintf("Catalog service error: %v", err))
		return nil, fmt.Errorf("catalog service error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Warn("CATALOG", fmt.Sprintf("Variant not found: %s", variantID))
		return nil, errs.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("CATALOG", fmt.Sprintf("Catalog service returned status: %d", resp.StatusCode))
		return nil, fmt.Errorf("catalog service returned status: %d", resp.StatusCode)
	}

	var variant models.CatalogVariant
	if err := json.NewDecoder(resp.Body).Decode(&variant); err != nil {
		return nil, fmt.Errorf("failed to decode variant response: %w", err)
	}
	return &variant, nil
}

func trimSlash(s string) string {
	if s != "" && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
