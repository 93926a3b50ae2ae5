// internal/clients/inventory_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"cannatrace/internal/inventory"
)

type InventoryClient struct {
	baseURL string
}

func NewInventoryClient(baseURL string) *InventoryClient {
	return &InventoryClient{baseURL: baseURL}
}

func (c *InventoryClient) GetUnit(ctx context.Context, id uuid.UUID) (*inventory.Unit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/units/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var unit inventory.Unit
	if err := json.NewDecoder(resp.Body).Decode(&unit); err != nil {
		return nil, err
	}

	return &unit, nil
}

// ConsumeUnits marks the units consumed by a distribution. A 409 from the
// inventory service means at least one unit is already spoken for.
func (c *InventoryClient) ConsumeUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error {
	if err := c.postUnitBatch(ctx, "/units/consume", ids, distributionID); err != nil {
		return err
	}
	return nil
}

// ReleaseUnits hands units back after a failed commit (compensation).
func (c *InventoryClient) ReleaseUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error {
	return c.postUnitBatch(ctx, "/units/release", ids, distributionID)
}

func (c *InventoryClient) postUnitBatch(ctx context.Context, path string, ids []uuid.UUID, distributionID uuid.UUID) error {
	payload := struct {
		UnitIDs        []uuid.UUID `json:"unit_ids"`
		DistributionID uuid.UUID   `json:"distribution_id"`
	}{
		UnitIDs:        ids,
		DistributionID: distributionID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return inventory.ErrUnitUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}
