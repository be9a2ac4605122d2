package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"evidence-engine/internal/domain"
)

// InheritanceClient queries the inheritance registry service for provider
// responsibility records.
type InheritanceClient struct {
	BaseURL string
	Client  *http.Client
}

// NewInheritanceClient constructs a registry client with the given timeout in seconds.
func NewInheritanceClient(baseURL string, timeout int) *InheritanceClient {
	return &InheritanceClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

type inheritanceResponse struct {
	ControlID      string `json:"control_id"`
	ProviderName   string `json:"provider_name"`
	Responsibility string `json:"responsibility"`
	Narrative      string `json:"narrative"`
}

// GetInheritance looks up the responsibility record for one control and
// provider. A 404 means no record exists and returns nil, nil.
func (c *InheritanceClient) GetInheritance(ctx context.Context, controlID, providerName string) (*domain.InheritanceRecord, error) {
	u, err := url.Parse(fmt.Sprintf("%s/v1/inheritance", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	q := u.Query()
	q.Set("control_id", controlID)
	q.Set("provider", providerName)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inheritance request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inheritance registry returned status: %d", resp.StatusCode)
	}

	var body inheritanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode inheritance response: %w", err)
	}

	return &domain.InheritanceRecord{
		ControlID:      body.ControlID,
		ProviderName:   body.ProviderName,
		Responsibility: domain.Responsibility(body.Responsibility),
		Narrative:      body.Narrative,
	}, nil
}

var _ domain.InheritanceLookup = (*InheritanceClient)(nil)
