package assetdir

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client reads the external asset directory. The engine never writes assets;
// it mirrors them for criticality and installation-age lookups.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type AssetRecord struct {
	AssetID         string  `json:"asset_id"`
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	AssetType       string  `json:"asset_type"`
	Criticality     int     `json:"criticality"`
	InstalledAt     *string `json:"installed_at,omitempty"`
	ReplacementCost float64 `json:"replacement_cost"`
	CurrentMeter    float64 `json:"current_meter"`
}

type listResponse struct {
	Assets []AssetRecord `json:"assets"`
	Next   string        `json:"next_cursor,omitempty"`
}

func NewClient(baseURL string, token string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("assetdir api url required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (c *Client) GetAsset(ctx context.Context, tenantID string, assetID string) (AssetRecord, error) {
	var out AssetRecord
	err := c.doJSON(ctx, "/api/v1/assets/"+url.PathEscape(assetID), tenantID, &out)
	return out, err
}

// ListAssets pages through the directory for one tenant.
func (c *Client) ListAssets(ctx context.Context, tenantID string, cursor string) ([]AssetRecord, string, error) {
	path := "/api/v1/assets"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var out listResponse
	if err := c.doJSON(ctx, path, tenantID, &out); err != nil {
		return nil, "", err
	}
	return out.Assets, out.Next, nil
}

func (c *Client) doJSON(ctx context.Context, path string, tenantID string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errors.New("asset not found")
	}
	if resp.StatusCode >= 300 {
		return errors.New("assetdir request failed")
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
