package workorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"predictive-maintenance-engine/shared/config"
	"predictive-maintenance-engine/shared/metricsx"
)

// Client talks to the external work order service. Calls are retried on 5xx
// and transport errors, behind a circuit breaker so a dead service does not
// stall every sweep.
type Client struct {
	baseURL  string
	timeout  time.Duration
	retryMax int
	http     *http.Client
	breaker  *circuitBreaker
}

type CreateWorkOrderRequest struct {
	TenantID    string   `json:"tenant_id"`
	AssetID     string   `json:"asset_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	DueAt       string   `json:"due_at"`
	Checklist   []string `json:"checklist,omitempty"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	Source      string   `json:"source"`
}

type CreateWorkOrderResponse struct {
	WorkOrderRef string `json:"work_order_ref"`
	Status       string `json:"status"`
}

func New(cfg config.Config) (*Client, error) {
	if cfg.WorkOrderServiceURL == "" {
		return nil, errors.New("WORKORDER_SERVICE_URL is required")
	}
	timeout := time.Duration(cfg.WorkOrderTimeoutMS) * time.Millisecond
	return &Client{
		baseURL:  cfg.WorkOrderServiceURL,
		timeout:  timeout,
		retryMax: cfg.WorkOrderRetryMax,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: newCircuitBreaker(5, 30*time.Second),
	}, nil
}

func (c *Client) CreateWorkOrder(ctx context.Context, req CreateWorkOrderRequest) (CreateWorkOrderResponse, error) {
	if c == nil || c.http == nil {
		return CreateWorkOrderResponse{}, errors.New("workorder client not initialized")
	}
	if c.breaker.Open() {
		return CreateWorkOrderResponse{}, errors.New("workorder circuit open")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return CreateWorkOrderResponse{}, err
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		reqHTTP, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/work-orders", bytes.NewReader(body))
		if err != nil {
			return CreateWorkOrderResponse{}, err
		}
		reqHTTP.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(reqHTTP)
		if err != nil {
			lastErr = err
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = errors.New("workorder service error")
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			resp.Body.Close()
			metricsx.IncWorkOrderClientFailure()
			return CreateWorkOrderResponse{}, errors.New("workorder request rejected")
		}
		var out CreateWorkOrderResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			c.breaker.Fail()
			metricsx.IncWorkOrderClientFailure()
			return CreateWorkOrderResponse{}, err
		}
		c.breaker.Success()
		metricsx.IncWorkOrderClientSuccess()
		metricsx.ObserveWorkOrderClientLatency(time.Since(start))
		return out, nil
	}
	if lastErr == nil {
		lastErr = errors.New("workorder request failed")
	}
	metricsx.IncWorkOrderClientFailure()
	return CreateWorkOrderResponse{}, lastErr
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
