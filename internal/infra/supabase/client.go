// Package supabase reads tables through the Supabase PostgREST API.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Zimbwa03/NerdX-sub004/internal/infra/resilience"
)

var tracer = otel.Tracer("supabase")

// ExternalServiceError wraps every failure of a remote call.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

type Client struct {
	httpClient *http.Client
	baseURL    string
	serviceKey string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

func NewClient(httpClient *http.Client, baseURL, serviceKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// get runs an authenticated GET against /rest/v1/<path>. 4xx answers are not retried.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("supabase: request failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)

		err = fmt.Errorf("supabase returned status %d", resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	c.logger.Debug("supabase: request ok", zap.String("path", path), zap.Int("status", resp.StatusCode))

	return body, nil
}

// FeatureCost is one active row of the feature_costs table.
type FeatureCost struct {
	ActionKey   string `json:"action_key"`
	Cost        int64  `json:"cost"`
	IsCommand   bool   `json:"is_command"`
	Description string `json:"description"`
}

// FetchFeatureCosts reads the active cost rows the mobile app is priced from.
func (c *Client) FetchFeatureCosts(ctx context.Context) ([]FeatureCost, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FetchFeatureCosts")
	defer span.End()

	var rows []FeatureCost

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.get(ctx, "feature_costs?select=action_key,cost,is_command,description&active=eq.true")
			if err != nil {
				return err
			}

			err = json.Unmarshal(body, &rows)
			if err != nil {
				return resilience.Permanent(fmt.Errorf("decode feature costs: %w", err))
			}

			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch feature costs")
		return nil, &ExternalServiceError{Service: "supabase/feature_costs", Err: err}
	}

	span.SetAttributes(attribute.Int("feature_costs.count", len(rows)))

	return rows, nil
}
