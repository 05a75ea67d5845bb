// Package registry provides HTTP clients for external drug
// registries. All clients share one resilient request core: per-call
// timeout, bounded exponential-backoff retry, a circuit breaker and an
// outbound rate limit.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rxlens/rxlens/pkg/circuitbreaker"
)

// Config holds shared registry client configuration.
type Config struct {
	// BaseURL is the registry root, e.g. https://api.fda.gov.
	BaseURL string
	// APIKey is sent as X-API-Key when non-empty.
	APIKey string
	// Timeout applies to each individual attempt.
	Timeout time.Duration
	// MaxAttempts bounds retries; backoff doubles from BaseBackoff.
	MaxAttempts int
	BaseBackoff time.Duration
	// RateLimit caps outbound requests per second; 0 disables.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns the retry policy observed across registry
// integrations: 3 attempts, 1s base backoff, doubling.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		RateLimit:   5,
		RateBurst:   10,
	}
}

// Client is the shared HTTP request core.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
	tracer  trace.Tracer
	name    string
}

// NewClient builds a request core for one registry.
func NewClient(name string, cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer("registry-client"),
		name:    name,
	}
}

// GetJSON performs a GET with retries and decodes the JSON response
// into out. A 404 returns ErrNotFound without retrying.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	ctx, span := c.tracer.Start(ctx, "registry_get",
		trace.WithAttributes(
			attribute.String("registry", c.name),
			attribute.String("path", path)))
	defer span.End()

	do := func() (any, error) {
		return nil, c.getWithRetry(ctx, path, query, out)
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(ctx, do)
	} else {
		_, err = do()
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ErrNotFound marks a 404 from the registry.
var ErrNotFound = fmt.Errorf("registry: not found")

func (c *Client) getWithRetry(ctx context.Context, path string, query url.Values, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BaseBackoff << (attempt - 1)
			c.logger.Warn("registry request failed, retrying",
				zap.String("registry", c.name),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := c.getOnce(ctx, u, out)
		if err == nil {
			return nil
		}
		if err == ErrNotFound {
			return err
		}
		lastErr = err
	}

	c.logger.Error("registry request exhausted retries",
		zap.String("registry", c.name),
		zap.String("path", path),
		zap.Error(lastErr))
	return fmt.Errorf("%s: %d attempts: %w", c.name, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) getOnce(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
