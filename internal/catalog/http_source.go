package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default HTTPSource settings. The mapping endpoint is small and rarely
// changes, so the limiter is conservative.
const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultHTTPRetries    = 3
	defaultHTTPBackoff    = 1 * time.Second
	defaultHTTPRateLimit  = 1.0 // requests per second
	defaultHTTPRateBurst  = 2
	defaultCatalogMinSize = 1
)

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	// URL of the item-mapping endpoint. Must return a JSON array of
	// {id, name, value, limit} records.
	URL string `koanf:"url"`
	// UserAgent identifies this client to the upstream API. Public
	// price APIs require a descriptive value.
	UserAgent string `koanf:"user_agent"`
	// Timeout for a single request. Zero means the default.
	Timeout time.Duration `koanf:"timeout"`
	// MaxRetries bounds retry attempts on transient failures.
	MaxRetries int `koanf:"max_retries"`
}

// DefaultHTTPConfig returns an HTTPConfig pointed at the public OSRS
// wiki price-API mapping endpoint.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		URL:        "https://prices.runescape.wiki/api/v1/osrs/mapping",
		UserAgent:  "surge item-mention scanner",
		Timeout:    defaultHTTPTimeout,
		MaxRetries: defaultHTTPRetries,
	}
}

// HTTPSource loads the catalog from a price-API mapping endpoint.
type HTTPSource struct {
	url        string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewHTTPSource creates a catalog source backed by an HTTP endpoint.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("catalog endpoint URL required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultHTTPRetries
	}

	return &HTTPSource{
		url:        cfg.URL,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultHTTPRateLimit), defaultHTTPRateBurst),
		maxRetries: retries,
	}, nil
}

// Load fetches the item mapping and builds a fresh Index. Transient
// failures (transport errors, 429, 5xx) are retried with exponential
// backoff; anything else fails immediately.
func (s *HTTPSource) Load(ctx context.Context) (*Index, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultHTTPBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		idx, err := s.fetch(ctx)
		if err == nil {
			return idx, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *HTTPSource) fetch(ctx context.Context) (*Index, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("mapping request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (%d)", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mapping endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var items []Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to parse mapping response: %w", err)
	}
	if len(items) < defaultCatalogMinSize {
		return nil, fmt.Errorf("mapping response contained no items")
	}

	return NewIndex(items), nil
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	for e := err; e != nil; {
		if _, ok := e.(*retryableError); ok {
			return true
		}
		if u, ok := e.(interface{ Unwrap() error }); ok {
			e = u.Unwrap()
		} else {
			break
		}
	}
	return false
}

var _ Source = (*HTTPSource)(nil)
