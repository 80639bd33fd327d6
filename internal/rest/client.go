// Package rest names the contract this engine consumes from the REST backend
// and provides a plain net/http implementation. Endpoints are opaque resource
// paths; retry, backoff and authentication refresh belong to the caller's
// HTTP stack, not here.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client fetches and mutates backend resources.
type Client interface {
	Get(ctx context.Context, path string, params url.Values, out any) error
	Post(ctx context.Context, path string, body any, out any) error
	Patch(ctx context.Context, path string, body any, out any) error
}

var errMissingBaseURL = errors.New("rest: base url required")

// HTTPClientConfig describes HTTPClient parameters.
type HTTPClientConfig struct {
	BaseURL string
	// BearerToken, when set, is attached to every request.
	BearerToken string
	Timeout     time.Duration
	Logger      *zap.Logger
}

// HTTPClient is the default Client over net/http with JSON bodies.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: base,
		token:   cfg.BearerToken,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Get fetches a resource.
func (c *HTTPClient) Get(ctx context.Context, path string, params url.Values, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, out)
}

// Post creates a resource.
func (c *HTTPClient) Post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, c.baseURL+path, body, out)
}

// Patch partially updates a resource.
func (c *HTTPClient) Patch(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPatch, c.baseURL+path, body, out)
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, target, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		c.logger.Debug("rest request rejected",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("status", response.StatusCode))
		return fmt.Errorf("rest: %s %s: status %d", method, target, response.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
