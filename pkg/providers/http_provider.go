package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPProvider is the shared base for HTTP adapters. It owns the pooled
// client, resolves the API key by reference per request, classifies error
// responses, and feeds outcomes into the health tracker.
//
// Retries and failover are the router's responsibility; the base performs
// exactly one attempt per call.
type HTTPProvider struct {
	config Config
	client *http.Client
	keys   KeyResolver
	health *HealthTracker
}

// NewHTTPProvider creates the base with a pooled transport.
func NewHTTPProvider(config Config, keys KeyResolver) *HTTPProvider {
	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout: config.DialTimeout,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}

	return &HTTPProvider{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		keys:   keys,
		health: NewHealthTracker(config.Name, config.RecoveryProbes),
	}
}

// Name returns the connector's configured name.
func (p *HTTPProvider) Name() string {
	return p.config.Name
}

// Config returns the connector configuration.
func (p *HTTPProvider) Config() Config {
	return p.config
}

// Health returns the connector's health tracker.
func (p *HTTPProvider) Health() *HealthTracker {
	return p.health
}

// APIKey resolves the connector's key through the secret store.
func (p *HTTPProvider) APIKey(ctx context.Context) (string, error) {
	if p.config.APIKeyRef == "" {
		// Self-hosted endpoints may run without authentication.
		return "", nil
	}
	key, err := p.keys.GetSecret(ctx, p.config.APIKeyRef)
	if err != nil {
		return "", fmt.Errorf("resolving key for provider %s: %w", p.config.Name, err)
	}
	return key, nil
}

// DoRequest performs one HTTP attempt and classifies the outcome. On a
// non-2xx status the body is consumed and closed; on success the caller
// owns the body.
func (p *HTTPProvider) DoRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.health.RecordFailure()

		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{
				Provider: p.config.Name,
				Timeout:  p.config.Timeout,
			}
		}
		return nil, &NetworkError{
			Provider: p.config.Name,
			Cause:    err,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.health.RecordSuccess()
		return resp, nil
	}

	errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		// Credential problem, not a provider outage.
		return nil, &AuthError{
			Provider: p.config.Name,
			Message:  string(errorBody),
		}

	case http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Provider:   p.config.Name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    string(errorBody),
		}

	default:
		if resp.StatusCode >= 500 {
			p.health.RecordFailure()
		}
		return nil, &ProviderError{
			Provider:   p.config.Name,
			StatusCode: resp.StatusCode,
			Message:    string(errorBody),
		}
	}
}

// DoJSONRequest performs a request and decodes the JSON response.
func (p *HTTPProvider) DoJSONRequest(ctx context.Context, method, url string, reqBody, respBody any, headers map[string]string) error {
	var bodyBytes []byte
	var err error
	if reqBody != nil {
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := p.DoRequest(ctx, method, url, bodyBytes, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ParseError{
			Provider: p.config.Name,
			Cause:    fmt.Errorf("failed to read response: %w", err),
		}
	}

	if respBody != nil && len(responseBytes) > 0 {
		if err := json.Unmarshal(responseBytes, respBody); err != nil {
			return &ParseError{
				Provider:    p.config.Name,
				RawResponse: string(responseBytes),
				Cause:       fmt.Errorf("failed to unmarshal response: %w", err),
			}
		}
	}

	return nil
}

// Close releases idle connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// parseRetryAfter parses the Retry-After header value, supporting both
// delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}
