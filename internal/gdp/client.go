// Package gdp is the HTTP client for the appliance REST API. Every call
// carries the current OAuth bearer token; a 401 from the appliance triggers
// token invalidation and exactly one retry with a fresh token.
package gdp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gdpmcp "github.com/IBM/gdp-mcp-server"
	"github.com/IBM/gdp-mcp-server/internal/logging"
	"github.com/IBM/gdp-mcp-server/internal/metrics"
)

// requestTimeout bounds ordinary appliance calls. Reports and long-running
// queries can be slow, so this is far above the token exchange timeout.
const requestTimeout = 120 * time.Second

// maxErrorBody limits how much of an appliance error response is carried in
// a StatusError.
const maxErrorBody = 2000

// TokenSource supplies and invalidates the appliance bearer token.
// *auth.Manager implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StatusError is a non-2xx appliance response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("appliance returned %d: %s", e.Code, e.Body)
}

// Client executes authenticated requests against the appliance REST API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// NewClient creates an appliance client using tokens for authentication.
func NewClient(app gdpmcp.ApplianceConfig, tokens TokenSource) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !app.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		baseURL: app.BaseURL(),
		tokens:  tokens,
		http: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
	}
}

// Do makes an authenticated request to the appliance.
//
//	GET                   → params sent as query string
//	POST/PUT/DELETE/...   → params sent as JSON body
//
// On a 401 the cached token is invalidated and the identical request is
// retried exactly once with a fresh token; the second outcome is returned
// either way. Other failures (5xx, timeouts) are not retried here.
func (c *Client) Do(ctx context.Context, verb, resource string, params map[string]any) (any, error) {
	verb = strings.ToUpper(verb)
	start := time.Now()

	resp, err := c.attempt(ctx, verb, resource, params)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(verb, "error").Inc()
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		logging.FromContext(ctx).Info("appliance returned 401, refreshing token and retrying",
			"verb", verb, "resource", resource)
		metrics.UpstreamRetries.Inc()
		c.tokens.Invalidate()

		resp, err = c.attempt(ctx, verb, resource, params)
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues(verb, "error").Inc()
			return nil, err
		}
	}
	defer drain(resp)

	metrics.UpstreamRequests.WithLabelValues(verb, statusClass(resp.StatusCode)).Inc()
	metrics.UpstreamDuration.WithLabelValues(verb).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading appliance response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	if resp.StatusCode == http.StatusNoContent || len(body) == 0 {
		return map[string]any{"status": "success", "http_code": resp.StatusCode}, nil
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return map[string]any{
			"status":    "success",
			"http_code": resp.StatusCode,
			"body":      truncate(string(body), maxErrorBody),
		}, nil
	}
	return parsed, nil
}

// attempt builds and sends a single authenticated request.
func (c *Client) attempt(ctx context.Context, verb, resource string, params map[string]any) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	target := c.baseURL + "/" + resource
	var body io.Reader
	if verb == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, fmt.Sprint(v))
			}
			target += "?" + q.Encode()
		}
	} else {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding request parameters: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, verb, target, body)
	if err != nil {
		return nil, fmt.Errorf("building appliance request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	logging.FromContext(ctx).Debug("appliance request", "verb", verb, "resource", resource)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling appliance: %w", err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code <= 299:
		return "2xx"
	case code >= 400 && code <= 499:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
