package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/relink/internal/shared"
	"golang.org/x/time/rate"
)

const (
	checkAuthPath   = "/auth/check-auth"
	refreshPath     = "/auth/refresh-token"
	socketTokenPath = "/auth/socket-token"

	// Fallback wait when a 429 arrives without a Retry-After header.
	defaultRetryAfter = time.Second
)

// CheckResult is the body of the check-auth endpoint.
type CheckResult struct {
	Authenticated bool `json:"authenticated"`
	TokenValid    bool `json:"token_valid"`
}

// SocketCredentials is a short-lived, channel-scoped credential returned by
// the socket-token exchange.
type SocketCredentials struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	SocketURL string `json:"socket_url"`
}

// Client wraps the media server's auth endpoints. Requests are paced by a
// client-side rate limiter, and a 429 waits out Retry-After and retries the
// same call once before surfacing [shared.ErrRateLimited].
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewClient creates an auth [Client] for the server at baseURL. A nil
// httpClient falls back to [http.DefaultClient]; ratePerSec <= 0 disables
// pacing.
func NewClient(baseURL string, httpClient *http.Client, ratePerSec int, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// CheckAuth calls the server-side verification endpoint with the given
// bearer token.
func (c *Client) CheckAuth(ctx context.Context, bearer string) (*CheckResult, error) {
	var result CheckResult
	if err := c.getJSON(ctx, checkAuthPath, bearer, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Refresh exchanges the current (possibly soon-to-expire) token for a fresh
// one. The stored token is presented as proof of the prior session.
func (c *Client) Refresh(ctx context.Context, bearer string) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, refreshPath, bearer, &result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", fmt.Errorf("%w: refresh response missing token", shared.ErrRefreshFailed)
	}
	return result.Token, nil
}

// SocketToken exchanges the primary token for a channel-scoped credential.
func (c *Client) SocketToken(ctx context.Context, bearer string) (*SocketCredentials, error) {
	var creds SocketCredentials
	if err := c.getJSON(ctx, socketTokenPath, bearer, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (c *Client) getJSON(ctx context.Context, path, bearer string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, bearer, out)
}

// doJSON performs one authenticated JSON request, retrying exactly once
// after a 429. Rate limiting never clears the token or redirects; it only
// delays the call that was limited.
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, out any) error {
	resp, err := c.do(ctx, method, path, bearer)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp)
		resp.Body.Close()
		c.logger.Warn("rate limited, retrying once", "path", path, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		if resp, err = c.do(ctx, method, path, bearer); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s returned 401", shared.ErrAuthRejected, path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned 429 twice", shared.ErrRateLimited, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrNetworkFailure, err)
	}
	return resp, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
