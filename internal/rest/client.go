// Package rest is a thin HTTP client for the account and category
// services that live outside the realtime channel: the linked-account
// list and the user's category labels. It handles Bearer token
// authentication, JSON marshaling, and automatic retry with
// exponential backoff on HTTP 429.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailboxd/internal/model"
)

// Client talks to the mailbox REST surface rooted at baseURL.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
}

// NewClient creates a REST client. baseURL is the service root (e.g.
// https://api.mailhost.example.com); token is the same bearer token the
// realtime channel authenticates with.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
	}
}

// ListAccounts returns the linked mailbox accounts for the
// authenticated user. account scopes the query to one identity's link
// set; pass "" for all.
func (c *Client) ListAccounts(
	ctx context.Context, account string,
) ([]model.Account, error) {
	path := "/v1/accounts"
	if account != "" {
		path += "?accountIdentity=" + url.QueryEscape(account)
	}
	var accounts []model.Account
	if err := c.get(ctx, path, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetCategories returns the category labels configured for an account.
func (c *Client) GetCategories(
	ctx context.Context, account string,
) ([]model.Category, error) {
	path := "/v1/categories?accountIdentity=" + url.QueryEscape(account)
	var categories []model.Category
	if err := c.get(ctx, path, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// PutCategories replaces the category labels for an account.
func (c *Client) PutCategories(
	ctx context.Context, account string, categories []model.Category,
) error {
	path := "/v1/categories?accountIdentity=" + url.QueryEscape(account)
	return c.do(ctx, http.MethodPut, path, categories, nil)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// do is the core HTTP method that builds the request, handles auth,
// rate limiting with exponential backoff, and JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body any,
	result any,
) error {
	endpoint := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Rebuild the body reader on retries since it was consumed.
		if attempt > 0 && body != nil {
			data, _ := json.Marshal(body)
			bodyReader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf(
				"authentication failed (%d) on %s %s: token rejected by %s",
				resp.StatusCode, method, path, c.baseURL,
			)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var apiErr errorResponse
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
				return fmt.Errorf(
					"API error (%d) on %s %s: %s",
					resp.StatusCode, method, path, apiErr.Message,
				)
			}
			return fmt.Errorf(
				"unexpected status %d on %s %s: %s",
				resp.StatusCode, method, path, string(respBody),
			)
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf(
				"unmarshaling response from %s %s: %w", method, path, err,
			)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// errorResponse is the service's structured error body.
type errorResponse struct {
	Message string `json:"message"`
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
