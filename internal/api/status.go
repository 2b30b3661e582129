package api

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// EntityStatus is the presence state reported by the status endpoints.
type EntityStatus struct {
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// GetEntityStatus queries the primary status endpoint. Failed attempts retry
// with exponential backoff (doubling from the base, capped) up to the
// configured maximum before the error surfaces to the caller.
func (c *Client) GetEntityStatus(ctx context.Context, entityID string) (EntityStatus, error) {
	var out EntityStatus
	err := c.getWithRetry(ctx, "/v1/presence/"+url.PathEscape(entityID), &out)
	return out, err
}

// GetEntityStatusFallback queries the secondary status endpoint. It is a
// single attempt: by the time the tracker falls back, retries are exhausted.
func (c *Client) GetEntityStatusFallback(ctx context.Context, entityID string) (EntityStatus, error) {
	var out EntityStatus
	err := c.getJSON(ctx, "/v1/users/"+url.PathEscape(entityID)+"/status", &out)
	return out, err
}

// getWithRetry performs a GET with exponential backoff retry.
func (c *Client) getWithRetry(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			if jitter > c.retryCap {
				jitter = c.retryCap
			}
			c.logger.Debug("retrying status request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
			if backoff > c.retryCap {
				backoff = c.retryCap
			}
		}

		body, err := c.doRequest(ctx, http.MethodGet, path, nil)
		if err == nil {
			return decodeJSON(body, out)
		}

		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return err
		}
	}

	return fmt.Errorf("retries exhausted: %w", lastErr)
}
