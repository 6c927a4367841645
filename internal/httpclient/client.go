// Package httpclient wraps resty with bounded retries, exponential backoff
// and client-side rate smoothing for calls to the broker bridge and the
// persistence service.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-journal-go/internal/ports"
)

// Client is a JSON-over-HTTP client with retry semantics: transient failures
// (429, 5xx, transport errors) are retried with exponential backoff, other
// 4xx responses return immediately.
type Client struct {
	rest        *resty.Client
	logger      *zap.Logger
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
}

// Option tweaks a Client at construction time.
type Option func(*Client)

// WithLimiter replaces the default (unlimited) request smoother.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetry overrides the attempt budget and base backoff.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// New creates a retrying client rooted at baseURL.
func New(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		rest:        resty.New().SetBaseURL(baseURL),
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		maxAttempts: 3,
		backoff:     time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON posts body as JSON and decodes the response body into result.
// A 2xx response with a body that is not valid JSON is a hard protocol
// failure carrying the raw text, not a silent success.
func (c *Client) PostJSON(ctx context.Context, url string, body any, result any) error {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return classifyContextErr(err)
		}

		c.logger.Debug("Executing request",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
		)

		resp, err := c.rest.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(url)

		if err != nil {
			// The deadline firing is reported separately from other
			// transport failures so callers can tell "took too long"
			// from "connection refused".
			if isTimeout(ctx, err) {
				return fmt.Errorf("%w: %v", ports.ErrTimeout, err)
			}
			lastErr = fmt.Errorf("%w: %v", ports.ErrNetwork, err)
		} else {
			status := resp.StatusCode()
			switch {
			case status >= 200 && status < 300:
				if result == nil {
					return nil
				}
				if err := json.Unmarshal(resp.Body(), result); err != nil {
					return &ports.ProtocolError{StatusCode: status, RawBody: string(resp.Body())}
				}
				return nil
			case status == http.StatusTooManyRequests || status >= 500:
				lastErr = &ports.ProtocolError{StatusCode: status, RawBody: string(resp.Body())}
			default:
				// Other 4xx responses are not transient.
				return &ports.ProtocolError{StatusCode: status, RawBody: string(resp.Body())}
			}
		}

		if attempt == c.maxAttempts-1 {
			break
		}

		delay := c.backoff * time.Duration(math.Pow(2, float64(attempt)))
		c.logger.Warn("Request failed, retrying...",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_after", delay),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return classifyContextErr(ctx.Err())
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ports.ErrRetryExhausted, c.maxAttempts, lastErr)
}

func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ports.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ports.ErrNetwork, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
}
