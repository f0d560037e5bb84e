// Package telegram is the HTTP transport of the engine: it issues the
// send-message and get-updates calls against a Telegram-compatible endpoint,
// classifies failures and retries sends with exponential backoff. It performs
// no logging and touches no shared state; callers record outcomes.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultTextEndpoint    = "/sendMessage"
	DefaultUpdatesEndpoint = "/getUpdates"

	// Slack added on top of the long-poll timeout before the HTTP request
	// itself is abandoned.
	pollGrace = 5 * time.Second
)

// Endpoints overrides the per-operation paths appended to baseURL+token.
// Zero values fall back to the standard Bot API paths.
type Endpoints struct {
	Text    string
	Updates string
}

// RetryPolicy bounds the send retry loop. The delay before retry k is
// min(BaseDelay * 2^(k-1), MaxDelay).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Delay returns the pause after the k-th failed attempt (k starts at 1).
func (p RetryPolicy) Delay(k int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < k; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Client talks to one remote endpoint. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	sendURL    string
	updatesURL string
	retry      RetryPolicy
}

// NewClient builds a transport for baseURL+token, e.g.
// NewClient("https://api.telegram.org/bot", "123:abc", Endpoints{}, DefaultRetryPolicy()).
func NewClient(baseURL, token string, eps Endpoints, policy RetryPolicy) *Client {
	if eps.Text == "" {
		eps.Text = DefaultTextEndpoint
	}
	if eps.Updates == "" {
		eps.Updates = DefaultUpdatesEndpoint
	}
	return &Client{
		httpClient: &http.Client{},
		sendURL:    baseURL + token + eps.Text,
		updatesURL: baseURL + token + eps.Updates,
		retry:      policy.normalized(),
	}
}

// SendMessage delivers one outbound message, retrying transient failures up
// to the policy's attempt budget. A non-retriable rejection returns
// immediately with an *APIError.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) error {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxRetries; attempt++ {
		err := c.postSend(ctx, req)
		if err == nil {
			return nil
		}
		if !Retriable(err) {
			return err
		}
		lastErr = err
		if attempt == c.retry.MaxRetries {
			break
		}
		delay := c.retry.Delay(attempt)
		var rl *RateLimitedError
		if errors.As(lastErr, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}
		select {
		case <-ctx.Done():
			return &NetworkError{Op: "sendMessage", Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("telegram: send failed after %d attempts: %w", c.retry.MaxRetries, lastErr)
}

func (c *Client) postSend(ctx context.Context, req SendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("telegram: marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return &NetworkError{Op: "sendMessage", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &NetworkError{Op: "sendMessage", Err: err}
	}
	defer resp.Body.Close()

	return classifyResponse(resp)
}

// GetUpdates issues one long poll starting at offset, bounded by timeout.
// It never retries: the receiver owns poll backoff so that the offset only
// advances after a successfully processed batch.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	seconds := int(timeout / time.Second)
	q.Set("timeout", strconv.Itoa(seconds))

	reqCtx, cancel := context.WithTimeout(ctx, timeout+pollGrace)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.updatesURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &NetworkError{Op: "getUpdates", Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: "getUpdates", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "getUpdates", Err: err}
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &NetworkError{Op: "getUpdates", Err: fmt.Errorf("decode response: %w", err)}
	}
	if !envelope.OK || resp.StatusCode != http.StatusOK {
		return nil, apiErrorFrom(resp.StatusCode, envelope)
	}

	if len(envelope.Result) == 0 {
		return nil, nil
	}
	var updates []Update
	if err := json.Unmarshal(envelope.Result, &updates); err != nil {
		return nil, &NetworkError{Op: "getUpdates", Err: fmt.Errorf("decode result: %w", err)}
	}
	return updates, nil
}

func classifyResponse(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "sendMessage", Err: err}
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &NetworkError{Op: "sendMessage", Err: fmt.Errorf("decode response: %w", err)}
		}
		envelope = apiResponse{Description: string(raw)}
	}
	if envelope.OK && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return apiErrorFrom(resp.StatusCode, envelope)
}

func apiErrorFrom(status int, envelope apiResponse) error {
	code := envelope.ErrorCode
	if code == 0 {
		code = status
	}
	if status == http.StatusTooManyRequests || code == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if envelope.Parameters != nil {
			retryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return &APIError{StatusCode: status, Code: code, Description: envelope.Description}
}
