package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Default endpoints for the Drive v3 API.
const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
)

// Retry and backoff constants.
const (
	DefaultMaxRetries = 3
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	defaultUserAgent  = "gdrive-go/0.1"
)

// TokenSource provides OAuth2 bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the Drive v3 API. It builds requests,
// attaches bearer tokens, retries retryable HTTP statuses with backoff and
// classifies failures into this package's sentinel errors.
//
// Network-level failures (timeouts, resets) are never retried here; they
// surface as ErrDisconnected so the owner can drop its session.
type Client struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
	maxRetries int

	// sleepFunc is called to wait between retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithUploadURL overrides the media upload endpoint.
func WithUploadURL(u string) Option {
	return func(c *Client) { c.uploadURL = u }
}

// WithUserAgent sets the User-Agent header. Empty keeps the default.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxRetries bounds retries of retryable HTTP statuses. 0 disables
// retrying so every Temporary failure surfaces immediately.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a Drive API client. baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    baseURL,
		uploadURL:  DefaultUploadURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  defaultUserAgent,
		maxRetries: DefaultMaxRetries,
		sleepFunc:  timeSleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// request describes one API call. body is kept as bytes so it can be
// replayed on retry.
type request struct {
	method      string
	url         string
	query       url.Values
	body        []byte
	contentType string
	header      http.Header
}

// getJSON issues a GET against the base URL and decodes the response.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, request{method: http.MethodGet, url: c.baseURL + path, query: query}, out)
}

// sendJSON issues a request with a JSON body against the base URL.
func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("drive: encoding %s %s request: %w", method, path, err)
	}

	return c.doJSON(ctx, request{
		method:      method,
		url:         c.baseURL + path,
		query:       query,
		body:        body,
		contentType: "application/json",
	}, out)
}

// doJSON executes req and decodes a JSON response into out (nil discards).
func (c *Client) doJSON(ctx context.Context, req request, out any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return classifyTransportError(fmt.Errorf("drive: draining response body: %w", err))
		}

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("drive: decoding %s response: %w", req.method, err)
	}

	return nil
}

// do executes req, retrying retryable statuses up to maxRetries times.
// On success the caller owns the response body.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	target := req.url
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, req, target)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("drive: request canceled: %w", ctx.Err())
			}

			return nil, classifyTransportError(err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", req.method),
				slog.String("url", req.url),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reason, message := parseErrorBody(errBody)

		if shouldRetry(resp.StatusCode, reason) && attempt < c.maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", req.method),
				slog.String("url", req.url),
				slog.Int("status", resp.StatusCode),
				slog.String("reason", reason),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("drive: request canceled: %w", err)
			}

			attempt++

			continue
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Reason:     reason,
			Message:    message,
			Err:        Classify(resp.StatusCode, reason),
		}

		if apiErr.Err == nil {
			c.logger.Error("unhandled drive error",
				slog.String("method", req.method),
				slog.String("url", req.url),
				slog.Int("status", resp.StatusCode),
				slog.String("reason", reason),
			)
		}

		return nil, apiErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, req request, target string) (*http.Response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("drive: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Authorization", "Bearer "+tok)
	httpReq.Header.Set("User-Agent", c.userAgent)

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	for k, vals := range req.header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	return c.httpClient.Do(httpReq)
}

// retryBackoff honors Retry-After on 429/503, else exponential backoff.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
