// Package transport sends protocol messages to peer connector endpoints
// over HTTP multipart and returns the raw response for decoding. It is
// the only blocking point in an exchange attempt; everything downstream
// is pure computation.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/datasphere-labs/connector/pkg/decode"
	"github.com/datasphere-labs/connector/pkg/message"
)

// Error is a transport-level failure: timeout, connection error, or a
// peer answering outside the protocol. Transient; the caller may retry
// with backoff. The connector never retries internally.
type Error struct {
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: send to %s failed: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client posts messages to peer endpoints. Each peer gets its own token
// bucket so one slow negotiation cannot starve the others.
type Client struct {
	http    *http.Client
	logger  *slog.Logger
	perPeer rate.Limit
	burst   int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each send, including connection setup.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRateLimit sets the per-peer request rate and burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.perPeer = rate.Limit(rps)
		c.burst = burst
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a transport client.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		perPeer:  rate.Limit(10),
		burst:    5,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPeerRate pins a dedicated rate limit for one endpoint, overriding
// the client-wide default. Profiles for known peers feed this.
func (c *Client) SetPeerRate(endpoint string, rps float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters[endpoint] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *Client) limiter(endpoint string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[endpoint]
	if !ok {
		l = rate.NewLimiter(c.perPeer, c.burst)
		c.limiters[endpoint] = l
	}
	return l
}

// Send posts the message to the peer endpoint and returns the raw
// response body. All failures are reported as *Error.
func (c *Client) Send(ctx context.Context, msg *message.Message, endpoint string) (*decode.Raw, error) {
	if err := c.limiter(endpoint).Wait(ctx); err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}

	body, contentType, err := encodeMultipart(msg)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}

	c.logger.Debug("message sent",
		"endpoint", endpoint,
		"type", string(msg.Header.Type),
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &Error{Endpoint: endpoint, Err: fmt.Errorf("peer returned status %d", resp.StatusCode)}
	}

	return &decode.Raw{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        raw,
	}, nil
}

// encodeMultipart assembles the header and payload parts of an outgoing
// message.
func encodeMultipart(msg *message.Message) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	headerJSON, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, "", fmt.Errorf("encode header: %w", err)
	}
	field, err := w.CreateFormField(decode.PartHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := field.Write(headerJSON); err != nil {
		return nil, "", err
	}

	field, err = w.CreateFormField(decode.PartPayload)
	if err != nil {
		return nil, "", err
	}
	if _, err := field.Write(msg.Payload); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
