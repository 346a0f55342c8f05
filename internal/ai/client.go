package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/observability"
)

const (
	// DefaultIdleTimeout aborts a stream that has gone silent.
	DefaultIdleTimeout = 60 * time.Second
	// maxErrorBody caps how much of a non-2xx body ends up in the error.
	maxErrorBody = 8 << 10
)

// Client opens streaming requests built by an Adapter.
type Client struct {
	httpClient  *http.Client
	idleTimeout time.Duration
	log         *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client should not
// set a global Timeout: streams are bounded by the idle timeout and the
// caller's context instead.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithIdleTimeout sets how long a stream may go without data. Zero disables
// the watchdog.
func WithIdleTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.idleTimeout = d }
}

// WithLogger sets the logger used for skipped events.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		idleTimeout: DefaultIdleTimeout,
		log:         observability.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open sends req and returns the stream once the provider answered 2xx.
// Any other status fails here, before a single delta is produced.
func (c *Client) Open(ctx context.Context, ad Adapter, req *Request) (*Stream, error) {
	p := ad.Provider()
	streamCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(streamCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		return nil, chat.NetworkError("open stream", p, 0, fmt.Errorf("failed to create request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, chat.NetworkError("open stream", p, 0, fmt.Errorf("could not reach %s: %w", hostOf(req.URL), redact(err)))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, chat.NetworkError("open stream", p, resp.StatusCode, fmt.Errorf("%s API error: %s", p, msg))
	}

	return &Stream{
		ctx:         streamCtx,
		parent:      ctx,
		cancel:      cancel,
		body:        resp.Body,
		adapter:     ad,
		idleTimeout: c.idleTimeout,
		log:         c.log.With("provider", string(p)),
	}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "provider"
	}
	return u.Host
}

// redact strips the query string from *url.Error so Gemini keys never end
// up in error messages or logs.
func redact(err error) error {
	if ue, ok := err.(*url.Error); ok {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
		}
	}
	return err
}
