package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Mode selects how the archive serves a capture.
type Mode int

const (
	// ModeIdentity serves the capture byte-for-byte as originally archived.
	ModeIdentity Mode = iota
	// ModeFallback follows the archive's redirect-resolution variant.
	ModeFallback
)

func (m Mode) infix() string {
	if m == ModeFallback {
		return "if_"
	}
	return "id_"
}

// Response is the uniform outcome of an archive fetch. Transport failures are
// folded into a synthetic status (504 timeout, 500 otherwise) so callers treat
// every fetch as status plus headers plus body.
type Response struct {
	StatusCode   int
	Header       http.Header
	Body         []byte
	TransportErr error
}

// Synthetic reports whether the response was fabricated from a transport error
// rather than received from the archive.
func (r *Response) Synthetic() bool {
	return r.TransportErr != nil
}

// ContentType returns the response content type header, possibly empty.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Options controls archive HTTP fetching behaviour.
type Options struct {
	RawEndpoint  string
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	Limiter      *Limiter
	Logger       *slog.Logger
}

// Client retrieves raw captures from the archive, pacing every request through
// the shared limiter.
type Client struct {
	client       *http.Client
	rawEndpoint  string
	userAgent    string
	maxBodyBytes int64
	limiter      *Limiter
	logger       *slog.Logger
}

// NewClient constructs an archive fetcher using the provided options.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 * 1024 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          8,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		rawEndpoint:  strings.TrimRight(opts.RawEndpoint, "/"),
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		limiter:      opts.Limiter,
		logger:       opts.Logger,
	}
}

// HTTPClient exposes the underlying HTTP client for reuse (eg. CDX queries).
func (c *Client) HTTPClient() *http.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Fetch performs one rate-limited GET for a capture addressed by timestamp and
// original URL. It never returns an error: transport failures become synthetic
// responses so resolution can treat every outcome uniformly.
func (c *Client) Fetch(ctx context.Context, timestamp, original string, mode Mode) *Response {
	if err := c.limiter.Take(ctx, 1); err != nil {
		return synthetic(err)
	}

	target := fmt.Sprintf("%s/%s%s/%s", c.rawEndpoint, timestamp, mode.infix(), original)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return synthetic(err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("archive fetch failed", "url", original, "timestamp", timestamp, "error", err)
		return synthetic(err)
	}

	body, err := c.readBody(resp)
	if err != nil {
		c.logger.Warn("archive body read failed", "url", original, "timestamp", timestamp, "error", err)
		return synthetic(err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	limited := io.LimitReader(reader, c.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.maxBodyBytes)
	}
	return body, nil
}

// synthetic builds the failure response standing in for a transport error.
func synthetic(err error) *Response {
	status := http.StatusInternalServerError
	if isTimeout(err) {
		status = http.StatusGatewayTimeout
	}
	return &Response{
		StatusCode:   status,
		Header:       http.Header{},
		TransportErr: err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
