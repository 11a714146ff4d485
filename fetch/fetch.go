// Package fetch downloads candidate images from the image host.
package fetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"reportdedup/types"
)

// Options configures the HTTP client
type Options struct {
	Timeout       time.Duration
	UserAgent     string
	RatePerSecond float64
	Burst         int
	MaxBytes      int64
}

// DefaultOptions returns the fetch defaults
func DefaultOptions() Options {
	return Options{
		Timeout:       10 * time.Second,
		UserAgent:     "Mozilla/5.0",
		RatePerSecond: 20,
		Burst:         10,
		MaxBytes:      20 << 20,
	}
}

// Image is a downloaded image with its sniffed content type
type Image struct {
	Data        []byte
	ContentType string
}

// Client fetches images over HTTP
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	opts    Options
}

// NewClient creates a Client. RatePerSecond <= 0 disables rate limiting.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultOptions().MaxBytes
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		opts:    opts,
	}
}

// Fetch downloads url. The content type is sniffed from the leading bytes;
// the URL extension and the response header are not trusted.
func (c *Client) Fetch(ctx context.Context, url string) (*Image, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &types.FetchError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &types.FetchError{URL: url, Err: err}
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &types.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBytes+1))
	if err != nil {
		return nil, &types.FetchError{URL: url, Err: errors.Wrap(err, "reading body")}
	}
	if int64(len(data)) > c.opts.MaxBytes {
		return nil, &types.FetchError{URL: url, Err: errors.Errorf("body exceeds %d bytes", c.opts.MaxBytes)}
	}

	contentType := SniffContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, &types.ImageDecodeError{Source: url, Err: errors.Errorf("content is %s, not an image", contentType)}
	}

	return &Image{Data: data, ContentType: contentType}, nil
}

// SniffContentType detects the MIME type from magic bytes
func SniffContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if ct == "application/octet-stream" && isTIFF(data) {
		return "image/tiff"
	}
	return ct
}

func isTIFF(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return (data[0] == 'I' && data[1] == 'I' && data[2] == 42 && data[3] == 0) ||
		(data[0] == 'M' && data[1] == 'M' && data[2] == 0 && data[3] == 42)
}
