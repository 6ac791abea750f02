// Package httpprobe implements the health oracle over plain HTTP.
package httpprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"deployd/internal/lifecycle"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var _ lifecycle.HealthOracle = (*Oracle)(nil)

// DefaultBodyLimit caps how much of the response body is kept.
const DefaultBodyLimit = 4096

// Oracle probes the deployed service with GET requests. Redirects are not
// followed: a 3xx from the health path counts as unhealthy.
type Oracle struct {
	client    *http.Client
	bodyLimit int64
	userAgent string
}

type Option func(*Oracle)

func WithBodyLimit(n int64) Option {
	return func(o *Oracle) { o.bodyLimit = n }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *Oracle) { o.client.Transport = rt }
}

func WithUserAgent(ua string) Option {
	return func(o *Oracle) { o.userAgent = ua }
}

func New(opts ...Option) *Oracle {
	o := &Oracle{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		bodyLimit: DefaultBodyLimit,
		userAgent: "deployd-probe",
	}
	for _, opt := range opts {
		opt(o)
	}
	base := o.client.Transport
	if base == nil {
		base = &http.Transport{DisableKeepAlives: true}
	}
	o.client.Transport = otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(string, *http.Request) string { return "health probe" }),
	)
	return o
}

// Probe issues one GET to url bounded by timeout. Transport failures
// (refused, reset, timeout) are ErrUnreachable; any HTTP response,
// whatever its status, is a result.
func (o *Oracle) Probe(ctx context.Context, url string, timeout time.Duration) (lifecycle.ProbeResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return lifecycle.ProbeResult{}, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)

	started := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		if parent := context.Cause(ctx); parent != nil && !errors.Is(parent, context.DeadlineExceeded) {
			return lifecycle.ProbeResult{}, err
		}
		return lifecycle.ProbeResult{}, fmt.Errorf("%w: %s: %v", lifecycle.ErrUnreachable, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, o.bodyLimit))
	latency := time.Since(started)
	if err != nil {
		return lifecycle.ProbeResult{}, fmt.Errorf("%w: read body from %s: %v", lifecycle.ErrUnreachable, url, err)
	}
	// Drain so the connection closes cleanly.
	_, _ = io.Copy(io.Discard, resp.Body)

	return lifecycle.ProbeResult{
		Status:  resp.StatusCode,
		Body:    string(body),
		Latency: latency,
	}, nil
}
