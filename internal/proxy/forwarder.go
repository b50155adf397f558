// Package proxy forwards admitted requests to backend endpoints. The
// forwarder issues one downstream attempt per call; retry and endpoint
// selection belong to the pipeline.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gatehouseio/gatehouse/internal/observability"
)

// DefaultTimeout bounds a downstream call when neither the route nor
// the service sets one.
const DefaultTimeout = 30 * time.Second

// maxBufferedBody caps how much request body is buffered for retry
// replay.
const maxBufferedBody = 4 << 20

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder issues downstream HTTP calls.
type Forwarder struct {
	transport http.RoundTripper
	rewriter  *HeaderRewriter
	logger    observability.Logger
}

// Option is a functional option for the forwarder.
type Option func(*Forwarder)

// WithTransport sets the transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.transport = transport
	}
}

// WithHeaderRewriter sets the default header rewriter.
func WithHeaderRewriter(rewriter *HeaderRewriter) Option {
	return func(f *Forwarder) {
		f.rewriter = rewriter
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// NewForwarder creates a forwarder.
func NewForwarder(opts ...Option) *Forwarder {
	f := &Forwarder{
		transport: defaultTransport(),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// BufferBody drains the request body so it can be replayed on retry.
// The request body is replaced with a fresh reader over the buffer.
func BufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxBufferedBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBufferedBody)
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// Forward sends the request to the target base URL and returns the
// downstream response. The caller bounds the call through ctx and owns
// closing the response body.
func (f *Forwarder) Forward(ctx context.Context, target string, r *http.Request, body []byte, rewriter *HeaderRewriter) (*http.Response, error) {
	base, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}

	out := r.Clone(ctx)
	out.URL.Scheme = base.Scheme
	out.URL.Host = base.Host
	out.Host = base.Host
	out.RequestURI = ""
	out.Close = false

	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	setForwardingHeaders(out, r)
	if id := observability.RequestIDFromContext(ctx); id != "" {
		out.Header.Set("X-Request-Id", id)
	}

	if rewriter == nil {
		rewriter = f.rewriter
	}
	if rewriter != nil {
		if err := rewriter.Apply(out, templateData(r)); err != nil {
			return nil, fmt.Errorf("header rewrite failed: %w", err)
		}
	}

	// A buffered body replaces the clone's reader so the same bytes can
	// be replayed on retry; otherwise the original body streams through.
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	start := time.Now()
	resp, err := f.transport.RoundTrip(out)
	elapsed := time.Since(start)

	if err != nil {
		RecordForward(base.Host, 0, elapsed)
		return nil, err
	}
	RecordForward(base.Host, resp.StatusCode, elapsed)
	return resp, nil
}

// setForwardingHeaders appends the standard X-Forwarded headers.
func setForwardingHeaders(out, original *http.Request) {
	if clientIP, _, err := net.SplitHostPort(original.RemoteAddr); err == nil {
		if prior := original.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}

	if original.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}

	out.Header.Set("X-Forwarded-Host", original.Host)
}

// WriteResponse copies the downstream response verbatim to the client
// and closes its body.
func WriteResponse(w http.ResponseWriter, resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	_, err := io.Copy(w, resp.Body)
	return err
}
