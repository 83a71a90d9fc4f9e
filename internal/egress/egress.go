// Package egress implements the upstream HTTP client: a pooled
// HTTP/1.1+HTTP/2 transport, an optional parent proxy (HTTP CONNECT or
// SOCKS5 via golang.org/x/net/proxy), hop-by-hop header stripping, and
// transparent response decompression. Grounded on spec.md §4.10 and
// internal/httputil's response-checking idiom.
package egress

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/proxy"

	"github.com/aikido-oss/safechain-proxy/internal/metrics"
)

var tracer = otel.Tracer("github.com/aikido-oss/safechain-proxy/internal/egress")

// hopByHopHeaders are stripped from both the outbound request and the
// inbound response, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// StripHopByHop removes hop-by-hop headers from h, including any header
// named by a Connection header's value.
func StripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		h.Del(v)
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// Options configures a [Client].
type Options struct {
	// ParentProxyURL is an optional upstream proxy: "http://host:port" for
	// an HTTP CONNECT parent, "socks5://host:port" for SOCKS5.
	ParentProxyURL string
	// MaxIdleConnsPerHost bounds the pool per (scheme, host, port); zero
	// uses Go's http.Transport default.
	MaxIdleConnsPerHost int
	// IdleConnTimeout closes pooled connections idle longer than this.
	IdleConnTimeout time.Duration
}

// Client is the pooled upstream HTTP client every allowed request is
// forwarded through.
type Client struct {
	http *http.Client

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	transport := &http.Transport{
		Proxy:               nil, // parent-proxy dialing is handled via DialContext below, not Go's URL-based Proxy func, so SOCKS5 parents work too.
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
		TLSClientConfig:     &tls.Config{NextProtos: []string{"h2", "http/1.1"}},
	}

	if opts.ParentProxyURL != "" {
		dialer, err := parentDialer(opts.ParentProxyURL)
		if err != nil {
			return nil, fmt.Errorf("egress: parent proxy: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}

	return &Client{http: &http.Client{Transport: transport}}, nil
}

// parentDialer builds a proxy.Dialer for either an HTTP-CONNECT or SOCKS5
// parent proxy URL.
func parentDialer(rawURL string) (proxy.Dialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			pass, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pass}
		}
		return proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
	case "http", "https":
		return proxy.FromURL(u, proxy.Direct)
	default:
		return nil, fmt.Errorf("unsupported parent proxy scheme %q", u.Scheme)
	}
}

// Do forwards req upstream: strips hop-by-hop headers, issues the request,
// strips hop-by-hop headers from the response, and transparently
// decompresses the body so EvaluateResponse filters see plaintext.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx, span := tracer.Start(req.Context(), "egress.Do")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", req.Method), attribute.String("http.host", req.URL.Host))
	req = req.WithContext(ctx)

	c.totalRequests.Add(1)
	StripHopByHop(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.failedRequests.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("egress: round trip: %w", err)
	}

	StripHopByHop(resp.Header)
	if err := decompress(resp); err != nil {
		c.failedRequests.Add(1)
		resp.Body.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("egress: decompress response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// decompress replaces resp.Body with a transparently decompressing reader
// for gzip/deflate/br Content-Encoding, clearing the header and
// Content-Length (now unknown) so downstream code sees plaintext.
func decompress(resp *http.Response) error {
	enc := resp.Header.Get("Content-Encoding")
	var r io.ReadCloser
	switch enc {
	case "":
		return nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		r = gz
	case "deflate":
		r = flate.NewReader(resp.Body)
	case "br":
		r = io.NopCloser(brotli.NewReader(resp.Body))
	default:
		return nil
	}
	orig := resp.Body
	resp.Body = readCloser{r, orig}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return nil
}

// readCloser closes both the decompressing reader and the underlying
// network body it wraps.
type readCloser struct {
	io.ReadCloser
	orig io.Closer
}

func (r readCloser) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.orig.Close(); err == nil {
		err = cerr
	}
	return err
}

// Stat implements [metrics.EgressStater].
func (c *Client) Stat() metrics.EgressStat {
	return clientStat{
		total:  c.totalRequests.Load(),
		failed: c.failedRequests.Load(),
	}
}

type clientStat struct {
	total, failed int64
}

// ActiveConns and IdleConns are always 0: net/http.Transport exposes no
// live connection count, only aggregate request counters.
func (s clientStat) ActiveConns() int32    { return 0 }
func (s clientStat) IdleConns() int32      { return 0 }
func (s clientStat) TotalRequests() int64  { return s.total }
func (s clientStat) FailedRequests() int64 { return s.failed }

var _ metrics.EgressStater = (*Client)(nil)
