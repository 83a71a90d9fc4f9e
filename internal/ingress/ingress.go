// Package ingress implements the MITM front door: it accepts raw TCP
// connections, dispatches HTTP CONNECT, SOCKS5, and plain-HTTP traffic,
// terminates TLS for intercepted hosts with a dynamically issued leaf
// certificate, and otherwise splices bytes blindly. Grounded on spec.md
// §4.9's state machine and on original_source/proxy-bin-l7's
// forward/tunnel split (forwarder.rs), expressed with net.Listener/net.Conn
// and http.Serve rather than rama's Service trait.
package ingress

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aikido-oss/safechain-proxy/internal/domaintrie"
	"github.com/aikido-oss/safechain-proxy/internal/firewall"
)

// CertIssuer mints a TLS leaf certificate for a given SNI hostname,
// signed by an in-memory root CA. The root CA itself reaches the meta
// server's /ca endpoint through [internal/metaserver.CAPEM], not through
// this interface. Treated as opaque per spec.md §1 — one production
// implementation lives outside this package's concern.
type CertIssuer interface {
	IssueLeaf(ctx context.Context, sni string) (tls.Certificate, error)
}

// IdleTimeout bounds how long an L4_TUNNEL blind forward waits for either
// side before closing, per spec.md §4.9.
const IdleTimeout = 60 * time.Second

// Server accepts ingress connections and dispatches them through the MITM
// state machine described in spec.md §4.9.
type Server struct {
	// Handler serves L7_HTTP requests: the firewall-wrapped egress round
	// trip. Typically (*internal/firewall.Evaluator).Wrap applied to an
	// egress-backed http.Handler.
	Handler http.Handler
	// CertIssuer issues leaf certificates for L7_TLS. Required only for
	// hosts in MITMHosts.
	CertIssuer CertIssuer
	// MITMHosts is the set of domains to terminate TLS for: the union of
	// every rule's collect_pac_domains output, built by the caller via
	// [internal/pac.CollectDomains] and [domaintrie.NewMatcher].
	MITMHosts *domaintrie.Matcher
	// MaxConcurrentConns bounds the number of connections handled at
	// once; zero means unbounded.
	MaxConcurrentConns int
}

// Serve accepts connections from ln until ctx is cancelled, dispatching
// each through the state machine. It returns once ln.Accept begins failing
// (typically because ln was closed following ctx cancellation) and all
// in-flight connections have completed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	group, ctx := errgroup.WithContext(ctx)
	if s.MaxConcurrentConns > 0 {
		group.SetLimit(s.MaxConcurrentConns)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			group.Wait()
			return fmt.Errorf("ingress: accept: %w", err)
		}
		group.Go(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
	}
	return group.Wait()
}

// handleConn is L4_NEW: peek the first byte to distinguish SOCKS5 from
// text-based HTTP, then dispatch.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	ctx = zlog.ContextWithValues(ctx, "conn_id", uuid.New().String())

	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		return
	}

	switch {
	case first[0] == socks5Version:
		s.handleSOCKS5(ctx, bufConn{Conn: conn, r: br})
	default:
		s.handleHTTP(ctx, bufConn{Conn: conn, r: br})
	}
}

// bufConn layers a *bufio.Reader's already-buffered bytes back over the
// underlying net.Conn, so code that needs raw net.Conn semantics (TLS
// handshakes, splicing) still sees bytes consumed during protocol sniffing.
type bufConn struct {
	net.Conn
	r *bufio.Reader
}

func (b bufConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// handleHTTP is the text-protocol branch of L4_NEW: parse one HTTP/1
// request line. CONNECT routes to L4_TUNNEL or L7_TLS; anything else is
// L7_HTTP.
func (s *Server) handleHTTP(ctx context.Context, conn net.Conn) {
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		badReq := &firewall.BadRequestError{Reason: err.Error()}
		zlog.Debug(ctx).Err(badReq).Msg("ingress: malformed request")
		fmt.Fprintf(conn, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
		return
	}

	if req.Method == http.MethodConnect {
		s.handleConnect(ctx, conn, req)
		return
	}

	// Not a CONNECT: the first request is already in hand, so serve it
	// (and any further keep-alive requests on this connection) as
	// L7_HTTP directly, without the inner http.Serve reopening i/o.
	s.serveL7HTTP(ctx, conn, br, req)
}

// handleConnect dispatches a parsed CONNECT request to L4_TUNNEL (blind
// forward) or L7_TLS (MITM), based on whether the target host is in
// MITMHosts.
func (s *Server) handleConnect(ctx context.Context, conn net.Conn, req *http.Request) {
	if req.Host == "" {
		zlog.Debug(ctx).Err(&firewall.BadRequestError{Reason: "empty CONNECT target"}).Msg("ingress: malformed CONNECT")
		fmt.Fprintf(conn, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
		return
	}
	host := stripPort(req.Host)
	if s.MITMHosts == nil || !s.MITMHosts.Match(host) || s.CertIssuer == nil {
		s.tunnelConnect(ctx, conn, req.Host)
		return
	}
	s.terminateTLS(ctx, conn, req, host)
}

// tunnelConnect acknowledges the CONNECT and splices bytes blindly to the
// target: L4_TUNNEL for hosts this proxy does not intercept.
func (s *Server) tunnelConnect(ctx context.Context, conn net.Conn, hostport string) {
	upstream, err := (&net.Dialer{}).DialContext(ctx, "tcp", hostport)
	if err != nil {
		zlog.Debug(ctx).Err(&firewall.UpstreamTransportError{Host: hostport, Err: err}).Msg("ingress: tunnel dial failed")
		fmt.Fprintf(conn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer upstream.Close()

	if _, err := fmt.Fprintf(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	Splice(ctx, conn, upstream, IdleTimeout)
}

// terminateTLS is L7_TLS: acknowledge the CONNECT, perform a TLS
// handshake using a leaf certificate issued for the target SNI, then
// re-enter the HTTP pipeline on the decrypted stream.
func (s *Server) terminateTLS(ctx context.Context, conn net.Conn, req *http.Request, host string) {
	if _, err := fmt.Fprintf(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}

	tlsConn := tls.Server(conn, &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			sni := hello.ServerName
			if sni == "" {
				sni = host
			}
			cert, err := s.CertIssuer.IssueLeaf(ctx, sni)
			if err != nil {
				return nil, err
			}
			return &cert, nil
		},
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		zlog.Debug(ctx).Err(err).Str("host", host).Msg("ingress: TLS handshake failed")
		return
	}

	s.handleHTTP(ctx, tlsConn)
}

// serveL7HTTP runs the firewall + egress pipeline for first and any
// subsequent pipelined requests on conn, preserving the strict
// within-connection ordering spec.md §5 requires. br is the reader first
// was parsed from, so bytes it has already buffered are not lost.
func (s *Server) serveL7HTTP(ctx context.Context, conn net.Conn, br *bufio.Reader, first *http.Request) {
	first = first.WithContext(ctx)
	rw := newRawResponseWriter(conn)
	s.Handler.ServeHTTP(rw, first)
	if err := rw.finish(); err != nil {
		return
	}
	if !keepAlive(first) {
		return
	}

	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		req = req.WithContext(ctx)
		rw := newRawResponseWriter(conn)
		s.Handler.ServeHTTP(rw, req)
		if err := rw.finish(); err != nil {
			return
		}
		if !keepAlive(req) {
			return
		}
	}
}

func keepAlive(req *http.Request) bool {
	return req.ProtoAtLeast(1, 1) && req.Header.Get("Connection") != "close"
}

func stripPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
