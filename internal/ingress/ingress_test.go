package ingress

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/aikido-oss/safechain-proxy/internal/domaintrie"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoHandler struct{}

func (echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func dialAndRead(t *testing.T, addr string, raw string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	return resp.Status + "|" + string(buf[:n])
}

func startServer(t *testing.T, s *Server) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx, ln)
	return ln.Addr().String(), func() { cancel(); ln.Close() }
}

func TestServePlainHTTPReachesHandler(t *testing.T) {
	s := &Server{Handler: echoHandler{}}
	addr, stop := startServer(t, s)
	defer stop()

	got := dialAndRead(t, addr, "GET /foo HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")
	if got != "200 OK|ok" {
		t.Errorf("response = %q, want 200 OK|ok", got)
	}
}

func TestServeConnectTunnelsUnlistedHost(t *testing.T) {
	// Upstream plain TCP echo server standing in for the CONNECT target.
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	defer upstreamLn.Close()
	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	s := &Server{Handler: echoHandler{}}
	addr, stop := startServer(t, s)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", upstreamLn.Addr().String(), upstreamLn.Addr().String())
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read CONNECT response: %v", err)
	}
	if line[:12] != "HTTP/1.1 200" {
		t.Fatalf("CONNECT response = %q, want 200", line)
	}
	// drain the rest of the header block
	for {
		l, err := br.ReadString('\n')
		if err != nil || l == "\r\n" {
			break
		}
	}

	conn.Write([]byte("hello"))
	buf := make([]byte, 5)
	if _, err := br.Read(buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("echoed = %q, want hello", buf)
	}
}

type staticCertIssuer struct {
	cert tls.Certificate
}

func (s staticCertIssuer) IssueLeaf(ctx context.Context, sni string) (tls.Certificate, error) {
	return s.cert, nil
}

func TestServeConnectTerminatesTLSForMITMHost(t *testing.T) {
	cert := generateSelfSignedCert(t, "intercepted.example")

	s := &Server{
		Handler:    echoHandler{},
		CertIssuer: staticCertIssuer{cert: cert},
		MITMHosts:  domaintrie.NewMatcher("intercepted.example"),
	}
	addr, stop := startServer(t, s)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT intercepted.example:443 HTTP/1.1\r\nHost: intercepted.example:443\r\n\r\n")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read CONNECT response: %v", err)
	}
	if line[:12] != "HTTP/1.1 200" {
		t.Fatalf("CONNECT response = %q, want 200", line)
	}
	for {
		l, err := br.ReadString('\n')
		if err != nil || l == "\r\n" {
			break
		}
	}

	tlsConn := tls.Client(&joinedConn{Conn: conn, r: br}, &tls.Config{InsecureSkipVerify: true})
	defer tlsConn.Close()
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("TLS handshake: %v", err)
	}

	fmt.Fprintf(tlsConn, "GET /bar HTTP/1.1\r\nHost: intercepted.example\r\nConnection: close\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(tlsConn), nil)
	if err != nil {
		t.Fatalf("ReadResponse over TLS: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// joinedConn reattaches a bufio.Reader's buffered bytes to a net.Conn so
// tls.Client sees the CONNECT response's already-buffered trailing bytes.
type joinedConn struct {
	net.Conn
	r *bufio.Reader
}

func (j *joinedConn) Read(p []byte) (int, error) { return j.r.Read(p) }
