// Package metaserver implements the sideband HTTP server exposing the
// root CA certificate, the PAC script, and a health check, grounded on
// cmd/libvulnhttp/main.go's *http.Server construction.
package metaserver

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/pac"
)

// CAPEM returns the PEM-encoded root CA certificate the ingress MITM
// layer signs leaf certificates with; satisfied by
// [internal/certissuer.Issuer].
type CAPEM interface {
	RootCAPEM() []byte
}

// Server is the meta HTTP server: /ca, /pac, /health.
type Server struct {
	CA        CAPEM
	Rules     []rule.Rule
	ProxyAddr string

	srv *http.Server
}

// New builds a Server listening on addr ("host:port", or "host:0" to pick
// an ephemeral port). reg is the Prometheus registry served at /metrics;
// nil disables that endpoint.
func New(addr string, ca CAPEM, rules []rule.Rule, proxyAddr string, reg prometheus.Gatherer) *Server {
	s := &Server{CA: ca, Rules: rules, ProxyAddr: proxyAddr}
	mux := http.NewServeMux()
	mux.HandleFunc("/ca", s.handleCA)
	mux.HandleFunc("/pac", s.handlePAC)
	mux.HandleFunc("/health", s.handleHealth)
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Serve listens on addr and runs until ctx is cancelled or Serve errors. It
// returns the bound address over ready once the listener is open, so
// callers can write it to a "<name>.addr.txt" file.
func (s *Server) Serve(ctx context.Context, ready chan<- string) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.srv.Shutdown(context.WithoutCancel(ctx))
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCA(w http.ResponseWriter, req *http.Request) {
	if s.CA == nil {
		http.Error(w, "root CA not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(s.CA.RootCAPEM())
}

func (s *Server) handlePAC(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/x-ns-proxy-autoconfig")
	w.Write([]byte(pac.GenerateForRules(s.ProxyAddr, s.Rules)))
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
}
