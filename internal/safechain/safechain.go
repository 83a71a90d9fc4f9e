// Package safechain assembles every component into a running process:
// config load, storage open, malware-list and endpoint-config load,
// firewall construction, ingress listener, meta server, and a
// signal-driven shutdown, grounded on cmd/libvulnhttp/main.go's config-
// struct-to-options wiring.
package safechain

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quay/zlog"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aikido-oss/safechain-proxy/internal/certissuer"
	"github.com/aikido-oss/safechain-proxy/internal/domaintrie"
	"github.com/aikido-oss/safechain-proxy/internal/egress"
	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/firewall"
	_ "github.com/aikido-oss/safechain-proxy/internal/firewall/rule/chrome"
	_ "github.com/aikido-oss/safechain-proxy/internal/firewall/rule/maven"
	_ "github.com/aikido-oss/safechain-proxy/internal/firewall/rule/npm"
	_ "github.com/aikido-oss/safechain-proxy/internal/firewall/rule/nuget"
	_ "github.com/aikido-oss/safechain-proxy/internal/firewall/rule/openvsx"
	_ "github.com/aikido-oss/safechain-proxy/internal/firewall/rule/pypi"
	_ "github.com/aikido-oss/safechain-proxy/internal/firewall/rule/skillssh"
	_ "github.com/aikido-oss/safechain-proxy/internal/firewall/rule/vscode"
	"github.com/aikido-oss/safechain-proxy/internal/ingress"
	"github.com/aikido-oss/safechain-proxy/internal/malwarelist"
	"github.com/aikido-oss/safechain-proxy/internal/metaserver"
	"github.com/aikido-oss/safechain-proxy/internal/metrics"
	"github.com/aikido-oss/safechain-proxy/internal/notifier"
	"github.com/aikido-oss/safechain-proxy/internal/pac"
	"github.com/aikido-oss/safechain-proxy/internal/storage"
)

// Config is the CLI+env configuration surface, parsed by goconfig exactly
// as cmd/libvulnhttp/main.go parses its own Config.
type Config struct {
	Verbose           bool   `cfgDefault:"false" cfg:"VERBOSE" cfgHelper:"Enable debug logging"`
	Pretty            bool   `cfgDefault:"false" cfg:"PRETTY" cfgHelper:"Console-format logs instead of JSON"`
	Output            string `cfgDefault:"" cfg:"OUTPUT" cfgHelper:"Write logs to this file instead of stderr"`
	ReportingEndpoint string `cfgDefault:"" cfg:"REPORTING_ENDPOINT" cfgHelper:"Webhook URL the notifier posts BlockedEvents to"`
	UpstreamProxy     string `cfgDefault:"" cfg:"UPSTREAM_PROXY" cfgHelper:"Optional parent proxy URL (http:// or socks5://)"`
	DataDir           string `cfgDefault:"" cfg:"DATA_DIR" cfgHelper:"Storage root; OS-specific default if empty"`
	MalwareListOrigin string `cfgDefault:"https://app.aikido.dev/api/safe-chain" cfg:"MALWARE_LIST_ORIGIN" cfgHelper:"Base URL the malware lists and endpoint-protection config are fetched from"`
	IngressAddr       string `cfgDefault:"127.0.0.1:8080" cfg:"INGRESS_ADDR" cfgHelper:"Address the MITM proxy listens on"`
	MetaAddr          string `cfgDefault:"127.0.0.1:8081" cfg:"META_ADDR" cfgHelper:"Address the meta server (/ca, /pac, /health, /metrics) listens on"`
	ServerIdentifier  string `cfgDefault:"safechain-proxy" cfg:"SERVER_IDENTIFIER" cfgHelper:"Value of the x-blocked-by header on 403 responses"`
}

// ecosystems lists every malware-list-backed product, its key formatter,
// and the malware-list fetch path under MalwareListOrigin.
var ecosystems = []struct {
	name      string
	formatter malwarelist.EntryFormatter
	path      string
}{
	{"npm", malwarelist.LowercaseNameFormatter{}, "/v1/npm/malware-list"},
	{"pypi", malwarelist.LowercaseNameFormatter{}, "/v1/pypi/malware-list"},
	{"maven", malwarelist.LowercaseNameFormatter{}, "/v1/maven/malware-list"},
	{"nuget", malwarelist.LowercaseNameFormatter{}, "/v1/nuget/malware-list"},
	{"chrome", malwarelist.ChromeExtensionIDFormatter{}, "/v1/chrome/malware-list"},
	{"vscode", malwarelist.LowercaseNameFormatter{}, "/v1/vscode/malware-list"},
	{"openvsx", malwarelist.LowercaseNameFormatter{}, "/v1/openvsx/malware-list"},
	{"skillssh", malwarelist.SkillsShRepoFormatter{}, "/v1/skillssh/malware-list"},
}

const (
	refreshInterval       = 10 * time.Minute
	maxConcurrentRefresh  = 3
	gracePeriod           = 10 * time.Second
	defaultMaxConnsPerCPU = 64
)

// Run parses configuration, assembles every component, and blocks until an
// interrupt or terminate signal triggers graceful shutdown.
func Run(ctx context.Context, buildVersion string) error {
	conf := Config{}
	if err := goconfig.Parse(&conf); err != nil {
		return &firewall.FatalError{Stage: "config parse", Err: err}
	}

	log, closeLog, err := buildLogger(conf)
	if err != nil {
		return &firewall.FatalError{Stage: "log output open", Err: err}
	}
	defer closeLog()
	zlog.Set(&log)
	ctx = zlog.ContextWithValues(ctx, "component", "safechain-proxy", "version", buildVersion)

	raiseNoFile(ctx, maxConcurrentConns())

	dataDir := conf.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return &firewall.FatalError{Stage: "data dir create", Err: err}
	}
	store, err := storage.Open(dataDir)
	if err != nil {
		return &firewall.FatalError{Stage: "storage open", Err: err}
	}

	egressClient, err := egress.New(egress.Options{
		ParentProxyURL:      conf.UpstreamProxy,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	})
	if err != nil {
		return &firewall.FatalError{Stage: "egress client construction", Err: err}
	}

	lists := make(firewall.MalwareLists, len(ecosystems))
	for _, e := range ecosystems {
		lists[e.name] = malwarelist.New(e.name, e.formatter, conf.MalwareListOrigin+e.path, "malware-list-"+e.name, egressClient, store)
	}
	epProvider := epconfig.NewProvider(conf.MalwareListOrigin+"/v1/endpoint-protection-config", egressClient, store)

	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	for _, l := range lists {
		if err := l.Load(loadCtx); err != nil {
			zlog.Warn(ctx).Err(err).Msg("safechain: malware list initial load failed, continuing with empty list")
		}
	}
	if err := epProvider.Load(loadCtx); err != nil {
		zlog.Warn(ctx).Err(err).Msg("safechain: endpoint-protection config initial load failed, continuing with defaults")
	}
	loadCancel()

	notif := notifier.New(conf.ReportingEndpoint, egressClient)

	fw, err := firewall.New(lists, epProvider, notif, conf.ServerIdentifier)
	if err != nil {
		return &firewall.FatalError{Stage: "firewall assembly", Err: err}
	}
	reg := prometheus.NewRegistry()
	fw.Metrics = metrics.NewFirewallCollector()
	fw.Metrics.MustRegister(reg)
	reg.MustRegister(metrics.NewEgressCollector(egressClient))

	issuer, err := certissuer.New("safechain-proxy root")
	if err != nil {
		return &firewall.FatalError{Stage: "cert issuer init", Err: err}
	}

	mitmDomains := pac.CollectDomains(fw.Rules)
	ingressSrv := &ingress.Server{
		Handler:            fw.Wrap(egressHandler(egressClient, fw)),
		CertIssuer:         issuer,
		MITMHosts:          domaintrie.NewMatcher(mitmDomains...),
		MaxConcurrentConns: maxConcurrentConns(),
	}
	metaSrv := metaserver.New(conf.MetaAddr, issuer, fw.Rules, conf.IngressAddr, reg)

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	group, gctx := errgroup.WithContext(sigCtx)

	ln, err := listen(conf.IngressAddr)
	if err != nil {
		return &firewall.FatalError{Stage: "ingress listen", Err: err}
	}
	if err := store.WriteAddrFile("ingress", ln.Addr().String()); err != nil {
		zlog.Warn(ctx).Err(err).Msg("safechain: ingress addr file write failed")
	}
	group.Go(func() error { return ingressSrv.Serve(gctx, ln) })

	metaReady := make(chan string, 1)
	group.Go(func() error { return metaSrv.Serve(gctx, metaReady) })
	group.Go(func() error {
		select {
		case addr := <-metaReady:
			if err := store.WriteAddrFile("meta", addr); err != nil {
				zlog.Warn(ctx).Err(err).Msg("safechain: meta addr file write failed")
			}
		case <-gctx.Done():
		}
		return nil
	})

	group.Go(func() error { notif.Run(gctx); return nil })

	sem := semaphore.NewWeighted(maxConcurrentRefresh)
	for _, l := range lists {
		group.Go(func() error {
			boundedRefreshLoop(gctx, sem, refreshInterval, l.Refresh)
			return nil
		})
	}
	group.Go(func() error {
		boundedRefreshLoop(gctx, sem, refreshInterval, epProvider.Refresh)
		return nil
	})

	waitErr := make(chan error, 1)
	go func() { waitErr <- group.Wait() }()

	select {
	case err := <-waitErr:
		notif.Wait()
		return err
	case <-sigCtx.Done():
		zlog.Info(ctx).Msg("safechain: shutdown signal received")
	}

	// sigCtx cancellation already propagated into gctx (group.Go was
	// derived from it), so every goroutine is already unwinding; bound how
	// long we wait for that unwind before giving up on a clean exit.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gracePeriod)
	defer cancel()
	select {
	case err := <-waitErr:
		if err != nil {
			zlog.Warn(ctx).Err(err).Msg("safechain: component returned error during shutdown")
		}
	case <-shutdownCtx.Done():
		zlog.Warn(ctx).Msg("safechain: grace period elapsed before all components stopped")
	}

	notif.Wait()
	return nil
}

// egressHandler adapts the pooled egress.Client into the http.Handler the
// firewall wraps: forward the allowed request upstream, run the matched
// rule's response filter, and copy the result back to the client.
func egressHandler(client *egress.Client, fw *firewall.Evaluator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req.RequestURI = ""
		resp, err := client.Do(req)
		if err != nil {
			zlog.Warn(req.Context()).Err(&firewall.UpstreamTransportError{Host: req.Host, Err: err}).Msg("safechain: egress round trip failed")
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		if err := fw.FilterResponse(req, resp); err != nil {
			zlog.Warn(req.Context()).Err(err).Msg("safechain: response filter failed")
		}

		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return
				}
			}
			if rerr != nil {
				return
			}
		}
	})
}

// boundedRefreshLoop is internal/malwarelist.List.RunRefreshLoop's ticker
// shape, generalized to acquire sem before each refresh so the malware
// lists and endpoint-protection config don't all poll their origin at
// once.
func boundedRefreshLoop(ctx context.Context, sem *semaphore.Weighted, interval time.Duration, refresh func(context.Context) error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			_ = refresh(ctx)
			sem.Release(1)
		}
	}
}

func listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func maxConcurrentConns() int {
	if v := os.Getenv("MAX_CONCURRENT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU() * defaultMaxConnsPerCPU
}

func defaultDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return "/Library/Application Support/AikidoSecurity/SafeChainUltimate"
	case "windows":
		return `C:\ProgramData\AikidoSecurity\SafeChainUltimate`
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		return home + "/.AikidoSecurity/SafeChainUltimate"
	}
}

func buildLogger(conf Config) (zerolog.Logger, func(), error) {
	out := os.Stderr
	closer := func() {}
	if conf.Output != "" {
		f, err := os.OpenFile(conf.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log output: %w", err)
		}
		out = f
		closer = func() { f.Close() }
	}

	var w = io.Writer(out)
	if conf.Pretty {
		w = zerolog.ConsoleWriter{Out: out, NoColor: false}
	}
	log := zerolog.New(w).With().Timestamp().Caller().Logger()
	if conf.Verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}
	return log, closer, nil
}
