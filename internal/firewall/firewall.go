// Package firewall implements the request/response policy pipeline: for
// every proxied request it resolves the target host, walks the registered
// [rule.Rule] chain in registration order, and either forwards the request
// or serves a block response, grounded on
// original_source/proxy/src/firewall/mod.rs and utils.rs.
package firewall

import (
	"context"
	"net"
	"net/http"

	"github.com/quay/zlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aikido-oss/safechain-proxy/internal/epconfig"
	"github.com/aikido-oss/safechain-proxy/internal/events"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/blockresponse"
	"github.com/aikido-oss/safechain-proxy/internal/firewall/rule"
	"github.com/aikido-oss/safechain-proxy/internal/malwarelist"
	"github.com/aikido-oss/safechain-proxy/internal/metrics"
)

// tracer emits spans around rule evaluation; left unconfigured (no
// exporter wired in cmd/safechain-proxy), it costs a no-op span per
// request.
var tracer = otel.Tracer("github.com/aikido-oss/safechain-proxy/internal/firewall")

// ctxKey is an unexported type for context values this package defines, so
// they can't collide with keys from other packages.
type ctxKey int

const (
	// proxyTargetKey is the context key the ingress MITM layer stores the
	// CONNECT/SNI-resolved target host under, mirroring rama's
	// ProxyTarget request extension.
	proxyTargetKey ctxKey = iota
	matchedRuleKey
)

// WithProxyTarget stashes the MITM-resolved target host (from CONNECT or
// SNI) on ctx, for [EvaluateRequest] to prefer over the request's own URI
// or Host header.
func WithProxyTarget(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, proxyTargetKey, host)
}

// hostFor resolves the domain to match rules against: the MITM-resolved
// proxy target first, then the request URI's host, then the Host header —
// matching try_get_domain_for_req's ProxyTarget-then-RequestContext
// precedence.
func hostFor(req *http.Request) string {
	if host, ok := req.Context().Value(proxyTargetKey).(string); ok && host != "" {
		return stripPort(host)
	}
	if req.URL != nil && req.URL.Host != "" {
		return stripPort(req.URL.Host)
	}
	return stripPort(req.Host)
}

func stripPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

// RuleSet is one configured rule bound to the malware list it evaluates
// requests against.
type RuleSet struct {
	Rule rule.Rule
	List rule.Lister
}

// MalwareLists maps a rule's product name to its [malwarelist.List], the
// shape [internal/safechain] assembles with one [malwarelist.List] per
// ecosystem.
type MalwareLists map[string]*malwarelist.List

// EndpointConfig resolves per-ecosystem policy; satisfied by
// *epconfig.Provider.
type EndpointConfig interface {
	Ecosystem(name string) epconfig.EcosystemConfig
}

// EventSink receives blocked events for out-of-band delivery; satisfied by
// *internal/notifier.Notifier.
type EventSink interface {
	Enqueue(events.BlockedEvent) bool
}

// Evaluator holds the assembled rule chain and serves as the firewall's
// HTTP middleware.
type Evaluator struct {
	Rules            []rule.Rule
	Lists            MalwareLists
	Config           EndpointConfig
	Sink             EventSink
	ServerIdentifier string
	// Metrics is optional; when set, every Allow/Block decision and every
	// dropped notifier enqueue is observed on it.
	Metrics *metrics.FirewallCollector
}

// New assembles an Evaluator from every registered rule factory, binding
// each to the malware list for its product name.
func New(lists MalwareLists, cfg EndpointConfig, sink EventSink, serverIdentifier string) (*Evaluator, error) {
	var rules []rule.Rule
	for _, nf := range rule.Registered() {
		r, err := nf.New()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return &Evaluator{Rules: rules, Lists: lists, Config: cfg, Sink: sink, ServerIdentifier: serverIdentifier}, nil
}

// Wrap returns an [http.Handler] that evaluates req against the rule chain
// before optionally delegating to next (the egress round-trip handler).
func (e *Evaluator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, span := tracer.Start(req.Context(), "firewall.Evaluate")
		defer span.End()
		host := hostFor(req)
		span.SetAttributes(attribute.String("firewall.host", host))

		for _, r := range e.Rules {
			if !r.MatchDomain(host) {
				continue
			}

			ec := epconfig.EcosystemConfig{Enabled: true}
			if e.Config != nil {
				ec = e.Config.Ecosystem(r.ProductName())
			}
			list := e.Lists[r.ProductName()]

			verdict, err := r.BlockRequest(ctx, req, ec, list)
			if err != nil {
				zlog.Error(ctx).Err(err).Str("product", r.ProductName()).Msg("firewall: rule evaluation failed, allowing request")
				break
			}

			span.SetAttributes(attribute.String("firewall.product", r.ProductName()))

			if verdict.Decision == rule.Block {
				span.SetAttributes(attribute.String("firewall.decision", "block"))
				if e.Metrics != nil {
					e.Metrics.ObserveBlock(r.ProductName())
				}
				e.block(w, req, r.ProductName(), verdict)
				return
			}

			span.SetAttributes(attribute.String("firewall.decision", "allow"))
			if e.Metrics != nil {
				e.Metrics.ObserveAllow(r.ProductName())
			}
			if verdict.Request != nil {
				req = verdict.Request
			}
			req = req.WithContext(context.WithValue(ctx, matchedRuleKey, r))
			break
		}

		next.ServeHTTP(w, req)
	})
}

func (e *Evaluator) block(w http.ResponseWriter, req *http.Request, product string, verdict rule.Verdict) {
	ctx := req.Context()
	zlog.Info(ctx).
		Str("product", product).
		Str("identifier", verdict.Artifact.Identifier).
		Str("version", verdict.Artifact.Version.String()).
		Msg("firewall: blocked request")

	if e.Sink != nil {
		ev := events.FromInfo(events.BlockedEventInfo{Artifact: verdict.Artifact})
		if !e.Sink.Enqueue(ev) {
			zlog.Warn(ctx).Str("product", product).Msg("firewall: notifier queue full, event dropped")
			if e.Metrics != nil {
				e.Metrics.ObserveDropped()
			}
		}
	}

	blockresponse.Write(w, req, e.ServerIdentifier)
}

// FilterResponse applies the matched rule's [rule.ResponseFilter], if it
// implements one, to resp. Call this from the egress round-trip before the
// response body reaches the client.
func (e *Evaluator) FilterResponse(req *http.Request, resp *http.Response) error {
	r, ok := req.Context().Value(matchedRuleKey).(rule.Rule)
	if !ok {
		return nil
	}
	filter, ok := r.(rule.ResponseFilter)
	if !ok {
		return nil
	}
	ec := epconfig.EcosystemConfig{Enabled: true}
	if e.Config != nil {
		ec = e.Config.Ecosystem(r.ProductName())
	}
	trace.SpanFromContext(req.Context()).AddEvent("firewall.FilterResponse", trace.WithAttributes(attribute.String("firewall.product", r.ProductName())))
	return filter.FilterResponse(req.Context(), resp, ec, e.Lists[r.ProductName()])
}
