// Package metrics defines the Prometheus collectors this proxy exposes:
// firewall allow/block counters and an egress-pool gauge collector
// grounded on pkg/poolstats's Stater/Collector pattern.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var staticLabels = []string{"product"}

// FirewallCollector tracks allow/block decisions per ecosystem product.
type FirewallCollector struct {
	Allowed *prometheus.CounterVec
	Blocked *prometheus.CounterVec
	Dropped prometheus.Counter
}

// NewFirewallCollector builds a FirewallCollector. Register it with a
// prometheus.Registry before use.
func NewFirewallCollector() *FirewallCollector {
	return &FirewallCollector{
		Allowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safechain_firewall_requests_allowed_total",
			Help: "Requests allowed through the firewall, by ecosystem product.",
		}, staticLabels),
		Blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safechain_firewall_requests_blocked_total",
			Help: "Requests blocked by the firewall, by ecosystem product.",
		}, staticLabels),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safechain_notifier_events_dropped_total",
			Help: "Blocked-event notifications dropped because the notifier queue was full.",
		}),
	}
}

// MustRegister registers every collector on reg.
func (f *FirewallCollector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(f.Allowed, f.Blocked, f.Dropped)
}

// ObserveAllow increments the allowed counter for product.
func (f *FirewallCollector) ObserveAllow(product string) {
	f.Allowed.WithLabelValues(product).Inc()
}

// ObserveBlock increments the blocked counter for product.
func (f *FirewallCollector) ObserveBlock(product string) {
	f.Blocked.WithLabelValues(product).Inc()
}

// ObserveDropped increments the dropped-notification counter.
func (f *FirewallCollector) ObserveDropped() {
	f.Dropped.Inc()
}
