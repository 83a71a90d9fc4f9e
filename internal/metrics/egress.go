package metrics

import "github.com/prometheus/client_golang/prometheus"

// EgressStat is the snapshot an egress client pool reports, the shape
// [internal/egress.Client] implements, mirroring pgxpool.Stat's role in
// pkg/poolstats.
type EgressStat interface {
	ActiveConns() int32
	IdleConns() int32
	TotalRequests() int64
	FailedRequests() int64
}

// EgressStater is a provider of the current EgressStat. Implemented by
// *internal/egress.Client.
type EgressStater interface {
	Stat() EgressStat
}

// EgressCollector is a prometheus.Collector exposing an egress client
// pool's connection and request counts, grounded on
// pkg/poolstats.Collector.
type EgressCollector struct {
	stater EgressStater

	activeConnsDesc    *prometheus.Desc
	idleConnsDesc      *prometheus.Desc
	totalRequestsDesc  *prometheus.Desc
	failedRequestsDesc *prometheus.Desc
}

var _ prometheus.Collector = (*EgressCollector)(nil)

// NewEgressCollector builds an EgressCollector for stater.
func NewEgressCollector(stater EgressStater) *EgressCollector {
	return &EgressCollector{
		stater: stater,
		activeConnsDesc: prometheus.NewDesc(
			"safechain_egress_active_conns",
			"Number of currently active upstream connections held by the egress pool.",
			nil, nil),
		idleConnsDesc: prometheus.NewDesc(
			"safechain_egress_idle_conns",
			"Number of currently idle upstream connections held by the egress pool.",
			nil, nil),
		totalRequestsDesc: prometheus.NewDesc(
			"safechain_egress_requests_total",
			"Cumulative count of upstream requests issued by the egress client.",
			nil, nil),
		failedRequestsDesc: prometheus.NewDesc(
			"safechain_egress_requests_failed_total",
			"Cumulative count of upstream requests that returned a transport error.",
			nil, nil),
	}
}

func (c *EgressCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeConnsDesc
	ch <- c.idleConnsDesc
	ch <- c.totalRequestsDesc
	ch <- c.failedRequestsDesc
}

func (c *EgressCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stater.Stat()
	ch <- prometheus.MustNewConstMetric(c.activeConnsDesc, prometheus.GaugeValue, float64(s.ActiveConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConnsDesc, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalRequestsDesc, prometheus.CounterValue, float64(s.TotalRequests()))
	ch <- prometheus.MustNewConstMetric(c.failedRequestsDesc, prometheus.CounterValue, float64(s.FailedRequests()))
}
