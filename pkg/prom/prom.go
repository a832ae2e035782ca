package prom

import (
	"sync"

	xhttp "github.com/nimasrn/points-ledger/pkg/http"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemLedger = "ledger"
	SystemEvents = "events"
	SystemAudit  = "audit"
)

const (
	MetricTransactions    = "transactions_total"
	MetricSubmitDuration  = "submit_duration_seconds"
	MetricMembers         = "member_operations_total"
	MetricEventsPublished = "published_total"
	MetricEventsDropped   = "dropped_total"
	MetricAuditRuns       = "runs_total"
	MetricAuditDuration   = "duration_seconds"
	MetricAuditMismatch   = "mismatch_total"
	MetricStreamPending   = "stream_pending"
)

// metrics is nil until Create succeeds; every recorder is a no-op before that.
type metrics struct {
	registry *prometheus.Registry

	transactions    *prometheus.CounterVec
	submitDuration  *prometheus.HistogramVec
	members         *prometheus.CounterVec
	eventsPublished prometheus.Counter
	eventsDropped   prometheus.Counter
	auditRuns       *prometheus.CounterVec
	auditDuration   prometheus.Histogram
	auditMismatch   prometheus.Counter
	streamPending   prometheus.Gauge
}

var (
	mu      sync.RWMutex
	current *metrics
)

// Create registers the ledger metric families under namespace with env and
// instance as constant labels. Calling it again replaces the registry.
func Create(host string, env string, namespace string) error {
	labels := prometheus.Labels{"env": env, "instance": host}
	opts := func(subsystem, name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels}
	}

	m := &metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts(
			opts(SystemLedger, MetricTransactions, "Transaction submissions by kind and outcome.")), []string{"kind", "outcome"}),
		submitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: SystemLedger, Name: MetricSubmitDuration, ConstLabels: labels,
			Help:    "Time from receiving a submission to its outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		members: prometheus.NewCounterVec(prometheus.CounterOpts(
			opts(SystemLedger, MetricMembers, "Successful member mutations by operation.")), []string{"operation"}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts(
			opts(SystemEvents, MetricEventsPublished, "Ledger events written to the stream."))),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts(
			opts(SystemEvents, MetricEventsDropped, "Ledger events lost to a full buffer or a failed publish."))),
		auditRuns: prometheus.NewCounterVec(prometheus.CounterOpts(
			opts(SystemAudit, MetricAuditRuns, "Audited events by result.")), []string{"result"}),
		auditDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: SystemAudit, Name: MetricAuditDuration, ConstLabels: labels,
			Help:    "Time spent auditing one event.",
			Buckets: prometheus.DefBuckets,
		}),
		auditMismatch: prometheus.NewCounter(prometheus.CounterOpts(
			opts(SystemAudit, MetricAuditMismatch, "Member logs that failed to replay."))),
		streamPending: prometheus.NewGauge(prometheus.GaugeOpts(
			opts(SystemAudit, MetricStreamPending, "Delivered but unacknowledged stream entries."))),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transactions, m.submitDuration, m.members,
		m.eventsPublished, m.eventsDropped,
		m.auditRuns, m.auditDuration, m.auditMismatch, m.streamPending,
	} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}

	mu.Lock()
	current = m
	mu.Unlock()
	return nil
}

func get() *metrics {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Gatherer exposes the active registry, or nil before Create.
func Gatherer() prometheus.Gatherer {
	if m := get(); m != nil {
		return m.registry
	}
	return nil
}

func ListenAndServer(port string, url string) {
	g := Gatherer()
	if g == nil {
		logger.Error("[metrics-server] metrics were not created")
		return
	}
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

// ObserveSubmit records the outcome of one TransactionProcessor submission.
func ObserveSubmit(kind, outcome string, seconds float64) {
	if m := get(); m != nil {
		m.transactions.WithLabelValues(kind, outcome).Inc()
		m.submitDuration.WithLabelValues(kind).Observe(seconds)
	}
}

func IncMemberOperation(operation string) {
	if m := get(); m != nil {
		m.members.WithLabelValues(operation).Inc()
	}
}

func IncEventsPublished() {
	if m := get(); m != nil {
		m.eventsPublished.Inc()
	}
}

func IncEventsDropped() {
	if m := get(); m != nil {
		m.eventsDropped.Inc()
	}
}

func ObserveAudit(result string, seconds float64) {
	m := get()
	if m == nil {
		return
	}
	m.auditRuns.WithLabelValues(result).Inc()
	m.auditDuration.Observe(seconds)
	if result == "mismatch" {
		m.auditMismatch.Inc()
	}
}

func SetStreamPending(n int64) {
	if m := get(); m != nil {
		m.streamPending.Set(float64(n))
	}
}
