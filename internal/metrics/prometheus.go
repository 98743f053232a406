package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "duesledger"

// PrometheusRecorder exports metrics through a dedicated registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	reconcileOutcomes  *prometheus.CounterVec
	assignmentsCreated prometheus.Counter
	matchDuration      prometheus.Histogram
	transfersImported  prometheus.Counter
	authResults        *prometheus.CounterVec
	memberListCache    *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// NewPrometheus creates a recorder with Go runtime and process collectors
// registered alongside the ledger metrics.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()

	p := &PrometheusRecorder{
		registry: reg,
		reconcileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_transfers_total",
			Help:      "Transfers classified during reconciliation, by outcome.",
		}, []string{"outcome"}),
		assignmentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_created_total",
			Help:      "Member period assignments created.",
		}),
		matchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Duration of reconciliation runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		transfersImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_imported_total",
			Help:      "New transfers stored by statement imports.",
		}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "private_api_auth_total",
			Help:      "Private API authentication attempts, by result.",
		}, []string{"result"}),
		memberListCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "member_list_cache_total",
			Help:      "Member list page cache lookups, by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Arrears summary deliveries, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.reconcileOutcomes,
		p.assignmentsCreated,
		p.matchDuration,
		p.transfersImported,
		p.authResults,
		p.memberListCache,
		p.notifications,
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (p *PrometheusRecorder) Gatherer() prometheus.Gatherer {
	return p.registry
}

func (p *PrometheusRecorder) IncReconcileOutcome(outcome string) {
	p.reconcileOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) AddAssignmentsCreated(n int) {
	p.assignmentsCreated.Add(float64(n))
}

func (p *PrometheusRecorder) ObserveMatchDuration(duration time.Duration) {
	p.matchDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) AddTransfersImported(n int) {
	p.transfersImported.Add(float64(n))
}

func (p *PrometheusRecorder) IncAuthResult(result string) {
	p.authResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncMemberListCacheHit() {
	p.memberListCache.WithLabelValues("hit").Inc()
}

func (p *PrometheusRecorder) IncMemberListCacheMiss() {
	p.memberListCache.WithLabelValues("miss").Inc()
}

func (p *PrometheusRecorder) IncNotification(status string) {
	p.notifications.WithLabelValues(status).Inc()
}
