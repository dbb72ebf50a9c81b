// Package metrics exposes Prometheus instrumentation for federation traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultIgnored = "ignored"
)

// Metrics tracks federation traffic. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	InboxActivities  *prometheus.CounterVec
	RemoteFetches    *prometheus.CounterVec
	PostsPublished   prometheus.Counter
}

// New creates and registers the metrics with registry, or with the default
// registerer when registry is nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sailboat_deliveries_total",
			Help: "Outbound activity deliveries by activity kind and result",
		}, []string{"kind", "result"}),
		DeliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sailboat_delivery_duration_seconds",
			Help:    "Time spent delivering an activity to a remote inbox",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		InboxActivities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sailboat_inbox_activities_total",
			Help: "Activities received on inboxes by type and result",
		}, []string{"type", "result"}),
		RemoteFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sailboat_remote_fetches_total",
			Help: "Remote document fetches (webfinger, actor, collection) by result",
		}, []string{"kind", "result"}),
		PostsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "sailboat_posts_published_total",
			Help: "Local posts fanned out to followers",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

func (m *Metrics) ObserveDelivery(kind string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind, result(err)).Inc()
	m.DeliveryDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveInbox(activityType, res string) {
	if m == nil {
		return
	}
	m.InboxActivities.WithLabelValues(activityType, res).Inc()
}

func (m *Metrics) ObserveFetch(kind string, err error) {
	if m == nil {
		return
	}
	m.RemoteFetches.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObservePublish() {
	if m == nil {
		return
	}
	m.PostsPublished.Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
