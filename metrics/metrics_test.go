package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDelivery("create", nil, 10*time.Millisecond)
	m.ObserveDelivery("create", errors.New("502"), time.Second)
	m.ObserveDelivery("accept", nil, time.Millisecond)
	m.ObserveInbox("Follow", ResultSuccess)
	m.ObserveFetch("actor", errors.New("timeout"))
	m.ObservePublish()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("create", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("create", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboxActivities.WithLabelValues("Follow", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteFetches.WithLabelValues("actor", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PostsPublished))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveDelivery("create", nil, time.Second)
		m.ObserveInbox("Follow", ResultIgnored)
		m.ObserveFetch("webfinger", nil)
		m.ObservePublish()
	})
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry).ObservePublish()

	w := httptest.NewRecorder()
	Handler(registry).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sailboat_posts_published_total 1")
}
