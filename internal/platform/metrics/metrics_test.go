package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilPusherIsNoop(t *testing.T) {
	p := NewPusher("", "cna", prometheus.NewRegistry())
	assert.Nil(t, p)
	assert.NoError(t, p.Push(t.Context(), "s1"))
}

func TestPushSendsGroupedMetrics(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "cna_session_outcomes_total", Help: "outcomes"})
	reg.MustRegister(c)
	c.Inc()

	require.NoError(t, NewPusher(srv.URL, "cna", reg).Push(t.Context(), "s1"))
	assert.Equal(t, "/metrics/job/cna/session_id/s1", path)
	assert.Contains(t, body, "cna_session_outcomes_total")
}

func TestPushReportsGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewPusher(srv.URL, "cna", prometheus.NewRegistry()).Push(t.Context(), "s1")
	assert.ErrorContains(t, err, "push metrics")
}
