package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	switch {
	case pb.Counter != nil:
		return pb.GetCounter().GetValue()
	case pb.Gauge != nil:
		return pb.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestObserveTick(t *testing.T) {
	m := NewMetrics()
	start := time.Unix(1700000000, 0)

	m.ObserveTick(start, start.Add(2*time.Second))
	m.ObserveTick(start, start.Add(3*time.Second))

	assert.Equal(t, 2.0, value(t, m.TicksTotal))
	assert.Equal(t, float64(start.Add(3*time.Second).Unix()), value(t, m.LastTick))
}

func TestObserveRefresh(t *testing.T) {
	m := NewMetrics()
	at := time.Unix(1700000000, 0)

	m.ObserveRefresh(at, 42, nil)
	m.ObserveRefresh(at.Add(time.Minute), 7, errors.New("boom"))

	assert.Equal(t, 42.0, value(t, m.TrackedInstruments))
	assert.Equal(t, 1.0, value(t, m.RefreshesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, value(t, m.RefreshesTotal.WithLabelValues("error")))
	assert.Equal(t, float64(at.Unix()), value(t, m.LastRefresh))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := NewMetrics()
	m.AlertsSent.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "spikewatch_alerts_sent_total 1")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.SpikesDetected.Inc()
	assert.Equal(t, 0.0, value(t, b.SpikesDetected))
}
