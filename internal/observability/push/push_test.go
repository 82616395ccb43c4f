package push

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scheduler_job_runs_total"}, []string{"job"})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{Name: "scheduler_lag_seconds"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "scheduler_job_duration_seconds"})
	registry.MustRegister(runs, lag, duration)

	runs.WithLabelValues("expire_reservations").Add(3)
	lag.Set(1.5)
	duration.Observe(0.2)
	return registry
}

func TestBuildRemoteWriteSeriesKeepsCountersAndGauges(t *testing.T) {
	families, err := newRegistry(t).Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, 1000)

	require.Len(t, series, 2)
	byName := map[string]prompb.TimeSeries{}
	for _, s := range series {
		byName[s.Labels[0].Value] = s
		assert.Equal(t, "__name__", s.Labels[0].Name)
	}
	runs := byName["scheduler_job_runs_total"]
	require.Len(t, runs.Labels, 2)
	assert.Equal(t, "job", runs.Labels[1].Name)
	assert.Equal(t, float64(3), runs.Samples[0].Value)
	assert.Equal(t, int64(1000), runs.Samples[0].Timestamp)
	assert.Equal(t, 1.5, byName["scheduler_lag_seconds"].Samples[0].Value)
}

func TestRemoteWritePusherSendsSnappyProtobuf(t *testing.T) {
	var got prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		decoded, err := snappy.Decode(nil, body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.NoError(t, got.Unmarshal(decoded))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, pusher.Push(context.Background(), newRegistry(t)))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	require.Len(t, got.Timeseries, 2)
	assert.Equal(t, int64(1700000000000), got.Timeseries[0].Samples[0].Timestamp)
}

func TestRemoteWritePusherReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), newRegistry(t))
	assert.Error(t, err)
}

func TestNewPusherSelectsExporter(t *testing.T) {
	assert.Nil(t, NewPusher(config.Config{}, nil))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite}}, nil))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, nil))

	remote := NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{
		Exporter: ExporterRemoteWrite,
		Endpoint: "http://prometheus:9090/api/v1/write",
	}}, nil)
	assert.IsType(t, &RemoteWritePusher{}, remote)

	gateway := NewPusher(config.Config{AppName: "drawline", MetricsPush: config.MetricsPushConfig{
		Exporter: ExporterPushgateway,
		Endpoint: "http://pushgateway:9091",
	}}, nil)
	require.IsType(t, &PushgatewayPusher{}, gateway)
	assert.Equal(t, "drawline-scheduler", gateway.(*PushgatewayPusher).job)
}
