package monitoring

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestNilMetrics makes sure every method is a no-op on a nil receiver.
func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.SetCatalogSize(1, 2)
		m.ObservePathSelection("weighted", true)
		m.ObserveBuild(ResultTimeout, time.Second)
		m.SetBuilderState("idle", "selecting")
		m.ObserveStreamEvent("NEW")
		m.ObserveAttach(false)
		m.SetControlConnected(true)
	})
	require.Nil(t, m.Registry())
}

// TestMetrics checks the values recorded by each method.
func TestMetrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.SetCatalogSize(7000, 1200)
	require.Equal(t, 7000.0, testutil.ToFloat64(m.catalogRelays))
	require.Equal(t, 1200.0, testutil.ToFloat64(m.familyRelays))

	m.ObservePathSelection("weighted", true)
	m.ObservePathSelection("weighted", false)
	m.ObservePathSelection("weighted", false)
	require.Equal(t, 2.0, testutil.ToFloat64(
		m.pathSelections.WithLabelValues("weighted", ResultFailure),
	))

	m.ObserveBuild(ResultTimeout, 10*time.Second)
	m.ObserveBuild(ResultSuccess, time.Second)
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.buildAttempts.WithLabelValues(ResultTimeout),
	))
	require.Equal(t, 1, testutil.CollectAndCount(m.buildDuration))

	m.SetBuilderState("", "idle")
	m.SetBuilderState("idle", "selecting")
	require.Equal(t, 0.0, testutil.ToFloat64(
		m.builderState.WithLabelValues("idle"),
	))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.builderState.WithLabelValues("selecting"),
	))

	m.ObserveAttach(true)
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.streamAttaches.WithLabelValues(ResultSuccess),
	))

	m.SetControlConnected(true)
	require.Equal(t, 1.0, testutil.ToFloat64(m.controlConnected))
	m.SetControlConnected(false)
	require.Equal(t, 0.0, testutil.ToFloat64(m.controlConnected))
}

// TestExporter scrapes a running exporter.
func TestExporter(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveStreamEvent("NEW")

	e, err := ExportPrometheusMetrics("127.0.0.1:0", m)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, e.Stop(context.Background()))
	})

	url := fmt.Sprintf("http://%v/metrics", e.Addr())
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(
		t, string(body), `torpath_stream_events_total{status="NEW"} 1`,
	)
}
