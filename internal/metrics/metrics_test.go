package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.ObserveCycle("success", time.Unix(1_700_000_000, 0))
	m.ObserveCycle("success", time.Unix(1_700_000_100, 0))
	m.ObserveCycle("", time.Unix(1_700_000_200, 0))
	m.ObserveSwap("executed")
	m.ObserveSubmissionFailure("burn")
	m.ObserveBridgeWait(90*time.Second, true)
	m.SetTargetBalance(decimal.RequireFromString("400000.5"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.swaps.WithLabelValues("executed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("burn")))
	require.Equal(t, 400000.5, testutil.ToFloat64(m.targetBalance))
	require.Equal(t, 1_700_000_200.0, testutil.ToFloat64(m.lastCycle))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveCycle("success", time.Now())
		m.ObserveSwap("aborted")
		m.ObserveBridgeWait(time.Second, false)
		m.SetTargetBalance(decimal.Zero)
	})
	require.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveSwap("aborted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `topup_swaps_total{status="aborted"} 1`)
}
