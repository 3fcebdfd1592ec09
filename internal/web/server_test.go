package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/topup"
)

type fixedStatus struct {
	report topup.Report
	at     time.Time
	ok     bool
}

func (f fixedStatus) LastReport() (topup.Report, time.Time, bool) { return f.report, f.at, f.ok }

var ario = domain.Token{Symbol: "ARIO", Ledger: domain.LedgerAO, ID: "qNvAoz0TgcH7DMg8BCVn8jF32QH5L6T29VjHxhHqqGE", Decimals: 6}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHealth(t *testing.T) {
	s := NewServer(":0", nil, nil, zap.NewNop())

	code, body := get(t, s.Handler(), "/healthz")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	s := NewServer(":0", nil, fixedStatus{}, zap.NewNop())

	code, _ := get(t, s.Handler(), "/status")

	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusReportsLastCycle(t *testing.T) {
	sent := domain.MustUnits(ario, "50000")
	report := topup.Report{
		CycleID:  "c-1",
		Outcome:  topup.OutcomeToppedUp,
		Current:  domain.MustUnits(ario, "350000"),
		Needed:   domain.MustUnits(ario, "50000"),
		Swap:     &domain.SwapResult{Status: domain.SwapExecuted, TxIDs: []string{"0xapprove", "0xswap"}, Fee: decimal.Zero},
		Burn:     &domain.BurnResult{TxID: "0xburn"},
		Credit:   &domain.CreditWait{Observed: true},
		Transfer: &domain.TransferResult{ID: "msg-1", Amount: sent},
	}
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s := NewServer(":0", nil, fixedStatus{report: report, at: at, ok: true}, zap.NewNop())

	code, body := get(t, s.Handler(), "/status")

	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{
		"cycle_id": "c-1",
		"outcome": "topped_up",
		"finished_at": "2026-10-19T12:00:00Z",
		"current": "350000 ARIO",
		"needed": "50000 ARIO",
		"swap_status": "executed",
		"swap_tx_ids": ["0xapprove", "0xswap"],
		"burn_tx_id": "0xburn",
		"credit_observed": true,
		"transfer_id": "msg-1"
	}`, body)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("topup_cycles_total 1\n"))
	})
	s := NewServer(":0", metrics, nil, zap.NewNop())

	code, body := get(t, s.Handler(), "/metrics")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "topup_cycles_total")
}
