package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/services/topup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 5 * time.Second

type statusReader interface {
	LastReport() (topup.Report, time.Time, bool)
}

// Server exposes metrics, a liveness probe and the outcome of the last cycle.
type Server struct {
	Addr    string
	Metrics http.Handler
	Status  statusReader
	logger  *zap.Logger
}

// NewServer creates a new ops server.
func NewServer(addr string, metrics http.Handler, status statusReader, logger *zap.Logger) *Server {
	return &Server{Addr: addr, Metrics: metrics, Status: status, logger: logger}
}

// Handler returns the routes served by Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving ops endpoints", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// cycleStatus is the JSON view of the last finished cycle.
type cycleStatus struct {
	CycleID    string    `json:"cycle_id"`
	Outcome    string    `json:"outcome"`
	FinishedAt time.Time `json:"finished_at"`
	Current    string    `json:"current"`
	Needed     string    `json:"needed"`
	SwapStatus string    `json:"swap_status,omitempty"`
	SwapTxIDs  []string  `json:"swap_tx_ids,omitempty"`
	BurnTxID   string    `json:"burn_tx_id,omitempty"`
	Credited   *bool     `json:"credit_observed,omitempty"`
	TransferID string    `json:"transfer_id,omitempty"`
	Recovered  []string  `json:"recovered,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.Status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}
	report, at, ok := s.Status.LastReport()
	if !ok {
		http.Error(w, "no cycle finished yet", http.StatusNotFound)
		return
	}

	payload, err := json.Marshal(newCycleStatus(report, at))
	if err != nil {
		http.Error(w, "failed to encode status", http.StatusInternalServerError)
		s.logger.Error("encode status", zap.Error(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func newCycleStatus(r topup.Report, at time.Time) cycleStatus {
	st := cycleStatus{
		CycleID:    r.CycleID,
		Outcome:    string(r.Outcome),
		FinishedAt: at.UTC(),
		Current:    r.Current.String(),
		Needed:     r.Needed.String(),
	}
	if r.Swap != nil {
		st.SwapStatus = r.Swap.Status.String()
		st.SwapTxIDs = r.Swap.TxIDs
	}
	if r.Burn != nil {
		st.BurnTxID = r.Burn.TxID
	}
	if r.Credit != nil {
		observed := r.Credit.Observed
		st.Credited = &observed
	}
	if r.Transfer != nil {
		st.TransferID = r.Transfer.ID
	}
	for _, t := range r.Recovered {
		st.Recovered = append(st.Recovered, t.Amount.String())
	}
	return st
}
