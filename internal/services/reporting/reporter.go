// Package reporting fans cycle outcomes out to the log, the CSV ledger,
// the operator notifier and metrics.
package reporting

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/metrics"
	"github.com/vadiminshakov/topup/internal/services/notifier"
)

const notifyTimeout = 30 * time.Second

type ledger interface {
	Append(r domain.TransactionRecord) error
}

// Reporter never fails its caller: sink errors are logged and dropped.
type Reporter struct {
	ledger   ledger
	notifier notifier.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates a Reporter. notifier and metrics may be nil.
func New(ledger ledger, n notifier.Notifier, m *metrics.Metrics, logger *zap.Logger) *Reporter {
	if n == nil {
		n = notifier.Nop{}
	}
	return &Reporter{ledger: ledger, notifier: n, metrics: m, logger: logger.Named("report"), now: time.Now}
}

// Emit logs the event and delivers it to the notifier in the background.
func (r *Reporter) Emit(ctx context.Context, event domain.Event) {
	cycle := domain.CycleID(ctx)
	if cycle != "" {
		event = event.With("cycle", cycle)
	}

	fields := make([]zap.Field, 0, len(event.Fields)+3)
	fields = append(fields, zap.String("kind", string(event.Kind)), zap.String("message", event.Message))
	for _, f := range event.Fields {
		fields = append(fields, zap.String(f.Key, f.Value))
	}
	if event.Action != "" {
		fields = append(fields, zap.String("action", event.Action))
	}
	if ce := r.logger.Check(level(event.Severity), event.Title); ce != nil {
		ce.Write(fields...)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := r.notifier.Notify(nctx, event); err != nil {
			r.logger.Warn("notification failed", zap.String("kind", string(event.Kind)), zap.Error(err))
		}
	}()
}

// Record appends a ledger line. The cycle id is added to the note.
func (r *Reporter) Record(ctx context.Context, rec domain.TransactionRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	if cycle := domain.CycleID(ctx); cycle != "" {
		rec.Note = strings.TrimSpace(rec.Note + " cycle=" + cycle)
	}

	if r.ledger == nil {
		return
	}
	if err := r.ledger.Append(rec); err != nil {
		r.logger.Error("failed to append ledger record",
			zap.String("kind", string(rec.Kind)),
			zap.Strings("tx", rec.TxIDs),
			zap.Error(err))
	}
}

// CycleFinished records the outcome of a cycle.
func (r *Reporter) CycleFinished(_ context.Context, outcome string) {
	r.metrics.ObserveCycle(outcome, r.now())
}

// SwapFinished records a swap terminal status.
func (r *Reporter) SwapFinished(_ context.Context, res domain.SwapResult) {
	r.metrics.ObserveSwap(res.Status.String())
}

// SubmissionFailed records a failed on-chain submission.
func (r *Reporter) SubmissionFailed(_ context.Context, stage domain.Stage) {
	r.metrics.ObserveSubmissionFailure(string(stage))
}

// BridgeWaited records a bridge verification.
func (r *Reporter) BridgeWaited(_ context.Context, wait domain.CreditWait) {
	r.metrics.ObserveBridgeWait(wait.Waited, wait.Observed)
}

// TargetObserved records the target wallet balance.
func (r *Reporter) TargetObserved(_ context.Context, snap domain.BalanceSnapshot) {
	r.metrics.SetTargetBalance(snap.Amount.Units())
}

// Wait blocks until queued notifications are delivered.
func (r *Reporter) Wait() {
	r.wg.Wait()
}

func level(s domain.Severity) zapcore.Level {
	switch s {
	case domain.SeverityCritical:
		return zapcore.ErrorLevel
	case domain.SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
