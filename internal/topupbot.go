package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/config"
	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/internal/services/topup"
	"github.com/vadiminshakov/topup/internal/storage/intents"
)

type cycleRunner interface {
	RunCycle(ctx context.Context) (topup.Report, error)
}

type eventSink interface {
	Emit(ctx context.Context, e domain.Event)
	Wait()
}

type ledgerArchive interface {
	Backup(now time.Time) (string, error)
	Prune(retention time.Duration, now time.Time) ([]string, error)
}

type pendingJournal interface {
	Pending() []intents.Intent
}

// TopUpBot runs top-up cycles on a cron schedule
type TopUpBot struct {
	Config   config.Config
	runner   cycleRunner
	reporter eventSink
	archive  ledgerArchive
	journal  pendingJournal
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	last   topup.Report
	lastAt time.Time
	ran    bool
}

// NewTopUpBot creates a bot over an open session
func NewTopUpBot(s *Session) (*TopUpBot, error) {
	orchestrator, reporter, err := newOrchestrator(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create orchestrator")
	}
	return newTopUpBot(s.Config, orchestrator, reporter, s.Ledger, s.Journal, s.Logger), nil
}

func newTopUpBot(conf config.Config, runner cycleRunner, reporter eventSink, archive ledgerArchive, journal pendingJournal, logger *zap.Logger) *TopUpBot {
	return &TopUpBot{
		Config:   conf,
		runner:   runner,
		reporter: reporter,
		archive:  archive,
		journal:  journal,
		logger:   logger,
		now:      time.Now,
	}
}

// Run runs one cycle immediately, then on every scheduled tick until ctx is done.
// Pending notifications are flushed before it returns.
func (b *TopUpBot) Run(ctx context.Context) error {
	b.warnPending(ctx)

	scheduler := cron.New(
		cron.WithParser(config.ScheduleParser()),
		cron.WithLogger(cronLogger{b.logger.Named("cron")}),
	)
	if _, err := scheduler.AddFunc(b.Config.CronSchedule, func() { b.runCycle(ctx) }); err != nil {
		return errors.Wrapf(err, "failed to schedule cycles with %q", b.Config.CronSchedule)
	}
	if b.Config.LedgerBackupSchedule != "" {
		if _, err := scheduler.AddFunc(b.Config.LedgerBackupSchedule, b.backupLedger); err != nil {
			return errors.Wrapf(err, "failed to schedule ledger backups with %q", b.Config.LedgerBackupSchedule)
		}
	}

	b.logger.Info("Starting top-up scheduler",
		zap.String("schedule", b.Config.CronSchedule),
		zap.String("target_wallet", b.Config.TargetWallet),
		zap.Bool("dry_run", b.Config.DryRun))
	scheduler.Start()

	b.runCycle(ctx)

	<-ctx.Done()
	b.logger.Info("Context done, stopping top-up scheduler")
	<-scheduler.Stop().Done()
	b.reporter.Wait()
	return nil
}

func (b *TopUpBot) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report, err := b.runner.RunCycle(ctx)
	b.mu.Lock()
	b.last, b.lastAt, b.ran = report, b.now(), true
	b.mu.Unlock()
	if err != nil {
		b.logger.Error("Top-up cycle failed", zap.String("cycle", report.CycleID), zap.Error(err))
		return
	}
	b.logger.Info("Top-up cycle finished",
		zap.String("cycle", report.CycleID),
		zap.String("outcome", string(report.Outcome)),
		zap.String("current", report.Current.String()),
		zap.String("needed", report.Needed.String()))
}

// LastReport returns the report of the most recent cycle and when it finished.
func (b *TopUpBot) LastReport() (topup.Report, time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.lastAt, b.ran
}

func (b *TopUpBot) backupLedger() {
	now := b.now()
	path, err := b.archive.Backup(now)
	if err != nil {
		b.logger.Error("Ledger backup failed", zap.Error(err))
		return
	}
	b.logger.Info("Ledger backed up", zap.String("path", path))

	if b.Config.LedgerBackupRetention <= 0 {
		return
	}
	removed, err := b.archive.Prune(b.Config.LedgerBackupRetention, now)
	if err != nil {
		b.logger.Error("Ledger backup pruning failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		b.logger.Info("Pruned old ledger backups", zap.Int("count", len(removed)))
	}
}

// warnPending alerts on submissions interrupted before their outcome was journaled.
func (b *TopUpBot) warnPending(ctx context.Context) {
	pending := b.journal.Pending()
	if len(pending) == 0 {
		return
	}

	e := domain.Event{
		Kind:     domain.EventPendingIntents,
		Severity: domain.SeverityWarning,
		Title:    "Unfinished submissions found",
		Message:  fmt.Sprintf("%d submissions have no recorded outcome", len(pending)),
		Action:   "Reconcile these transactions on the explorers before relying on the ledger.",
	}
	for _, intent := range pending {
		value := fmt.Sprintf("%s %s to %s", intent.Amount, intent.Token, intent.Target)
		if intent.TxID != "" {
			value += " tx " + intent.TxID
		}
		e = e.With(fmt.Sprintf("%s %s", intent.Stage, intent.CreatedAt.Format(time.RFC3339)), value)
		b.logger.Warn("Unfinished submission",
			zap.String("id", intent.ID),
			zap.String("stage", string(intent.Stage)),
			zap.String("amount", intent.Amount),
			zap.String("tx", intent.TxID))
	}
	b.reporter.Emit(ctx, e)
}

// cronLogger routes scheduler logs through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
