package internal

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/config"
	"github.com/vadiminshakov/topup/internal/clients"
	"github.com/vadiminshakov/topup/internal/metrics"
	"github.com/vadiminshakov/topup/internal/services/notifier"
	"github.com/vadiminshakov/topup/internal/storage/intents"
	"github.com/vadiminshakov/topup/internal/storage/ledger"
)

// aoRequestsPerSecond caps calls to the compute and messenger units.
const (
	aoRequestsPerSecond = 5
	aoRequestBurst      = 5
)

// Session holds the long-lived clients and stores shared by every cycle.
// It is built once at startup.
type Session struct {
	Config   config.Config
	EVM      *clients.EVMClient
	AO       *clients.AOClient
	Ledger   *ledger.CSVLedger
	Journal  *intents.Journal
	Notifier notifier.Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// NewSession dials the chains and opens local storage.
func NewSession(ctx context.Context, conf config.Config, logger *zap.Logger) (*Session, error) {
	evm, err := clients.DialEVM(ctx, conf.EthRPCURL, conf.EthPrivateKeyPath, conf.EthChainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to evm rpc")
	}

	signer, err := clients.NewWalletSigner(conf.AOWalletPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ao wallet")
	}
	ao := clients.NewAOClient(conf.AOCUURL, conf.AOMUURL, conf.ArweaveGraphQLURL, signer,
		clients.WithRateLimit(aoRequestsPerSecond, aoRequestBurst))

	csvLedger, err := ledger.New(conf.LedgerPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open transaction ledger")
	}

	journal, err := intents.Open(conf.JournalDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open submission journal")
	}

	var n notifier.Notifier = notifier.Nop{}
	if conf.Slack.Enabled {
		n = notifier.NewSlack(conf.Slack.BotToken, conf.Slack.Channel, logger)
	}

	logger.Info("session ready",
		zap.String("evm_wallet", evm.Address()),
		zap.String("ao_wallet", ao.Address()),
		zap.String("ledger", csvLedger.Path()),
		zap.Bool("slack", conf.Slack.Enabled))

	return &Session{
		Config:   conf,
		EVM:      evm,
		AO:       ao,
		Ledger:   csvLedger,
		Journal:  journal,
		Notifier: n,
		Metrics:  metrics.New(),
		Logger:   logger,
	}, nil
}

// Close releases the journal and the rpc connection.
func (s *Session) Close() error {
	var err error
	if s.Journal != nil {
		err = multierr.Append(err, s.Journal.Close())
	}
	if s.EVM != nil {
		s.EVM.Close()
	}
	return err
}
