package internal

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/config"
	"github.com/vadiminshakov/topup/internal/services/bridge"
	"github.com/vadiminshakov/topup/internal/services/evmtx"
	"github.com/vadiminshakov/topup/internal/services/oracle"
	"github.com/vadiminshakov/topup/internal/services/pricer"
	"github.com/vadiminshakov/topup/internal/services/reporting"
	"github.com/vadiminshakov/topup/internal/services/topup"
	"github.com/vadiminshakov/topup/internal/services/trader"
	"github.com/vadiminshakov/topup/internal/services/transfer"
)

const aggregatorTimeout = 20 * time.Second

// swapStack is the quote source and the venue that executes against it.
type swapStack struct {
	quoter pricer.Quoter
	venue  trader.Venue
}

// newSwapStack dispatches on the configured venue.
func newSwapStack(conf config.Config, reserves pricer.ReservesReader, taker string) (swapStack, error) {
	switch conf.SwapVenue {
	case config.VenueUniswapV2:
		return swapStack{
			quoter: pricer.NewUniswapV2Quoter(reserves, conf.UniswapPair, conf.UniswapFeeBps),
			venue:  trader.NewUniswapV2Venue(conf.UniswapRouter, conf.SlippageTolerance),
		}, nil
	case config.VenueAggregator:
		httpClient := &http.Client{Timeout: aggregatorTimeout}
		return swapStack{
			quoter: pricer.NewAggregatorQuoter(httpClient, conf.AggregatorURL, conf.AggregatorAPIKey, taker, conf.SlippageTolerance),
			venue:  trader.AggregatorVenue{},
		}, nil
	default:
		return swapStack{}, fmt.Errorf("unsupported swap venue: %s", conf.SwapVenue)
	}
}

// settingsFromConfig maps configuration onto cycle settings.
func settingsFromConfig(conf config.Config) topup.Settings {
	return topup.Settings{
		TargetWallet:    conf.TargetWallet,
		SourceToken:     conf.SourceToken,
		SwapOutputToken: conf.SwapOutputToken,
		TargetToken:     conf.TargetToken,
		GasToken:        conf.GasToken,
		MinBalance:      conf.MinBalance,
		TargetBalance:   conf.TargetBalance,
		MinTransfer:     conf.MinTransfer,
		MaxPriceImpact:  conf.MaxPriceImpact,
		SwapBuffer:      conf.SwapBuffer,
		MinGasBalance:   conf.MinGasBalance,
		Bridge: bridge.WaitOptions{
			MaxWait:      conf.BridgeMaxWait,
			PollInterval: conf.BridgePollInterval,
			Tolerance:    conf.BridgeAmountTolerance,
			MaxAge:       conf.BridgeMaxCreditAge,
		},
		DryRun: conf.DryRun,
	}
}

// newOrchestrator assembles the cycle runner and the reporter it writes to.
func newOrchestrator(s *Session) (*topup.Orchestrator, *reporting.Reporter, error) {
	conf := s.Config
	logger := s.Logger

	stack, err := newSwapStack(conf, s.EVM, s.EVM.Address())
	if err != nil {
		return nil, nil, err
	}

	balances := oracle.New(s.EVM, s.AO)
	submitter := evmtx.New(s.EVM, s.Journal, logger)
	executor := trader.NewExecutor(stack.quoter, stack.venue, submitter, s.EVM, balances, conf.SettlementWait, logger)
	bridgeOps := bridge.New(conf.BridgeContract, conf.SwapOutputToken, conf.TargetToken, submitter, s.EVM, balances, s.AO, logger)
	transfers := transfer.NewRouter(s.AO, submitter, s.EVM, s.Journal, logger)
	reporter := reporting.New(s.Ledger, s.Notifier, s.Metrics, logger)

	wallets := topup.Wallets{EVM: s.EVM.Address(), AO: s.AO.Address()}
	orchestrator := topup.New(settingsFromConfig(conf), wallets, balances, stack.quoter, executor, bridgeOps, transfers, reporter, logger)

	logger.Info("orchestrator ready",
		zap.String("venue", conf.SwapVenue),
		zap.String("source", conf.SourceToken.Symbol),
		zap.String("target", conf.TargetToken.Symbol),
		zap.Bool("dry_run", conf.DryRun))
	return orchestrator, reporter, nil
}
