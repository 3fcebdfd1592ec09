// Command topup keeps an AO wallet's token balance above a floor. On every
// scheduled cycle it buys the token on an EVM chain with a stablecoin, bridges
// it to AO and forwards it to the target wallet.
//
// Usage:
//
//	topup --config config.yaml
//	topup (reads the environment and an optional .env file)
//
// Required settings:
//
//	ETH_RPC_URL, ETH_PRIVATE_KEY_PATH, AO_WALLET_PATH, TARGET_WALLET,
//	SOURCE_TOKEN_ADDRESS, TARGET_TOKEN_ADDRESS, TARGET_TOKEN_PROCESS_ID,
//	MIN_BALANCE, TARGET_BALANCE
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vadiminshakov/topup/config"
	"github.com/vadiminshakov/topup/internal"
	"github.com/vadiminshakov/topup/internal/web"
)

func main() {
	conf, err := config.Get()
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, "invalid configuration:")
			for _, problem := range cfgErr.Problems() {
				fmt.Fprintln(os.Stderr, "  -", problem)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	logger, err := newLogger(conf.LogLevel, conf.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, logger); err != nil {
		logger.Error("topup stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("topup stopped")
}

func run(ctx context.Context, conf config.Config, logger *zap.Logger) error {
	session, err := internal.NewSession(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close session", zap.Error(err))
		}
	}()

	bot, err := internal.NewTopUpBot(session)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(ctx)
	})

	if conf.MetricsAddr != "" {
		srv := web.NewServer(conf.MetricsAddr, session.Metrics.Handler(), bot, logger)
		g.Go(func() error {
			return errors.Wrap(srv.Start(ctx), "ops server")
		})
	}

	return g.Wait()
}

// newLogger builds a production logger at level. When file is set, JSON logs
// are also written there with rotation.
func newLogger(level, file string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	if file == "" {
		return logger, nil
	}

	rotating := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), rotating, cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}
