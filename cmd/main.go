package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/backtest"
	"github.com/amirphl/grid-trader/internal/bot"
	"github.com/amirphl/grid-trader/internal/config"
	"github.com/amirphl/grid-trader/internal/db"
	"github.com/amirphl/grid-trader/internal/exchange"
	"github.com/amirphl/grid-trader/internal/logging"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/notifier"
	"github.com/amirphl/grid-trader/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	storage, err := openStorage(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("opening storage failed")
	}
	defer storage.Close()

	var notify notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notify = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, 3, 5*time.Second)
	}

	switch cfg.Mode {
	case "backtest":
		if err := runBacktest(ctx, cfg, storage, notify, log); err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}
	default:
		if err := runLive(ctx, cfg, storage, notify, log); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("live trading failed")
		}
	}
}

func openStorage(cfg *config.Config, log zerolog.Logger) (db.Storage, error) {
	if cfg.DBConnStr == "" {
		log.Warn().Msg("no database configured, state will not survive restart")
		return db.NewMemory(), nil
	}
	return db.NewPostgres(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
}

func runLive(ctx context.Context, cfg *config.Config, storage db.Storage, notify notifier.Notifier, log zerolog.Logger) error {
	exch := exchange.NewWallexExchange(cfg.WallexAPIKey, log)
	acct := exchange.NewAccount(exch, storage, log)

	pool := bot.NewPool(cfg.Workers, cfg.QueueSize)
	defer pool.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, len(cfg.Bots))

	for _, bc := range cfg.Bots {
		eng, pair, err := buildEngine(bc, exch, acct, log)
		if err != nil {
			return fmt.Errorf("bot %q: %w", bc.Name, err)
		}

		b := bot.New(bot.Options{
			Name:      bc.Name,
			Engine:    eng,
			Storage:   storage,
			Tasks:     pool,
			Notifier:  notify,
			InboxSize: cfg.QueueSize,
			Log:       log,
		})

		stream := exchange.NewTickStream(pair, b, log)
		watcher := exchange.NewOrderWatcher(exch, storage, b, pair, 10*time.Second, log)

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := b.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("bot %q: %w", name, err)
			}
		}(bc.Name)

		go stream.Run(ctx)
		go watcher.Run(ctx)

		if bc.Trend != nil {
			// Trend engines consume 1m bars and fold coarser timeframes
			// themselves.
			poller := exchange.NewCandlePoller(exch, storage, b, pair, []string{"1m"}, log)
			go poller.Run(ctx)
		}

		log.Info().Str("bot", bc.Name).Str("pair", pair.String()).Str("type", bc.Type).Msg("bot launched")
	}

	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func buildEngine(bc config.BotConfig, exch strategy.OrderPlacer, acct strategy.AccountReader, log zerolog.Logger) (strategy.Engine, market.TradePair, error) {
	switch {
	case bc.Grid != nil:
		eng, err := strategy.NewGridEngine(*bc.Grid, exch, acct, log)
		if err != nil {
			return nil, market.TradePair{}, err
		}
		return eng, bc.Grid.Pair, nil
	case bc.Trend != nil:
		eng, err := strategy.NewTrendEngine(*bc.Trend, exch, acct, log)
		if err != nil {
			return nil, market.TradePair{}, err
		}
		return eng, bc.Trend.Pair, nil
	default:
		return nil, market.TradePair{}, &config.UnknownStrategyTypeError{Type: bc.Type}
	}
}

func runBacktest(ctx context.Context, cfg *config.Config, storage db.Storage, notify notifier.Notifier, log zerolog.Logger) error {
	from, err := cfg.Backtest.FromTime()
	if err != nil {
		return err
	}
	to, err := cfg.Backtest.ToTime()
	if err != nil {
		return err
	}
	fee, err := decimal.NewFromString(cfg.Backtest.FeePercent)
	if err != nil {
		return fmt.Errorf("fee percent: %w", err)
	}
	initialBase, err := decimal.NewFromString(cfg.Backtest.InitialBase)
	if err != nil {
		return fmt.Errorf("initial base: %w", err)
	}
	initialQuote, err := decimal.NewFromString(cfg.Backtest.InitialQuote)
	if err != nil {
		return fmt.Errorf("initial quote: %w", err)
	}

	runner := backtest.NewRunner(storage, log)
	for _, bc := range cfg.Bots {
		in := backtest.Input{
			From:            from,
			To:              to,
			Fee:             fee,
			FailIfKlineGaps: cfg.Backtest.FailIfKlineGaps,
			Timeframe:       cfg.Backtest.Timeframe,
			InitialBase:     initialBase,
			InitialQuote:    initialQuote,
			Grid:            bc.Grid,
			Trend:           bc.Trend,
		}
		report, err := runner.Run(ctx, in)
		if err != nil {
			return fmt.Errorf("bot %q: %w", bc.Name, err)
		}

		summary := fmt.Sprintf("Backtest %s\n%s", bc.Name, report.Summary())
		fmt.Println(summary)
		if err := notify.SendWithRetry(summary); err != nil {
			log.Warn().Err(err).Msg("sending backtest summary failed")
		}
	}
	return nil
}
