// Polymarket Arbitrage Bot — prices crypto price-target prediction markets
// against options-implied probabilities and trades the difference.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires everything, waits for SIGINT/SIGTERM
//	pipeline/pipeline.go    — opportunity discovery: markets → claims → spots → vols → edges
//	parser/parser.go        — turns free-text market questions into structured price claims
//	prices/coingecko.go     — spot oracle: bulk prices, daily history, realized vol
//	volatility/deribit.go   — IV surfaces from the Deribit options chain, with default-vol fallback
//	volatility/feed.go      — live index-price WebSocket feed with auto-reconnect
//	probability/            — z-score and Black-Scholes delta models, one-touch rule, edge classifier
//	bot/machine.go          — trading state machine: marks, exits, gated entries, atomic persistence
//	executor/               — dry-run (paper) and live (CLOB FOK orders with L1/L2 auth) executors
//	store/store.go          — crash-safe JSON persistence of the bot state
//
// How it makes money:
//
//	Polymarket prices a claim like "Will Bitcoin hit $200k by Dec 31?" from
//	order flow; the options market prices the same event through implied
//	volatility. When the two disagree by more than the configured edge, the
//	bot sells the overpriced side (or buys the underpriced one) and unwinds
//	when the gap closes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polyarb/internal/bot"
	"polyarb/internal/config"
	"polyarb/internal/executor"
	"polyarb/internal/gamma"
	"polyarb/internal/parser"
	"polyarb/internal/pipeline"
	"polyarb/internal/prices"
	"polyarb/internal/store"
	"polyarb/internal/volatility"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional live index feed for the volatility provider's underlying price.
	var indexSource volatility.IndexSource
	if cfg.Volatility.LiveIndexFeed {
		feed := volatility.NewIndexFeed(cfg.API.DeribitWSURL, parser.Symbols(), logger)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("index feed stopped", "error", err)
			}
		}()
		defer feed.Close()
		indexSource = feed
	}

	// Wire the discovery pipeline
	gammaClient := gamma.NewClient(cfg.API.GammaBaseURL, logger)
	priceClient := prices.NewClient(cfg.API.OracleBaseURL, logger)
	volProvider := volatility.NewProvider(cfg.API.DeribitBaseURL, indexSource, logger)
	scanner := pipeline.New(gammaClient, priceClient, volProvider, pipeline.Options{
		Limit:              cfg.Pipeline.Limit,
		MaxConcurrency:     cfg.Pipeline.MaxConcurrency,
		Mode:               pipeline.VolMode(cfg.Volatility.Mode),
		RealizedWindowDays: cfg.Volatility.RealizedWindowDays,
	}, logger)

	// Pick the executor and its state file
	var (
		exec      executor.Executor
		stateFile string
	)
	if cfg.DryRun {
		exec = executor.NewDryRun()
		stateFile = store.PaperStateFile
		logger.Warn("DRY-RUN MODE — paper trading only, no real orders")
	} else {
		auth, err := executor.NewAuthSession(cfg.Wallet.PrivateKey, cfg.Wallet.ChainID, executor.Credentials{
			ApiKey:     cfg.API.ApiKey,
			Secret:     cfg.API.Secret,
			Passphrase: cfg.API.Passphrase,
		})
		if err != nil {
			logger.Error("failed to build auth session", "error", err)
			os.Exit(1)
		}
		exec = executor.NewLive(executor.NewCLOBClient(cfg.API.CLOBBaseURL, auth, logger), logger)
		stateFile = store.LiveStateFile
		logger.Info("live trading enabled", "address", auth.Address().Hex())
	}

	st := store.Open(cfg.Store.DataDir, stateFile)
	machine, err := bot.New(cfg.Trading, scanner, exec, st, logger)
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	logger.Info("arbitrage bot started",
		"executor", exec.Name(),
		"min_edge", cfg.Trading.MinEdgeToEnter,
		"max_exposure", cfg.Trading.MaxTotalExposure,
		"poll_interval", cfg.Trading.PollInterval,
		"state_file", st.Path(),
	)

	if err := machine.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
