package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/FXUD/SCOA-DASH/internal/arbitrage"
	"github.com/FXUD/SCOA-DASH/internal/cache"
	"github.com/FXUD/SCOA-DASH/internal/collector"
	"github.com/FXUD/SCOA-DASH/internal/config"
	"github.com/FXUD/SCOA-DASH/internal/database"
	"github.com/FXUD/SCOA-DASH/internal/exchange"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := newLogger(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error("cannot connect to database", "error", err)
		os.Exit(1)
	}

	sink := database.NewPostgresSink(pool, logger)
	defer sink.Close()
	if err := sink.Migrate(ctx); err != nil {
		logger.Error("cannot migrate database", "error", err)
		os.Exit(1)
	}

	var priceCache *cache.PriceCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		priceCache = cache.NewPriceCache(client, logger)
		if err := priceCache.Ping(ctx); err != nil {
			logger.Warn("price cache unreachable, continuing without it", "error", err)
			priceCache = nil
		} else {
			defer priceCache.Close()
		}
	}

	calc := arbitrage.NewCalculator(logger, cfg.Arbitrage)
	col := collector.New(logger, &cfg, sink, priceCache, calc)

	if err := col.Initialize(ctx); err != nil {
		logger.Error("failed to initialize data collector", "error", err)
		os.Exit(1)
	}

	if cfg.DataCollection.StreamEnabled && priceCache != nil {
		if binanceCfg, ok := cfg.Exchanges["binance"]; ok && len(binanceCfg.Symbols) > 0 {
			stream := exchange.NewTickerStream(logger, binanceCfg.Symbols, priceCache)
			go func() {
				if err := stream.Run(ctx); err != nil {
					logger.Error("ticker stream stopped", "error", err)
				}
			}()
		}
	}

	logger.Info("starting data collection service")
	if err := col.Run(ctx); err != nil {
		logger.Error("error in data collection service", "error", err)
	}
	col.Stop()

	logger.Info("data collection service stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
