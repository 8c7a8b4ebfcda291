// Command footprintd polls monitored units, accounts their carbon emissions
// and serves the offset allocation API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/contribution"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/engine"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/events"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/payments"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/status"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/timeseries"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv(envPrefix+"CONFIG"), "Path to the YAML config file")
	flag.Parse()

	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "footprintd").Logger()
	cfg, err := loadConfig(*configPath, bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.Log)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("footprintd stopped")
	}
}

func newLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "footprintd").Logger()
}

func run(cfg Config, logger zerolog.Logger) error {
	provider, err := status.NewHTTPProvider(cfg.Status, logger)
	if err != nil {
		return err
	}

	var (
		engineOpts = []engine.Option{engine.WithLogger(logger)}
		webOpts    = []web.Option{web.WithLogger(logger)}
		ledgerOpts = []payments.Option{payments.WithLogger(logger)}
	)

	if cfg.Contribution.BaseURL != "" {
		contributions, err := contribution.NewClient(cfg.Contribution, logger)
		if err != nil {
			return err
		}
		ledgerOpts = append(ledgerOpts, payments.WithContributionPoster(contributions))
		webOpts = append(webOpts, web.WithContributions(contributions))
	}

	price, err := cfg.TicketPrice()
	if err != nil {
		return err
	}
	ledger, err := payments.NewLedger(
		payments.Config{TicketPrice: price, KgPerTicket: cfg.Payments.KgPerTicket},
		payments.NewTrustedTransferer(0),
		ledgerOpts...,
	)
	if err != nil {
		return err
	}
	engineOpts = append(engineOpts, engine.WithPayments(ledger))

	hub := events.NewHub()
	publishers := events.Multi{hub}
	if cfg.MQTT.Broker != "" {
		publisher, err := events.NewRealPublisher(cfg.MQTT)
		if err != nil {
			return err
		}
		publishers = append(publishers, publisher)
		logger.Info().Str("broker", cfg.MQTT.Broker).Msg("publishing events to MQTT")
	}
	if cfg.NATS.URL != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATS)
		if err != nil {
			_ = publishers.Close()
			return err
		}
		publishers = append(publishers, publisher)
		logger.Info().Str("url", cfg.NATS.URL).Msg("publishing events to NATS")
	}
	defer func() {
		if err := publishers.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close event publishers")
		}
	}()
	engineOpts = append(engineOpts, engine.WithPublisher(publishers))
	webOpts = append(webOpts, web.WithEventHub(hub))

	if cfg.Influx.URL != "" {
		sink, err := timeseries.NewInfluxSink(cfg.Influx)
		if err != nil {
			return err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close time series sink")
			}
		}()
		engineOpts = append(engineOpts, engine.WithSink(sink))
		logger.Info().Str("url", cfg.Influx.URL).Str("bucket", cfg.Influx.Bucket).Msg("recording poll cycles")
	}

	eng, err := engine.New(engine.Config{
		Units:        cfg.Poll.Units,
		PollInterval: cfg.Poll.Interval,
		Concurrency:  cfg.Poll.Concurrency,
		HistoryLimit: cfg.BurnRate.HistoryLimit,
		Emissions:    cfg.Emissions,
	}, provider, engineOpts...)
	if err != nil {
		return err
	}
	for _, c := range cfg.Clients {
		eng.Clients().Add(c.Name, c.NodeIDs)
	}

	cors, err := parseCORSConfig(logger)
	if err != nil {
		return err
	}
	webOpts = append(webOpts, web.WithCORS(cors), web.WithRateLimit(cfg.HTTP.RateLimit))
	server := web.New(cfg.HTTP.Addr, eng, webOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("serving HTTP API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(cfg.Poll.Interval)
	defer ticker.Stop()
	go func() {
		logger.Info().
			Strs("units", cfg.Poll.Units).
			Dur("interval", cfg.Poll.Interval).
			Msg("polling units")
		errCh <- eng.Run(ctx, ticker.C)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}
	stop()

	// Closing the hub ends open event streams, which Shutdown does not wait for.
	_ = hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
	return runErr
}
