// Command exchange boots the order book, matching engine, feed publisher,
// and submission facade, and blocks serving a Prometheus metrics endpoint
// until signalled.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/om-quantizer/tickhouse/internal/book"
	"github.com/om-quantizer/tickhouse/internal/config"
	"github.com/om-quantizer/tickhouse/internal/engine"
	"github.com/om-quantizer/tickhouse/internal/feed"
	"github.com/om-quantizer/tickhouse/internal/submission"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml/json/toml, read via viper)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.With().Str("service", "tickhouse").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading configuration")
	}

	ob := book.New(cfg.TickSize, cfg.InitialPrice)

	pub, err := feed.NewPublisher(cfg.UDPGroup, cfg.UDPPort, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("starting feed publisher")
	}
	defer pub.Close()

	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	eng := engine.New(engine.Config{
		Tick:                   cfg.TickSize,
		PriceMultiplier:        cfg.PriceMultiplier,
		StreamID:               cfg.StreamID,
		Token:                  cfg.Token,
		MaxDailyMovePercent:    cfg.MaxDailyMovePercent,
		BandExpansionIncrement: cfg.BandExpansionIncrement,
		TERPercent:             cfg.TERPercent,
		CircuitBreakerDuration: cfg.CircuitBreakerDuration,
		ClientSlippagePercent:  cfg.ClientSlippagePercent,
		BotSlippagePercent:     cfg.BotSlippagePercent,
	}, ob, cfg.InitialPrice, pub, metrics, logger)
	defer eng.Close()

	facade := submission.New(eng, logger)
	_ = facade // wired for agents/dispatcher to consume; not driven here.

	var t tomb.Tomb
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	t.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	t.Go(func() error {
		<-t.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-t.Dying():
		logger.Error().Err(t.Err()).Msg("service goroutine exited")
	}

	t.Kill(nil)
	if err := t.Wait(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}

	drained := ob.CancelAll()
	logger.Info().Int("orders_drained", drained).Msg("cancelled resting orders on shutdown")
}
