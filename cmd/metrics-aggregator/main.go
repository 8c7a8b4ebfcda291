// Command metrics-aggregator scrapes /metrics from several footprintd
// instances and serves them as one document.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var httpClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

var scrapeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "footprint",
	Subsystem: "aggregator",
	Name:      "scrape_failures_total",
	Help:      "Failed scrapes of footprintd instances.",
}, []string{"target"})

func main() {
	config, err := parseConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/metrics/aggregated", func(w http.ResponseWriter, r *http.Request) {
		aggregatedMetricsHandler(w, r, config)
	})

	server := &http.Server{
		Addr:    config.ListenAddr,
		Handler: mux,
	}

	shutdownDone := make(chan struct{})
	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
		<-signalChan

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
		}
		close(shutdownDone)
	}()

	log.Info().
		Str("addr", config.ListenAddr).
		Strs("targets", config.Targets).
		Msg("Starting metrics aggregator")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	<-shutdownDone
}

// aggregatedMetricsHandler scrapes every target concurrently and writes
// their bodies in target order, each under an instance comment. Failed
// targets are logged, counted and left out.
func aggregatedMetricsHandler(w http.ResponseWriter, r *http.Request, config *Config) {
	ctx, cancel := context.WithTimeout(r.Context(), config.Timeout)
	defer cancel()

	bodies := make([]string, len(config.Targets))

	var g errgroup.Group
	g.SetLimit(config.Concurrency)
	for i, target := range config.Targets {
		g.Go(func() error {
			metrics, err := fetchMetrics(ctx, target)
			if err != nil {
				scrapeFailures.WithLabelValues(target).Inc()
				log.Error().Err(err).Str("target", target).Msg("Failed to fetch metrics")
				return nil
			}
			bodies[i] = metrics
			return nil
		})
	}
	_ = g.Wait()

	var allMetrics strings.Builder
	for i, body := range bodies {
		if body == "" {
			continue
		}
		fmt.Fprintf(&allMetrics, "# instance: %s\n", config.Targets[i])
		allMetrics.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			allMetrics.WriteString("\n")
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(allMetrics.String())); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
		return
	}
}

func fetchMetrics(ctx context.Context, target string) (string, error) {
	url := target + "/metrics"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return string(body), nil
}
