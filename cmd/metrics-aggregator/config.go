package main

import (
	"errors"
	"flag"
	"os"
	"strings"
	"time"
)

// Config holds settings for the metrics aggregator server.
// Targets lists the base URLs of the footprintd instances to scrape,
// ListenAddr the listen address and Timeout the limit for one aggregation.
type Config struct {
	Targets     []string
	ListenAddr  string
	Timeout     time.Duration
	Concurrency int
}

func parseConfig(args []string) (*Config, error) {
	config := &Config{}
	fs := flag.NewFlagSet("metrics-aggregator", flag.ContinueOnError)

	targets := fs.String("targets", os.Getenv("FOOTPRINT_AGGREGATOR_TARGETS"),
		"Comma-separated footprintd base URLs to scrape")
	fs.StringVar(&config.ListenAddr, "listen", ":9090", "Address to listen on for metrics endpoint")
	fs.DurationVar(&config.Timeout, "timeout", 5*time.Second, "Timeout for scraping all targets")
	fs.IntVar(&config.Concurrency, "concurrency", 8, "Maximum targets scraped at once")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, t := range strings.Split(*targets, ",") {
		if t = strings.TrimRight(strings.TrimSpace(t), "/"); t != "" {
			config.Targets = append(config.Targets, t)
		}
	}
	if len(config.Targets) == 0 {
		return nil, errors.New("no scrape targets: set -targets or FOOTPRINT_AGGREGATOR_TARGETS")
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return config, nil
}
