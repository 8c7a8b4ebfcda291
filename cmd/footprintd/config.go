package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/carbon"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/contribution"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/events"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/status"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/timeseries"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/web"
)

// envPrefix prefixes every environment override.
const envPrefix = "FOOTPRINT_"

// Config is the daemon configuration. It is read from YAML and then
// overridden from FOOTPRINT_* environment variables.
type Config struct {
	Status       status.Config          `yaml:"status"`
	Poll         PollConfig             `yaml:"poll"`
	BurnRate     BurnRateConfig         `yaml:"burnrate"`
	Emissions    carbon.ConverterConfig `yaml:"emissions"`
	Payments     PaymentsConfig         `yaml:"payments"`
	Contribution contribution.Config    `yaml:"contribution"`
	MQTT         events.Config          `yaml:"mqtt"`
	NATS         events.NATSConfig      `yaml:"nats"`
	Influx       timeseries.Config      `yaml:"influx"`
	HTTP         HTTPConfig             `yaml:"http"`
	Log          LogConfig              `yaml:"log"`

	// Clients seeds the client directory at startup.
	Clients []ClientConfig `yaml:"clients"`
}

// PollConfig controls the unit poll loop.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Units       []string      `yaml:"units"`
}

// BurnRateConfig controls burn-rate history retention.
type BurnRateConfig struct {
	// HistoryLimit caps deltas kept per unit; 0 keeps every delta.
	HistoryLimit int `yaml:"history_limit"`
}

// PaymentsConfig prices offset tickets.
type PaymentsConfig struct {
	// TicketPrice is a decimal string, e.g. "0.25".
	TicketPrice string  `yaml:"ticket_price"`
	KgPerTicket float64 `yaml:"kg_per_ticket"`
}

// HTTPConfig configures the query API.
type HTTPConfig struct {
	Addr      string              `yaml:"addr"`
	RateLimit web.RateLimitConfig `yaml:"rate_limit"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ClientConfig is a client and its node ids.
type ClientConfig struct {
	Name    string   `yaml:"name"`
	NodeIDs []string `yaml:"node_ids"`
}

func defaultConfig() Config {
	return Config{
		Status: status.Config{
			Timeout: 10 * time.Second,
		},
		Poll: PollConfig{
			Interval:    time.Hour,
			Concurrency: 4,
		},
		Emissions: carbon.DefaultConverterConfig(),
		Payments: PaymentsConfig{
			TicketPrice: "0",
			KgPerTicket: 1,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info"},
	}
}

// loadConfig reads path (if non-empty) over the defaults, applies
// environment overrides and validates the result.
func loadConfig(path string, logger zerolog.Logger) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg, logger)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides cfg from the environment. Values that fail to parse
// are logged and ignored.
func applyEnv(cfg *Config, logger zerolog.Logger) {
	envString("STATUS_BASE_URL", &cfg.Status.BaseURL)
	envString("STATUS_API_KEY", &cfg.Status.APIKey)
	envDuration("STATUS_TIMEOUT", &cfg.Status.Timeout, logger)
	envUint32("STATUS_BREAKER_FAILURES", &cfg.Status.Breaker.Failures, logger)
	envDuration("STATUS_BREAKER_COOLDOWN", &cfg.Status.Breaker.Cooldown, logger)

	envDuration("POLL_INTERVAL", &cfg.Poll.Interval, logger)
	envInt("POLL_CONCURRENCY", &cfg.Poll.Concurrency, logger)
	if units := os.Getenv(envPrefix + "POLL_UNITS"); units != "" {
		cfg.Poll.Units = splitList(units)
	}

	envInt("BURNRATE_HISTORY_LIMIT", &cfg.BurnRate.HistoryLimit, logger)

	envString("PAYMENTS_TICKET_PRICE", &cfg.Payments.TicketPrice)
	envFloat("PAYMENTS_KG_PER_TICKET", &cfg.Payments.KgPerTicket, logger)

	envString("CONTRIBUTION_BASE_URL", &cfg.Contribution.BaseURL)
	envString("CONTRIBUTION_API_KEY", &cfg.Contribution.APIKey)
	envString("CONTRIBUTION_PROJECT_ID", &cfg.Contribution.ProjectID)

	envString("MQTT_BROKER", &cfg.MQTT.Broker)
	envString("MQTT_TOPIC", &cfg.MQTT.Topic)
	envString("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)

	envString("NATS_URL", &cfg.NATS.URL)
	envString("NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix)

	envString("INFLUX_URL", &cfg.Influx.URL)
	envString("INFLUX_TOKEN", &cfg.Influx.Token)
	envString("INFLUX_ORG", &cfg.Influx.Org)
	envString("INFLUX_BUCKET", &cfg.Influx.Bucket)

	envString("HTTP_ADDR", &cfg.HTTP.Addr)
	envInt64("HTTP_RATE_LIMIT_RPS", &cfg.HTTP.RateLimit.RequestsPerSecond, logger)
	envInt64("HTTP_RATE_LIMIT_BURST", &cfg.HTTP.RateLimit.Burst, logger)

	envString("LOG_LEVEL", &cfg.Log.Level)
	if pretty := os.Getenv(envPrefix + "LOG_PRETTY"); pretty != "" {
		cfg.Log.Pretty = strings.ToLower(pretty) == "true"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, logger zerolog.Logger) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("value", v).Msgf("invalid %s%s, using configured value", envPrefix, key)
		return
	}
	*dst = parsed
}

func envInt64(key string, dst *int64, logger zerolog.Logger) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Warn().Str("value", v).Msgf("invalid %s%s, using configured value", envPrefix, key)
		return
	}
	*dst = parsed
}

func envUint32(key string, dst *uint32, logger zerolog.Logger) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	parsed, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		logger.Warn().Str("value", v).Msgf("invalid %s%s, using configured value", envPrefix, key)
		return
	}
	*dst = uint32(parsed)
}

func envFloat(key string, dst *float64, logger zerolog.Logger) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("value", v).Msgf("invalid %s%s, using configured value", envPrefix, key)
		return
	}
	*dst = parsed
}

func envDuration(key string, dst *time.Duration, logger zerolog.Logger) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("value", v).Msgf("invalid %s%s, using configured value", envPrefix, key)
		return
	}
	*dst = parsed
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Status.BaseURL == "" {
		errs = append(errs, errors.New("status.base_url is required"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval))
	}
	if c.Poll.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("poll.concurrency must be at least 1, got %d", c.Poll.Concurrency))
	}
	if c.BurnRate.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("burnrate.history_limit must not be negative, got %d", c.BurnRate.HistoryLimit))
	}
	if c.Emissions.KJPerCycle < 0 || c.Emissions.KWhDivisor < 0 || c.Emissions.CarbonKgPerKWh < 0 {
		errs = append(errs, errors.New("emissions factors must not be negative"))
	}
	if _, err := c.TicketPrice(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.RateLimit.RequestsPerSecond < 0 || c.HTTP.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("http.rate_limit values must not be negative"))
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		errs = append(errs, errors.New("influx.org and influx.bucket are required with influx.url"))
	}
	if c.Payments.KgPerTicket < 0 {
		errs = append(errs, fmt.Errorf("payments.kg_per_ticket must not be negative, got %g", c.Payments.KgPerTicket))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	for i, cl := range c.Clients {
		if cl.Name == "" {
			errs = append(errs, fmt.Errorf("clients[%d].name is required", i))
		}
	}
	return errors.Join(errs...)
}

// TicketPrice parses payments.ticket_price.
func (c Config) TicketPrice() (decimal.Decimal, error) {
	price, err := decimal.NewFromString(c.Payments.TicketPrice)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("payments.ticket_price %q: %w", c.Payments.TicketPrice, err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("payments.ticket_price %q must not be negative", c.Payments.TicketPrice)
	}
	return price, nil
}

// parseCORSConfig reads the CORS settings of the HTTP API from the
// environment.
func parseCORSConfig(logger zerolog.Logger) (web.CORSConfig, error) {
	var config web.CORSConfig

	if origins := os.Getenv(envPrefix + "CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range splitList(origins) {
			if o == "*" {
				config.AllowAll = true
				continue
			}
			config.AllowedOrigins = append(config.AllowedOrigins, o)
		}
		if config.AllowAll {
			logger.Warn().Msg("CORS wildcard origin (*) is insecure; use specific origins in production")
		}
	}

	if strings.ToLower(os.Getenv(envPrefix+"CORS_ALLOW_CREDENTIALS")) == "true" {
		config.AllowCredentials = true
	}

	if config.AllowAll && config.AllowCredentials {
		return web.CORSConfig{}, fmt.Errorf("cannot enable credentials with wildcard origin (*); security risk")
	}

	config.MaxAge = 86400
	if maxAgeStr := os.Getenv(envPrefix + "CORS_MAX_AGE"); maxAgeStr != "" {
		if parsed, err := strconv.Atoi(maxAgeStr); err == nil && parsed >= 0 {
			config.MaxAge = parsed
		} else {
			logger.Warn().Str("value", maxAgeStr).Msg("invalid FOOTPRINT_CORS_MAX_AGE, using default")
		}
	}

	logger.Debug().
		Strs("allowed_origins", config.AllowedOrigins).
		Bool("allow_all", config.AllowAll).
		Int("max_age", config.MaxAge).
		Msg("CORS configuration applied")

	return config, nil
}
