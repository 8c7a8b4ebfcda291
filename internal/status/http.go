package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
)

const (
	// emissionsPath lists every node with its total emissions.
	emissionsPath = "/nodes/getNodeEmissions"

	// unitStatusPath is formatted with the escaped unit id.
	unitStatusPath = "/units/%s/status"

	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 8 << 20

	apiKeyHeader = "api-key"
)

// Config configures an HTTPProvider.
type Config struct {
	// BaseURL is the status API root, e.g. "https://status.example.org".
	BaseURL string `yaml:"base_url"`

	// APIKey is sent in the api-key header when non-empty.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single request (default: 10s).
	Timeout time.Duration `yaml:"timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the status API.
// Once Failures consecutive requests fail, requests fail fast with a
// FetchError wrapping gobreaker.ErrOpenState until Cooldown has passed.
// Client errors (4xx) and canceled requests do not count as failures.
type BreakerConfig struct {
	// Failures trips the breaker; 0 disables it.
	Failures uint32 `yaml:"failures"`

	// Cooldown is how long the breaker stays open (default: 30s).
	Cooldown time.Duration `yaml:"cooldown"`
}

// HTTPProvider implements Provider against the status API over HTTP.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewHTTPProvider creates an HTTPProvider. It fails only when BaseURL is
// not an absolute http(s) URL.
func NewHTTPProvider(cfg Config, logger zerolog.Logger) (*HTTPProvider, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse status base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("status base url %q must be an absolute http(s) url", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	p := &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With().Str("component", "status").Logger(),
	}
	if cfg.Breaker.Failures > 0 {
		p.breaker = newBreaker(cfg.Breaker, p.logger)
	}
	return p, nil
}

func newBreaker(cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "status-api",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var fe *FetchError
			return errors.As(err, &fe) && fe.StatusCode >= 400 && fe.StatusCode < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("status api circuit breaker changed state")
		},
	})
}

// wireNode is one entry of the emissions listing. Pointers let the decoder
// tell a missing field from a zero value.
type wireNode struct {
	Name           *string  `json:"name"`
	TotalEmissions *float64 `json:"totalEmissions"`
}

type wireUnitStatus struct {
	Status     *string `json:"status"`
	Cycles     *uint64 `json:"cycles"`
	MemorySize *uint64 `json:"memory_size"`
	ModuleHash *string `json:"module_hash"`
}

// FetchNetworkEmissions implements Provider.
func (p *HTTPProvider) FetchNetworkEmissions(ctx context.Context) ([]offset.Node, error) {
	const op = "fetch network emissions"
	target := p.baseURL + emissionsPath

	var wire []wireNode
	if err := p.getJSON(ctx, op, target, &wire); err != nil {
		return nil, err
	}
	if wire == nil {
		return nil, &FetchError{Op: op, URL: target, Err: errors.New("expected a JSON array of nodes")}
	}

	nodes := make([]offset.Node, 0, len(wire))
	for i, w := range wire {
		if w.Name == nil || *w.Name == "" {
			return nil, &FetchError{Op: op, URL: target, Err: fmt.Errorf("entry %d: missing name", i)}
		}
		if w.TotalEmissions == nil {
			return nil, &FetchError{Op: op, URL: target, Err: fmt.Errorf("entry %d (%s): missing totalEmissions", i, *w.Name)}
		}
		nodes = append(nodes, offset.Node{
			Name:                 *w.Name,
			OutstandingEmissions: *w.TotalEmissions,
		})
	}

	p.logger.Debug().Int("nodes", len(nodes)).Msg("network emissions fetched")
	return nodes, nil
}

// FetchStatus returns the status snapshot of unitID.
func (p *HTTPProvider) FetchStatus(ctx context.Context, unitID string) (UnitStatus, error) {
	const op = "fetch unit status"
	target := p.baseURL + fmt.Sprintf(unitStatusPath, url.PathEscape(unitID))

	var wire wireUnitStatus
	if err := p.getJSON(ctx, op, target, &wire); err != nil {
		return UnitStatus{}, err
	}
	if wire.Cycles == nil {
		return UnitStatus{}, &FetchError{Op: op, URL: target, Err: errors.New("missing cycles")}
	}
	if wire.Status == nil {
		return UnitStatus{}, &FetchError{Op: op, URL: target, Err: errors.New("missing status")}
	}

	st := UnitStatus{
		UnitID: unitID,
		State:  UnitState(strings.ToLower(*wire.Status)),
		Cycles: *wire.Cycles,
	}
	switch st.State {
	case UnitRunning, UnitStopping, UnitStopped:
	default:
		return UnitStatus{}, &FetchError{Op: op, URL: target, Err: fmt.Errorf("unknown status %q", *wire.Status)}
	}
	if wire.MemorySize != nil {
		st.MemorySize = *wire.MemorySize
	}
	if wire.ModuleHash != nil {
		st.ModuleHash = *wire.ModuleHash
	}
	return st, nil
}

// FetchConsumption implements Provider.
func (p *HTTPProvider) FetchConsumption(ctx context.Context, unitID string) (uint64, error) {
	st, err := p.FetchStatus(ctx, unitID)
	if err != nil {
		return 0, err
	}
	return st.Cycles, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, op, target string, out any) error {
	if p.breaker == nil {
		return p.fetchJSON(ctx, op, target, out)
	}
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.fetchJSON(ctx, op, target, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &FetchError{Op: op, URL: target, Err: err}
	}
	return err
}

func (p *HTTPProvider) fetchJSON(ctx context.Context, op, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &FetchError{Op: op, URL: target, Err: err}
	}
	req.Header.Set("accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set(apiKeyHeader, p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return &FetchError{Op: op, URL: target, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &FetchError{Op: op, URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warn().
			Str("url", target).
			Int("status_code", resp.StatusCode).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("status api returned an error")
		return &FetchError{Op: op, URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Op: op, URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
