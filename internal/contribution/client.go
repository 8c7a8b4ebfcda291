// Package contribution posts prepaid offset contributions to the carbon
// contribution API and queries past contributions.
package contribution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	prepaidPath      = "/api/v1/contribution/prepaid"
	contributionPath = "/api/v1/contribution"

	idempotencyHeader = "X-Cawa-IdempotencyKey"

	maxBodyBytes = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	ProjectID string `yaml:"project_id"`

	// OnBehalfOf is a fmt template applied to the entity id
	// (default: "cawa+%s@carboncrowd.io").
	OnBehalfOf string `yaml:"on_behalf_of"`

	// Unit and Currency describe the contribution amount
	// (defaults: "kilos", "EUR").
	Unit     string `yaml:"unit"`
	Currency string `yaml:"currency"`

	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to the contribution API.
type Client struct {
	cfg    Config
	http   *http.Client
	newKey func() string
	logger zerolog.Logger
}

// NewClient creates a Client, filling defaults for unset fields.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("contribution base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse contribution base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.OnBehalfOf == "" {
		cfg.OnBehalfOf = "cawa+%s@carboncrowd.io"
	}
	if cfg.Unit == "" {
		cfg.Unit = "kilos"
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		newKey: func() string { return uuid.New().String() },
		logger: logger.With().Str("component", "contribution").Logger(),
	}, nil
}

type prepaidRequest struct {
	Amount     uint64 `json:"amount"`
	OnBehalfOf string `json:"on_behalf_of"`
	Unit       string `json:"unit"`
	Currency   string `json:"currency"`
	Project    string `json:"project"`
}

type prepaidResponse struct {
	ID []string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Send records a prepaid contribution of amount units on behalf of entity
// and returns the contribution id. Each call carries a fresh idempotency key.
func (c *Client) Send(ctx context.Context, entity string, amount uint64) (string, error) {
	body, err := json.Marshal(prepaidRequest{
		Amount:     amount,
		OnBehalfOf: fmt.Sprintf(c.cfg.OnBehalfOf, entity),
		Unit:       c.cfg.Unit,
		Currency:   c.cfg.Currency,
		Project:    c.cfg.ProjectID,
	})
	if err != nil {
		return "", fmt.Errorf("encode contribution: %w", err)
	}

	key := c.newKey()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+prepaidPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("send contribution: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, key)

	respBody, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("send contribution: %w", err)
	}

	var parsed prepaidResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("send contribution: decode response: %w", err)
	}
	if len(parsed.ID) == 0 || parsed.ID[0] == "" {
		return "", errors.New("send contribution: response carries no contribution id")
	}

	c.logger.Info().
		Str("entity", entity).
		Uint64("amount", amount).
		Str("idempotency_key", key).
		Str("contribution_id", parsed.ID[0]).
		Msg("contribution recorded")
	return parsed.ID[0], nil
}

// List returns every contribution as raw JSON.
func (c *Client) List(ctx context.Context) (json.RawMessage, error) {
	return c.query(ctx, "list contributions", nil)
}

// ByEntity returns the contributions made on behalf of entity.
func (c *Client) ByEntity(ctx context.Context, entity string) (json.RawMessage, error) {
	return c.query(ctx, "list contributions by entity", url.Values{"entity": {fmt.Sprintf(c.cfg.OnBehalfOf, entity)}})
}

// ByID returns a single contribution.
func (c *Client) ByID(ctx context.Context, id string) (json.RawMessage, error) {
	return c.query(ctx, "get contribution", url.Values{"id": {id}})
}

func (c *Client) query(ctx context.Context, op string, params url.Values) (json.RawMessage, error) {
	target := c.cfg.BaseURL + contributionPath
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: response is not valid JSON", op)
	}
	return json.RawMessage(body), nil
}

// do sends req with authentication and returns the body of a 2xx response.
// Error responses are turned into errors carrying the API's message.
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := "Unknown error"
		var apiErr errorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		c.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("error", msg).
			Msg("contribution api returned an error")
		return nil, fmt.Errorf("contribution api error (status %d): %s", resp.StatusCode, msg)
	}
	return body, nil
}
