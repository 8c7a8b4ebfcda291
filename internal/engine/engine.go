// Package engine composes burn-rate tracking, emission conversion, the
// cumulative ledger and offset allocation behind a single owner of all
// per-key state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/burnrate"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/carbon"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/escrow"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/events"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/payments"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/status"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/timeseries"
)

// Config configures an Engine.
type Config struct {
	// Units are the monitored unit ids polled by PollOnce.
	Units []string

	// PollInterval is the time between polls. It scales the network
	// emission rate to a daily figure (default: 1h).
	PollInterval time.Duration

	// Concurrency bounds how many units are polled at once (default: 4).
	Concurrency int

	// HistoryLimit caps the burn-rate history per unit; 0 keeps every delta.
	HistoryLimit int

	Emissions carbon.ConverterConfig
}

// Engine is the emissions accounting and offset allocation engine.
type Engine struct {
	cfg       Config
	provider  status.Provider
	tracker   *burnrate.Tracker
	converter *carbon.Converter
	ledger    *carbon.Ledger
	allocator *offset.Allocator
	network   registryOverlay
	registry  *offset.Registry
	clients   *offset.Clients
	escrow    *escrow.Registry
	payments  *payments.Ledger
	publisher events.Publisher
	sink      timeseries.Sink
	logger    zerolog.Logger
	now       func() time.Time

	promRegistry *prometheus.Registry
	metrics      *metrics

	// allocMu serializes allocation passes: fetch, allocate and registry
	// merge happen as one unit so mass is conserved across a pass.
	allocMu sync.Mutex
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPublisher publishes allocation and payment events.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithSink records every poll cycle in a time series store.
func WithSink(s timeseries.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithPayments attaches the payments ledger used by OffsetForPayments and
// PurchaseOffset.
func WithPayments(l *payments.Ledger) Option {
	return func(e *Engine) { e.payments = l }
}

// WithClock overrides the wall clock used by the ledger and for events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine reading from provider.
func New(cfg Config, provider status.Provider, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("engine requires a status provider")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	e := &Engine{
		cfg:       cfg,
		provider:  provider,
		registry:  offset.NewRegistry(),
		clients:   offset.NewClients(),
		escrow:    escrow.NewRegistry(),
		publisher: events.NopPublisher{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.tracker = burnrate.NewTracker(cfg.HistoryLimit)
	e.converter = carbon.NewConverter(cfg.Emissions)
	e.ledger = carbon.NewLedger(carbon.WithClock(e.now))
	e.network = registryOverlay{provider: provider, registry: e.registry}
	e.allocator = offset.NewAllocator(e.network)
	e.promRegistry = prometheus.NewRegistry()
	e.metrics = newMetrics(e.promRegistry)
	e.logger = e.logger.With().Str("component", "engine").Logger()
	return e, nil
}

// Gatherer exposes the engine's metrics.
func (e *Engine) Gatherer() prometheus.Gatherer {
	return e.promRegistry
}

// Clients returns the client directory.
func (e *Engine) Clients() *offset.Clients {
	return e.clients
}

// Escrow returns the escrow registry.
func (e *Engine) Escrow() *escrow.Registry {
	return e.escrow
}

// Payments returns the payments ledger, or nil if none is attached.
func (e *Engine) Payments() *payments.Ledger {
	return e.payments
}

// UpdateBurnRate folds a new cycle reading for unitID into its rolling
// burn rate and returns the rate.
func (e *Engine) UpdateBurnRate(unitID string, reading uint64) float64 {
	rate := e.tracker.Update(unitID, reading)
	e.metrics.burnRate.WithLabelValues(unitID).Set(rate)
	return rate
}

// BurnRate returns the burn-rate state of unitID.
func (e *Engine) BurnRate(unitID string) (burnrate.Snapshot, bool) {
	return e.tracker.Snapshot(unitID)
}

// ConvertEmissions converts a cycle delta to energy and carbon.
func (e *Engine) ConvertEmissions(delta float64) carbon.EmissionSample {
	return e.converter.CarbonEmissions(delta)
}

// AccumulateDaily folds the entity's daily emission value into its
// cumulative total at most once every 24 hours and returns the total.
func (e *Engine) AccumulateDaily(entityID string, networkBurnRate, networkEmissionRate, entityBurnRate float64) float64 {
	total := e.ledger.Accumulate(entityID, networkBurnRate, networkEmissionRate, entityBurnRate)
	e.metrics.cumulative.WithLabelValues(entityID).Set(total)
	return total
}

// Emissions returns the emission window of entityID.
func (e *Engine) Emissions(entityID string) (carbon.Window, bool) {
	return e.ledger.Window(entityID)
}

// AllocateOffset offsets budget against nodes. With no nodes and no target
// the network listing is used. Allocated balances are merged into the node
// registry and the report is published. The registry never lowers a
// recorded offset, so caller-supplied nodes with stale balances cannot
// reopen emissions that were already offset.
func (e *Engine) AllocateOffset(ctx context.Context, nodes []*offset.Node, budget float64, target string) (offset.Report, error) {
	const operation = "AllocateOffset"
	traceID := getTraceID(ctx)
	start := time.Now()

	e.allocMu.Lock()
	report, err := e.allocator.Allocate(ctx, nodes, budget, target)
	if err == nil {
		e.registry.Merge("", report.Nodes...)
	}
	e.allocMu.Unlock()

	if err != nil {
		e.logError(traceID, operation, err)
		return offset.Report{}, err
	}
	e.finishAllocation(traceID, operation, "", report, start)
	return report, nil
}

// OffsetForClient offsets budget against the nodes of a registered client.
// The network listing is fetched once and filtered to the client's node
// ids. A client with no listed nodes falls back to a network-wide greedy
// pass over the same listing.
func (e *Engine) OffsetForClient(ctx context.Context, client string, budget float64, target string) (offset.Report, error) {
	const operation = "OffsetForClient"
	traceID := getTraceID(ctx)
	start := time.Now()

	entry, err := e.clients.Get(client)
	if err != nil {
		err = fmt.Errorf("offset emissions: %w", err)
		e.logError(traceID, operation, err)
		return offset.Report{}, err
	}

	e.allocMu.Lock()
	report, owner, err := e.offsetForClientLocked(ctx, entry, budget, target)
	e.allocMu.Unlock()

	if err != nil {
		err = fmt.Errorf("offset emissions: %w", err)
		e.logError(traceID, operation, err)
		return offset.Report{}, err
	}
	e.finishAllocation(traceID, operation, owner, report, start)
	return report, nil
}

func (e *Engine) offsetForClientLocked(ctx context.Context, entry offset.ClientEntry, budget float64, target string) (offset.Report, string, error) {
	if !offset.Spendable(budget) {
		return offset.Report{Policy: offset.PolicyNone, Budget: budget}, entry.Name, nil
	}

	listing, err := e.network.FetchNetworkEmissions(ctx)
	if err != nil {
		return offset.Report{}, "", err
	}

	client := offset.Resolve(entry, listing)
	if len(client.Nodes) == 0 && target == "" {
		network := make([]*offset.Node, 0, len(listing))
		for i := range listing {
			network = append(network, &listing[i])
		}
		report := offset.AllocateGreedy(network, budget)
		e.registry.Merge("", report.Nodes...)
		return report, "", nil
	}

	report, err := e.allocator.Allocate(ctx, client.Nodes, budget, target)
	if err != nil {
		return offset.Report{}, "", err
	}
	e.registry.Merge(client.Name, report.Nodes...)
	return report, client.Name, nil
}

// OffsetForPayments converts settled payments into an offset budget and
// applies it to client's nodes.
func (e *Engine) OffsetForPayments(ctx context.Context, client string, settled []payments.Payment, target string) (offset.Report, error) {
	if e.payments == nil {
		return offset.Report{}, errors.New("offset emissions: no payments ledger configured")
	}
	return e.OffsetForClient(ctx, client, e.payments.OffsetBudget(settled), target)
}

// PurchaseOffset registers a purchase of tickets by client and offsets the
// purchased budget against the client's nodes. The payment stands even if
// the allocation fails; the error is returned alongside it.
func (e *Engine) PurchaseOffset(ctx context.Context, client string, tickets uint64, target string) (payments.Payment, offset.Report, error) {
	if e.payments == nil {
		return payments.Payment{}, offset.Report{}, errors.New("purchase offset: no payments ledger configured")
	}

	payment, err := e.payments.Register(ctx, client, tickets)
	if err != nil {
		e.logError(getTraceID(ctx), "PurchaseOffset", err)
		return payments.Payment{}, offset.Report{}, err
	}
	e.metrics.payments.Inc()
	if err := e.publisher.PublishPayment(events.PaymentEvent{Timestamp: e.now(), Payment: payment}); err != nil {
		e.metrics.publishFailures.Inc()
		e.logger.Warn().Err(err).Uint64("payment_id", payment.ID).Msg("failed to publish payment event")
	}

	report, err := e.OffsetForPayments(ctx, client, []payments.Payment{payment}, target)
	return payment, report, err
}

// Node returns the latest recorded balance of a node.
func (e *Engine) Node(name string) (offset.Record, bool) {
	return e.registry.Node(name)
}

// ClientNodes returns recorded balances of nodes whose client name starts
// with prefix.
func (e *Engine) ClientNodes(prefix string) []offset.Record {
	return e.registry.ByClientPrefix(prefix)
}

// Nodes returns every recorded node balance.
func (e *Engine) Nodes() []offset.Record {
	return e.registry.All()
}

// statusFetcher is implemented by providers that expose full unit status.
type statusFetcher interface {
	FetchStatus(ctx context.Context, unitID string) (status.UnitStatus, error)
}

// UnitStatus returns the status snapshot of unitID. It returns
// errors.ErrUnsupported if the provider only reports consumption.
func (e *Engine) UnitStatus(ctx context.Context, unitID string) (status.UnitStatus, error) {
	f, ok := e.provider.(statusFetcher)
	if !ok {
		return status.UnitStatus{}, fmt.Errorf("unit status: %w", errors.ErrUnsupported)
	}
	st, err := f.FetchStatus(ctx, unitID)
	if err != nil {
		return status.UnitStatus{}, fmt.Errorf("unit status: %w", err)
	}
	return st, nil
}

func (e *Engine) finishAllocation(traceID, operation, client string, report offset.Report, start time.Time) {
	elapsed := time.Since(start)
	e.metrics.allocations.WithLabelValues(string(report.Policy)).Inc()
	e.metrics.offsetKg.Add(report.Consumed)
	e.metrics.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())

	err := e.publisher.PublishAllocation(events.AllocationEvent{
		Timestamp: e.now(),
		TraceID:   traceID,
		Client:    client,
		Report:    report,
	})
	if err != nil {
		e.metrics.publishFailures.Inc()
		e.logger.Warn().
			Str(FieldTraceID, traceID).
			Str(FieldOperation, operation).
			Err(err).
			Msg("failed to publish allocation event")
	}

	e.logger.Info().
		Str(FieldTraceID, traceID).
		Str(FieldOperation, operation).
		Str("client", client).
		Str("policy", string(report.Policy)).
		Float64("budget", report.Budget).
		Float64("consumed", report.Consumed).
		Int("nodes", len(report.Entries)).
		Int64(FieldDurationMs, elapsed.Milliseconds()).
		Msg("offset allocated")
}

func (e *Engine) logError(traceID, operation string, err error) {
	e.logger.Error().
		Str(FieldTraceID, traceID).
		Str(FieldOperation, operation).
		Err(err).
		Msg("operation failed")
}
