package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/timeseries"
)

// PollResult summarizes one poll cycle.
type PollResult struct {
	Polled int `json:"polled"`
	Failed int `json:"failed"`

	// NetworkBurnRate is the sum of every unit's burn rate after the cycle.
	NetworkBurnRate float64 `json:"network_burn_rate"`

	// NetworkEmissionRate is the network's daily carbon (kg) at that rate.
	NetworkEmissionRate float64 `json:"network_emission_rate"`
}

// PollOnce fetches the consumption of every configured unit, updates the
// burn rates and folds each polled unit's share of network emissions into
// the cumulative ledger.
//
// Units are polled concurrently up to Config.Concurrency. A failed fetch is
// logged and counted and its unit is skipped for this cycle; it is not
// retried. The only error returned is the context's.
func (e *Engine) PollOnce(ctx context.Context) (PollResult, error) {
	const operation = "PollOnce"
	traceID := getTraceID(ctx)
	start := time.Now()

	var (
		mu     sync.Mutex
		polled []string
		result PollResult
	)

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, unit := range e.cfg.Units {
		g.Go(func() error {
			reading, err := e.provider.FetchConsumption(ctx, unit)
			if err != nil {
				e.metrics.polls.WithLabelValues("failure").Inc()
				e.logger.Warn().
					Str(FieldTraceID, traceID).
					Str(FieldOperation, operation).
					Str("unit", unit).
					Err(err).
					Msg("unit poll failed")
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}

			rate := e.UpdateBurnRate(unit, reading)
			e.metrics.polls.WithLabelValues("success").Inc()
			e.logger.Debug().
				Str(FieldTraceID, traceID).
				Str("unit", unit).
				Uint64("reading", reading).
				Float64("burn_rate", rate).
				Msg("unit polled")

			mu.Lock()
			polled = append(polled, unit)
			result.Polled++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.NetworkBurnRate = e.tracker.NetworkRate()
	result.NetworkEmissionRate = e.networkDailyEmissions(result.NetworkBurnRate)
	sort.Strings(polled)
	rec := timeseries.PollRecord{
		Time:                e.now(),
		NetworkBurnRate:     result.NetworkBurnRate,
		NetworkEmissionRate: result.NetworkEmissionRate,
		Units:               make([]timeseries.UnitRecord, 0, len(polled)),
	}
	for _, unit := range polled {
		rate := e.tracker.Rate(unit)
		cumulative := e.AccumulateDaily(unit, result.NetworkBurnRate, result.NetworkEmissionRate, rate)
		rec.Units = append(rec.Units, timeseries.UnitRecord{
			UnitID:              unit,
			BurnRate:            rate,
			CumulativeEmissions: cumulative,
		})
	}
	if e.sink != nil {
		if err := e.sink.WritePoll(ctx, rec); err != nil {
			e.metrics.sinkFailures.Inc()
			e.logger.Warn().
				Str(FieldTraceID, traceID).
				Str(FieldOperation, operation).
				Err(err).
				Msg("failed to record poll cycle")
		}
	}

	elapsed := time.Since(start)
	e.metrics.pollDuration.Observe(elapsed.Seconds())
	e.logger.Info().
		Str(FieldTraceID, traceID).
		Str(FieldOperation, operation).
		Int("polled", result.Polled).
		Int("failed", result.Failed).
		Float64("network_burn_rate", result.NetworkBurnRate).
		Float64("network_emission_rate", result.NetworkEmissionRate).
		Int64(FieldDurationMs, elapsed.Milliseconds()).
		Msg("poll cycle complete")
	return result, nil
}

// networkDailyEmissions converts a per-interval network burn rate into the
// carbon emitted over a day at that rate.
func (e *Engine) networkDailyEmissions(networkBurnRate float64) float64 {
	perInterval := e.converter.CarbonEmissions(networkBurnRate).CarbonKg
	return perInterval * (float64(24*time.Hour) / float64(e.cfg.PollInterval))
}

// Run polls once immediately and then on every tick until ctx is done.
func (e *Engine) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		if _, err := e.PollOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
}
