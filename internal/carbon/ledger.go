package carbon

import (
	"sort"
	"sync"
	"time"
)

// Window is the time-gated emission state of one entity.
type Window struct {
	EntityID string `json:"entity_id"`

	// LastCalculation is the Unix time in nanoseconds of the last fold.
	// Zero means the entity has never been folded.
	LastCalculation int64 `json:"last_calculation_ns"`

	// CumulativeEmissions is the running total in kgCO2e.
	CumulativeEmissions float64 `json:"cumulative_emissions"`
}

// CalculateEmissionRate attributes a share of the network emission rate to
// one entity in proportion to its burn rate. A zero network burn rate
// yields 0 rather than an error.
func CalculateEmissionRate(networkBurnRate, networkEmissionRate, entityBurnRate float64) float64 {
	if networkBurnRate == 0.0 {
		return 0.0
	}
	return (entityBurnRate * networkEmissionRate) / networkBurnRate
}

// Ledger keeps one Window per entity. Windows are created lazily and only
// mutated when at least RecalculationHours have elapsed since the last fold.
type Ledger struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*Window
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock replaces time.Now as the ledger's time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates an empty Ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		now:     time.Now,
		windows: make(map[string]*Window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Accumulate returns the cumulative emissions of entityID.
//
// The daily emission is CalculateEmissionRate(networkBurnRate,
// networkEmissionRate, entityBurnRate). When at least RecalculationHours
// whole hours have passed since the window's last fold it is added to the
// cumulative value and the window timestamp moves to now. Otherwise the
// cached value is returned and nothing changes.
func (l *Ledger) Accumulate(entityID string, networkBurnRate, networkEmissionRate, entityBurnRate float64) float64 {
	daily := CalculateEmissionRate(networkBurnRate, networkEmissionRate, entityBurnRate)
	now := l.now().UnixNano()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[entityID]
	if !ok {
		w = &Window{EntityID: entityID}
		l.windows[entityID] = w
	}

	hoursPassed := (now - w.LastCalculation) / NanosPerHour
	if hoursPassed < RecalculationHours {
		return w.CumulativeEmissions
	}

	w.CumulativeEmissions += daily
	w.LastCalculation = now
	return w.CumulativeEmissions
}

// Window returns a copy of the window for entityID.
func (l *Ledger) Window(entityID string) (Window, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[entityID]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Windows returns copies of all windows ordered by entity id.
func (l *Ledger) Windows() []Window {
	l.mu.Lock()
	out := make([]Window, 0, len(l.windows))
	for _, w := range l.windows {
		out = append(out, *w)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
