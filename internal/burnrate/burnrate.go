// Package burnrate keeps a rolling average of cycle consumption for every
// monitored unit.
//
// A unit's reading is expected to fall as it spends cycles. Each fall is a
// consumption delta; the burn rate is the mean of the retained deltas. A
// reading that does not fall (first sighting, top-up, reset or noise) only
// moves the baseline and never changes the rate.
package burnrate

import (
	"sort"
	"sync"
)

// State is the burn-rate state of one unit. The zero value is ready to use
// and retains every delta.
type State struct {
	mu sync.Mutex

	previousReading uint64
	history         []float64
	averageRate     float64

	// limit caps the retained history; 0 keeps everything.
	limit int
}

// Snapshot is a copy of a unit's State.
type Snapshot struct {
	UnitID          string    `json:"unit_id"`
	PreviousReading uint64    `json:"previous_reading"`
	DeltaHistory    []float64 `json:"delta_history"`
	AverageRate     float64   `json:"average_rate"`
}

// NewState creates a State retaining at most limit deltas (0 = unbounded).
func NewState(limit int) *State {
	if limit < 0 {
		limit = 0
	}
	return &State{limit: limit}
}

// Update feeds a new reading and returns the average rate after it.
func (s *State) Update(reading uint64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.previousReading == 0 || reading >= s.previousReading {
		s.previousReading = reading
		return s.averageRate
	}

	delta := float64(s.previousReading - reading)
	s.history = append(s.history, delta)
	if s.limit > 0 && len(s.history) > s.limit {
		// Drop the oldest entries, reusing the backing array.
		n := copy(s.history, s.history[len(s.history)-s.limit:])
		s.history = s.history[:n]
	}

	var sum float64
	for _, d := range s.history {
		sum += d
	}
	s.averageRate = sum / float64(len(s.history))
	s.previousReading = reading
	return s.averageRate
}

// Rate returns the current average rate.
func (s *State) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.averageRate
}

// LastDelta returns the most recent retained delta, if any.
func (s *State) LastDelta() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return 0, false
	}
	return s.history[len(s.history)-1], true
}

func (s *State) snapshot(unitID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]float64, len(s.history))
	copy(history, s.history)
	return Snapshot{
		UnitID:          unitID,
		PreviousReading: s.previousReading,
		DeltaHistory:    history,
		AverageRate:     s.averageRate,
	}
}

// Tracker owns the State of every monitored unit. Updates to different
// units proceed in parallel; updates to the same unit are serialized.
type Tracker struct {
	mu    sync.RWMutex
	units map[string]*State
	limit int
}

// NewTracker creates a Tracker whose unit states retain at most
// historyLimit deltas (0 = unbounded).
func NewTracker(historyLimit int) *Tracker {
	return &Tracker{
		units: make(map[string]*State),
		limit: historyLimit,
	}
}

// state returns the State for unitID, creating it on first use.
func (t *Tracker) state(unitID string) *State {
	t.mu.RLock()
	s, ok := t.units[unitID]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.units[unitID]; ok {
		return s
	}
	s = NewState(t.limit)
	t.units[unitID] = s
	return s
}

// Update feeds reading to unitID's state and returns its average rate.
func (t *Tracker) Update(unitID string, reading uint64) float64 {
	return t.state(unitID).Update(reading)
}

// Rate returns unitID's average rate. Unknown units report 0.
func (t *Tracker) Rate(unitID string) float64 {
	t.mu.RLock()
	s, ok := t.units[unitID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.Rate()
}

// LastDelta returns unitID's most recent retained delta.
func (t *Tracker) LastDelta(unitID string) (float64, bool) {
	t.mu.RLock()
	s, ok := t.units[unitID]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return s.LastDelta()
}

// Snapshot returns a copy of unitID's state.
func (t *Tracker) Snapshot(unitID string) (Snapshot, bool) {
	t.mu.RLock()
	s, ok := t.units[unitID]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(unitID), true
}

// NetworkRate returns the sum of every unit's average rate.
func (t *Tracker) NetworkRate() float64 {
	t.mu.RLock()
	states := make([]*State, 0, len(t.units))
	for _, s := range t.units {
		states = append(states, s)
	}
	t.mu.RUnlock()

	var total float64
	for _, s := range states {
		total += s.Rate()
	}
	return total
}

// Units returns the ids of all tracked units in sorted order.
func (t *Tracker) Units() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.units))
	for id := range t.units {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
