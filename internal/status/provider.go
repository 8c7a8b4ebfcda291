// Package status fetches consumption and emission readings from the remote
// status API and normalizes them for the accounting engine.
package status

import (
	"context"
	"fmt"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
)

// Provider is the boundary between the accounting engine and the status
// API. Implementations must not retry; retry policy belongs to callers.
type Provider interface {
	// FetchConsumption returns the current cycle balance of a unit.
	FetchConsumption(ctx context.Context, unitID string) (uint64, error)

	// FetchNetworkEmissions lists every node with its outstanding emissions.
	FetchNetworkEmissions(ctx context.Context) ([]offset.Node, error)
}

// UnitState is the run state reported for a unit.
type UnitState string

const (
	UnitRunning  UnitState = "running"
	UnitStopping UnitState = "stopping"
	UnitStopped  UnitState = "stopped"
)

// UnitStatus is the full status snapshot of a monitored unit.
type UnitStatus struct {
	UnitID     string    `json:"unit_id"`
	State      UnitState `json:"status"`
	Cycles     uint64    `json:"cycles"`
	MemorySize uint64    `json:"memory_size"`
	ModuleHash string    `json:"module_hash,omitempty"`
}

// FetchError is returned when the status API is unreachable, answers with a
// non-2xx status or sends a body that does not match the expected schema.
type FetchError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
