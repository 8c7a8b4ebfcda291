// Package benchmark provides performance benchmarks for the emissions
// accounting and offset allocation paths.
//
// Allocation passes run under the engine's allocation lock, so they must
// stay well below the poll interval even for large node sets.
//
// Run with: go test ./test/benchmark/... -bench=. -benchmem
package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/burnrate"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/carbon"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
)

const (
	// maxLatencyMs is the maximum acceptable latency in milliseconds.
	maxLatencyMs = 100

	// largeNetwork is the node count used for allocation benchmarks.
	largeNetwork = 10_000
)

type staticNetwork []offset.Node

func (s staticNetwork) FetchNetworkEmissions(context.Context) ([]offset.Node, error) {
	out := make([]offset.Node, len(s))
	copy(out, s)
	return out, nil
}

func makeNetwork(n int) staticNetwork {
	nodes := make(staticNetwork, n)
	for i := range nodes {
		nodes[i] = offset.Node{
			Name:                 fmt.Sprintf("node-%05d", i),
			OutstandingEmissions: float64((i*7919)%1000) + 0.5,
		}
	}
	return nodes
}

func pointers(nodes []offset.Node) []*offset.Node {
	out := make([]*offset.Node, len(nodes))
	for i := range nodes {
		out[i] = &nodes[i]
	}
	return out
}

// BenchmarkCarbonEmissions measures the cycles to kgCO2e conversion.
func BenchmarkCarbonEmissions(b *testing.B) {
	conv := carbon.NewConverter(carbon.DefaultConverterConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conv.CarbonEmissions(float64(i) * 1e9)
	}
}

// BenchmarkLedgerAccumulate measures the gated daily fold across many entities.
func BenchmarkLedgerAccumulate(b *testing.B) {
	ledger := carbon.NewLedger()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ledger.Accumulate(fmt.Sprintf("entity-%d", i%1000), 1e12, 50, 1e9)
	}
}

// BenchmarkTrackerUpdate measures burn-rate bookkeeping with a bounded history.
func BenchmarkTrackerUpdate(b *testing.B) {
	tracker := burnrate.NewTracker(96)
	reading := uint64(1 << 40)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reading -= 1000
		tracker.Update("unit-a", reading)
	}
}

// BenchmarkAllocateGreedy measures a network-wide greedy pass.
func BenchmarkAllocateGreedy(b *testing.B) {
	network := makeNetwork(largeNetwork)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		nodes, _ := network.FetchNetworkEmissions(context.Background())
		b.StartTimer()
		offset.AllocateGreedy(pointers(nodes), 250_000)
	}
}

// BenchmarkAllocateClientScoped measures a client-scoped pass.
func BenchmarkAllocateClientScoped(b *testing.B) {
	network := makeNetwork(largeNetwork)
	alloc := offset.NewAllocator(network)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		nodes, _ := network.FetchNetworkEmissions(context.Background())
		b.StartTimer()
		_, _ = alloc.Allocate(context.Background(), pointers(nodes[:100]), 50, "")
	}
}

// BenchmarkRegistryMerge measures recording a full allocation result.
func BenchmarkRegistryMerge(b *testing.B) {
	network := makeNetwork(largeNetwork)
	registry := offset.NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		registry.Merge("client", network...)
	}
}

// TestLatencyRequirement_NetworkGreedy verifies a greedy pass over a large
// network meets the latency limit.
func TestLatencyRequirement_NetworkGreedy(t *testing.T) {
	alloc := offset.NewAllocator(makeNetwork(largeNetwork))

	start := time.Now()
	report, err := alloc.Allocate(context.Background(), nil, 250_000, "")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if report.Policy != offset.PolicyNetworkGreedy {
		t.Fatalf("policy = %s, want %s", report.Policy, offset.PolicyNetworkGreedy)
	}
	if elapsed.Milliseconds() > maxLatencyMs {
		t.Errorf("network greedy allocation took %v, exceeds %dms limit", elapsed, maxLatencyMs)
	}
}

// TestLatencyRequirement_Registry verifies merging and prefix queries over a
// large registry meet the latency limit.
func TestLatencyRequirement_Registry(t *testing.T) {
	registry := offset.NewRegistry()

	start := time.Now()
	registry.Merge("acme", makeNetwork(largeNetwork)...)
	recs := registry.ByClientPrefix("ac")
	elapsed := time.Since(start)

	if len(recs) != largeNetwork {
		t.Fatalf("ByClientPrefix returned %d records, want %d", len(recs), largeNetwork)
	}
	if elapsed.Milliseconds() > maxLatencyMs {
		t.Errorf("registry merge and query took %v, exceeds %dms limit", elapsed, maxLatencyMs)
	}
}
