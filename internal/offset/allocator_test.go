package offset

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubNetwork is a NetworkSource returning a fixed listing or error.
type stubNetwork struct {
	nodes []Node
	err   error
	calls int
}

func (s *stubNetwork) FetchNetworkEmissions(context.Context) ([]Node, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out, nil
}

func totals(nodes []*Node) float64 {
	var sum float64
	for _, n := range nodes {
		sum += n.Total()
	}
	return sum
}

func TestAllocate_ZeroBudgetIsNoOp(t *testing.T) {
	net := &stubNetwork{}
	a := NewAllocator(net)
	nodes := []*Node{{Name: "a", OutstandingEmissions: 10}}

	for _, budget := range []float64{0, -5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		for _, target := range []string{"a", ""} {
			r, err := a.Allocate(context.Background(), nodes, budget, target)
			require.NoError(t, err)
			assert.Equal(t, PolicyNone, r.Policy)
			assert.Empty(t, r.Entries)
			assert.Equal(t, noOpMessage, r.String())
		}
		r, err := a.Allocate(context.Background(), nil, budget, "")
		require.NoError(t, err)
		assert.Equal(t, PolicyNone, r.Policy)
	}
	assert.Equal(t, 10.0, nodes[0].OutstandingEmissions)
	assert.Equal(t, 0.0, nodes[0].OffsetEmissions)
	assert.Equal(t, 0, net.calls)
}

func TestAllocateGreedy_UnspendableBudget(t *testing.T) {
	nodes := []*Node{{Name: "a", OutstandingEmissions: 10}, {Name: "b", OutstandingEmissions: 5}}

	for _, budget := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		r := AllocateGreedy(nodes, budget)
		assert.Equal(t, PolicyNone, r.Policy)
		assert.Empty(t, r.Entries)
	}
	for _, n := range nodes {
		assert.Equal(t, 0.0, n.OffsetEmissions, n.Name)
	}
}

func TestAllocate_TargetedDropsExcess(t *testing.T) {
	a := NewAllocator(&stubNetwork{})
	target := &Node{Name: "target", OutstandingEmissions: 100}
	other := &Node{Name: "other", OutstandingEmissions: 40}

	r, err := a.Allocate(context.Background(), []*Node{other, target}, 150, "target")
	require.NoError(t, err)

	assert.Equal(t, PolicyTargeted, r.Policy)
	assert.Equal(t, 0.0, target.OutstandingEmissions)
	assert.Equal(t, 100.0, target.OffsetEmissions)
	assert.Equal(t, 40.0, other.OutstandingEmissions, "excess is not applied elsewhere")
	assert.Equal(t, 0.0, other.OffsetEmissions)
	assert.Equal(t, 100.0, r.Consumed)
	assert.Equal(t, "Node target: offset 100 emissions", r.String())
}

func TestAllocate_TargetedPartial(t *testing.T) {
	a := NewAllocator(nil)
	n := &Node{Name: "n", OutstandingEmissions: 100, OffsetEmissions: 5}

	r, err := a.Allocate(context.Background(), []*Node{n}, 30, "n")
	require.NoError(t, err)
	assert.Equal(t, 70.0, n.OutstandingEmissions)
	assert.Equal(t, 35.0, n.OffsetEmissions)
	require.Len(t, r.Nodes, 1)
	assert.Equal(t, *n, r.Nodes[0])
}

func TestAllocate_TargetNotFound(t *testing.T) {
	net := &stubNetwork{}
	a := NewAllocator(net)
	n := &Node{Name: "n", OutstandingEmissions: 100}

	_, err := a.Allocate(context.Background(), []*Node{n}, 30, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Equal(t, 100.0, n.OutstandingEmissions)
	assert.Equal(t, 0, net.calls)
}

func TestAllocate_ClientScopedDoesNotDecrementBudget(t *testing.T) {
	net := &stubNetwork{}
	a := NewAllocator(net)
	nodes := []*Node{
		{Name: "small", OutstandingEmissions: 10},
		{Name: "large", OutstandingEmissions: 80},
		{Name: "clean", OutstandingEmissions: 0},
	}
	before := totals(nodes)

	r, err := a.Allocate(context.Background(), nodes, 50, "")
	require.NoError(t, err)

	assert.Equal(t, PolicyClientScoped, r.Policy)
	assert.Equal(t, 0.0, nodes[0].OutstandingEmissions)
	assert.Equal(t, 10.0, nodes[0].OffsetEmissions)
	assert.Equal(t, 30.0, nodes[1].OutstandingEmissions)
	assert.Equal(t, 50.0, nodes[1].OffsetEmissions)
	assert.Equal(t, 0.0, nodes[2].OffsetEmissions)
	assert.Equal(t, 60.0, r.Consumed, "each node drew against the full budget")
	assert.Equal(t, []Entry{{"small", 10}, {"large", 50}, {"clean", 0}}, r.Entries)
	assert.Equal(t, before, totals(nodes))
	assert.Equal(t, 0, net.calls)
}

func TestAllocate_NetworkGreedy(t *testing.T) {
	net := &stubNetwork{nodes: []Node{
		{Name: "C", OutstandingEmissions: 10},
		{Name: "Z", OutstandingEmissions: 0},
		{Name: "A", OutstandingEmissions: 50},
		{Name: "B", OutstandingEmissions: 30},
	}}
	a := NewAllocator(net)

	r, err := a.Allocate(context.Background(), nil, 60, "")
	require.NoError(t, err)

	assert.Equal(t, PolicyNetworkGreedy, r.Policy)
	assert.Equal(t, 1, net.calls)
	assert.Equal(t, 60.0, r.Consumed)
	assert.Equal(t, []Node{
		{Name: "A", OutstandingEmissions: 0, OffsetEmissions: 50},
		{Name: "B", OutstandingEmissions: 20, OffsetEmissions: 10},
	}, r.Nodes)
}

func TestAllocate_NetworkFetchError(t *testing.T) {
	upstream := errors.New("status provider unreachable")
	a := NewAllocator(&stubNetwork{err: upstream})

	_, err := a.Allocate(context.Background(), nil, 60, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, "allocate offset: status provider unreachable", err.Error())
}

func TestAllocate_NoNetworkSource(t *testing.T) {
	a := NewAllocator(nil)
	_, err := a.Allocate(context.Background(), nil, 60, "")
	assert.Error(t, err)
}

func TestAllocateGreedy(t *testing.T) {
	tests := []struct {
		name         string
		nodes        []*Node
		budget       float64
		wantConsumed float64
		wantOut      map[string]float64
		wantOffset   map[string]float64
	}{
		{
			name: "budget spread over the two largest",
			nodes: []*Node{
				{Name: "A", OutstandingEmissions: 50},
				{Name: "B", OutstandingEmissions: 30},
				{Name: "C", OutstandingEmissions: 10},
			},
			budget:       60,
			wantConsumed: 60,
			wantOut:      map[string]float64{"A": 0, "B": 20, "C": 10},
			wantOffset:   map[string]float64{"A": 50, "B": 10, "C": 0},
		},
		{
			name: "budget larger than network",
			nodes: []*Node{
				{Name: "A", OutstandingEmissions: 5},
				{Name: "B", OutstandingEmissions: 7},
			},
			budget:       100,
			wantConsumed: 12,
			wantOut:      map[string]float64{"A": 0, "B": 0},
			wantOffset:   map[string]float64{"A": 5, "B": 7},
		},
		{
			name: "unsorted input is ranked",
			nodes: []*Node{
				{Name: "low", OutstandingEmissions: 1},
				{Name: "high", OutstandingEmissions: 9},
			},
			budget:       9,
			wantConsumed: 9,
			wantOut:      map[string]float64{"low": 1, "high": 0},
			wantOffset:   map[string]float64{"low": 0, "high": 9},
		},
		{
			name:         "empty network",
			nodes:        nil,
			budget:       10,
			wantConsumed: 0,
			wantOut:      map[string]float64{},
			wantOffset:   map[string]float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := totals(tt.nodes)
			r := AllocateGreedy(tt.nodes, tt.budget)

			assert.Equal(t, tt.wantConsumed, r.Consumed)
			assert.LessOrEqual(t, r.Consumed, tt.budget)
			for _, n := range tt.nodes {
				assert.Equal(t, tt.wantOut[n.Name], n.OutstandingEmissions, n.Name)
				assert.Equal(t, tt.wantOffset[n.Name], n.OffsetEmissions, n.Name)
			}
			assert.Equal(t, before, totals(tt.nodes))
		})
	}
}

func TestAllocateGreedy_TiesKeepInputOrder(t *testing.T) {
	nodes := []*Node{
		{Name: "first", OutstandingEmissions: 10},
		{Name: "second", OutstandingEmissions: 10},
	}
	r := AllocateGreedy(nodes, 10)

	require.Len(t, r.Entries, 1)
	assert.Equal(t, "first", r.Entries[0].Node)
	assert.Equal(t, 10.0, nodes[1].OutstandingEmissions)
}
