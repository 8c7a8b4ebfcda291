package offset

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Policy names the branch an allocation pass took.
type Policy string

const (
	// PolicyNone is reported when the budget is not Spendable and nothing moved.
	PolicyNone Policy = "none"

	// PolicyTargeted offsets a single named node. Budget beyond that
	// node's outstanding balance is dropped, not redistributed.
	PolicyTargeted Policy = "targeted"

	// PolicyClientScoped offsets every node of the client in the given
	// order. Each node is measured against the full budget; the budget is
	// not decremented between nodes.
	PolicyClientScoped Policy = "client_scoped"

	// PolicyNetworkGreedy offsets network nodes from the highest
	// outstanding balance down, decrementing the budget as it goes.
	PolicyNetworkGreedy Policy = "network_greedy"
)

// noOpMessage is the report text for a zero budget.
const noOpMessage = "No emissions offset because offset amount is 0"

// Spendable reports whether budget can move any emissions. Zero, negative
// and non-finite budgets cannot.
func Spendable(budget float64) bool {
	return budget > 0 && !math.IsInf(budget, 1)
}

// NetworkSource lists every node in the network with its current
// outstanding emissions.
type NetworkSource interface {
	FetchNetworkEmissions(ctx context.Context) ([]Node, error)
}

// Entry records the amount offset on one node.
type Entry struct {
	Node   string  `json:"node"`
	Amount float64 `json:"amount"`
}

// Report describes the outcome of an allocation pass.
type Report struct {
	Policy   Policy  `json:"policy"`
	Budget   float64 `json:"budget"`
	Consumed float64 `json:"consumed"`
	Entries  []Entry `json:"entries"`

	// Nodes holds the post-allocation balances of every node the pass
	// touched, in allocation order.
	Nodes []Node `json:"nodes"`
}

// String renders one line per node, or the no-op message.
func (r Report) String() string {
	if r.Policy == PolicyNone {
		return noOpMessage
	}
	lines := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		lines = append(lines, fmt.Sprintf("Node %s: offset %g emissions", e.Node, e.Amount))
	}
	return strings.Join(lines, "\n")
}

func (r *Report) record(n *Node, amount float64) {
	r.Entries = append(r.Entries, Entry{Node: n.Name, Amount: amount})
	r.Nodes = append(r.Nodes, *n)
	r.Consumed += amount
}

// Allocator applies offset budgets to node sets. When the node set is
// empty it falls back to the network listing from its NetworkSource.
type Allocator struct {
	network NetworkSource
}

// NewAllocator creates an Allocator. network may be nil if callers never
// allocate against an empty node set.
func NewAllocator(network NetworkSource) *Allocator {
	return &Allocator{network: network}
}

// Allocate offsets budget against nodes, mutating them in place.
//
// Exactly one policy applies:
//   - budget not Spendable (zero, negative, NaN, +Inf): PolicyNone,
//     nothing changes.
//   - target != "": PolicyTargeted on the node named target. ErrNodeNotFound
//     if nodes has no such node.
//   - len(nodes) > 0: PolicyClientScoped over nodes in their given order.
//   - otherwise: PolicyNetworkGreedy over the network listing.
//
// The only error besides ErrNodeNotFound is a failed network fetch, which
// is returned wrapped with the operation name.
func (a *Allocator) Allocate(ctx context.Context, nodes []*Node, budget float64, target string) (Report, error) {
	if !Spendable(budget) {
		return Report{Policy: PolicyNone, Budget: budget}, nil
	}

	switch {
	case target != "":
		return allocateTargeted(nodes, budget, target)
	case len(nodes) > 0:
		return allocateClientScoped(nodes, budget), nil
	}

	if a.network == nil {
		return Report{}, fmt.Errorf("allocate offset: no network source configured")
	}
	listing, err := a.network.FetchNetworkEmissions(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("allocate offset: %w", err)
	}
	network := make([]*Node, 0, len(listing))
	for i := range listing {
		network = append(network, &listing[i])
	}
	return AllocateGreedy(network, budget), nil
}

func allocateTargeted(nodes []*Node, budget float64, target string) (Report, error) {
	for _, n := range nodes {
		if n.Name != target {
			continue
		}
		r := Report{Policy: PolicyTargeted, Budget: budget}
		r.record(n, n.consume(budget))
		return r, nil
	}
	return Report{}, fmt.Errorf("allocate offset: %q: %w", target, ErrNodeNotFound)
}

func allocateClientScoped(nodes []*Node, budget float64) Report {
	r := Report{Policy: PolicyClientScoped, Budget: budget}
	for _, n := range nodes {
		r.record(n, n.consume(budget))
	}
	return r
}

// AllocateGreedy drops nodes with no outstanding emissions, orders the rest
// by outstanding emissions descending (ties keep their input order) and
// offsets them one by one until the budget is spent. Nodes are mutated in
// place; the returned report lists only nodes that received an offset.
func AllocateGreedy(nodes []*Node, budget float64) Report {
	r := Report{Policy: PolicyNetworkGreedy, Budget: budget}
	if !Spendable(budget) {
		r.Policy = PolicyNone
		return r
	}

	ranked := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.OutstandingEmissions > 0 {
			ranked = append(ranked, n)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].OutstandingEmissions > ranked[j].OutstandingEmissions
	})

	remaining := budget
	for _, n := range ranked {
		if remaining <= 0 {
			break
		}
		amount := n.consume(remaining)
		remaining -= amount
		r.record(n, amount)
	}
	return r
}
