// Package offset distributes carbon-offset budgets across nodes and keeps
// the resulting per-node balances.
package offset

import "errors"

var (
	// ErrNodeNotFound is returned when a targeted node is not part of the node set.
	ErrNodeNotFound = errors.New("node not found")

	// ErrClientNotFound is returned when a client name is not registered.
	ErrClientNotFound = errors.New("client not found")
)

// Node is the emission balance of one node, in kgCO2e.
type Node struct {
	Name string `json:"name"`

	// OutstandingEmissions is the carbon not yet offset.
	OutstandingEmissions float64 `json:"outstanding_emissions"`

	// OffsetEmissions is the carbon already offset.
	OffsetEmissions float64 `json:"offset_emissions"`
}

// Total returns outstanding plus offset emissions. An allocation pass
// never changes it.
func (n Node) Total() float64 {
	return n.OutstandingEmissions + n.OffsetEmissions
}

// consume moves min(budget, outstanding) from outstanding to offset and
// returns the amount moved.
func (n *Node) consume(budget float64) float64 {
	amount := min(budget, n.OutstandingEmissions)
	if !(amount > 0) {
		return 0
	}
	n.OutstandingEmissions -= amount
	n.OffsetEmissions += amount
	return amount
}

// Client groups the nodes a client is attached to.
type Client struct {
	Name  string  `json:"name"`
	Nodes []*Node `json:"nodes"`
}
