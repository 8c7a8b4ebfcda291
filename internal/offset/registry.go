package offset

import (
	"sort"
	"strings"
	"sync"
)

// Record is a registry entry: a node's latest balances and the client the
// node was last allocated for (empty for network-wide passes).
type Record struct {
	Client string `json:"client"`
	Node
}

// Registry keeps the latest balances of every node that took part in an
// allocation, keyed by node name.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Merge stores nodes under client, replacing existing records with the
// same node name and inserting the rest. An empty client keeps the client
// already recorded for a node.
//
// Offsets only grow: a node whose offset is below the recorded one keeps
// the recorded offset, and its outstanding balance is reduced so the
// node's total is unchanged.
func (r *Registry) Merge(client string, nodes ...Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range nodes {
		prev, ok := r.records[n.Name]
		if ok && prev.OffsetEmissions > n.OffsetEmissions {
			total := n.Total()
			n.OffsetEmissions = prev.OffsetEmissions
			n.OutstandingEmissions = max(total-n.OffsetEmissions, 0)
		}
		rec := Record{Client: client, Node: n}
		if client == "" {
			rec.Client = prev.Client
		}
		r.records[n.Name] = rec
	}
}

// Node returns the record for name.
func (r *Registry) Node(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// ByClientPrefix returns records whose client name starts with prefix,
// ordered by client then node name. An empty prefix matches every record.
func (r *Registry) ByClientPrefix(prefix string) []Record {
	r.mu.RLock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if strings.HasPrefix(rec.Client, prefix) {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	sortRecords(out)
	return out
}

// All returns every record, ordered by client then node name.
func (r *Registry) All() []Record {
	return r.ByClientPrefix("")
}

// OffsetOf returns the offset balance recorded for name, or 0.
func (r *Registry) OffsetOf(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[name].OffsetEmissions
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Client != recs[j].Client {
			return recs[i].Client < recs[j].Client
		}
		return recs[i].Name < recs[j].Name
	})
}
