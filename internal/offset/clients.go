package offset

import (
	"fmt"
	"sort"
	"sync"
)

// ClientEntry is a client and the ids of the nodes it is attached to.
type ClientEntry struct {
	Name    string   `json:"name"`
	NodeIDs []string `json:"node_ids"`
}

// Clients is the directory of known clients.
type Clients struct {
	mu      sync.RWMutex
	entries map[string]ClientEntry
}

// NewClients creates an empty directory.
func NewClients() *Clients {
	return &Clients{entries: make(map[string]ClientEntry)}
}

// Add registers name with nodeIDs, replacing any previous entry.
func (c *Clients) Add(name string, nodeIDs []string) {
	ids := make([]string, len(nodeIDs))
	copy(ids, nodeIDs)

	c.mu.Lock()
	c.entries[name] = ClientEntry{Name: name, NodeIDs: ids}
	c.mu.Unlock()
}

// Remove deletes name. Removing an unknown client is not an error.
func (c *Clients) Remove(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// Get returns the entry for name or ErrClientNotFound.
func (c *Clients) Get(name string) (ClientEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return ClientEntry{}, fmt.Errorf("client %q: %w", name, ErrClientNotFound)
	}
	return e, nil
}

// List returns all clients ordered by name.
func (c *Clients) List() []ClientEntry {
	c.mu.RLock()
	out := make([]ClientEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve builds the Client view of entry from a network listing, keeping
// the listing's order. Node ids missing from the listing are skipped.
func Resolve(entry ClientEntry, listing []Node) Client {
	wanted := make(map[string]struct{}, len(entry.NodeIDs))
	for _, id := range entry.NodeIDs {
		wanted[id] = struct{}{}
	}

	client := Client{Name: entry.Name}
	for i := range listing {
		if _, ok := wanted[listing[i].Name]; ok {
			n := listing[i]
			client.Nodes = append(client.Nodes, &n)
		}
	}
	return client
}
