package offset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MergeInsertsAndUpdates(t *testing.T) {
	r := NewRegistry()

	r.Merge("acme", Node{Name: "n1", OutstandingEmissions: 10, OffsetEmissions: 5})
	r.Merge("acme", Node{Name: "n2", OutstandingEmissions: 3})

	rec, ok := r.Node("n1")
	require.True(t, ok)
	assert.Equal(t, "acme", rec.Client)
	assert.Equal(t, 10.0, rec.OutstandingEmissions)

	r.Merge("acme", Node{Name: "n1", OutstandingEmissions: 0, OffsetEmissions: 15})
	rec, _ = r.Node("n1")
	assert.Equal(t, 15.0, rec.OffsetEmissions)
	assert.Equal(t, 15.0, r.OffsetOf("n1"))
	assert.Len(t, r.All(), 2)

	_, ok = r.Node("missing")
	assert.False(t, ok)
	assert.Equal(t, 0.0, r.OffsetOf("missing"))
}

func TestRegistry_EmptyClientKeepsOwner(t *testing.T) {
	r := NewRegistry()
	r.Merge("acme", Node{Name: "n1", OutstandingEmissions: 10})
	r.Merge("", Node{Name: "n1", OutstandingEmissions: 4, OffsetEmissions: 6}, Node{Name: "n9", OutstandingEmissions: 1})

	rec, _ := r.Node("n1")
	assert.Equal(t, "acme", rec.Client)
	assert.Equal(t, 6.0, rec.OffsetEmissions)

	rec, _ = r.Node("n9")
	assert.Equal(t, "", rec.Client)
}

func TestRegistry_OffsetsNeverDecrease(t *testing.T) {
	tests := []struct {
		name       string
		client     string
		merged     Node
		wantOffset float64
		wantOut    float64
	}{
		{"stale balances", "", Node{Name: "n1", OutstandingEmissions: 10}, 6, 4},
		{"stale balances for a client", "acme", Node{Name: "n1", OutstandingEmissions: 7, OffsetEmissions: 3}, 6, 4},
		{"total below recorded offset", "", Node{Name: "n1", OutstandingEmissions: 2}, 6, 0},
		{"larger offset replaces", "", Node{Name: "n1", OutstandingEmissions: 1, OffsetEmissions: 9}, 9, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Merge("acme", Node{Name: "n1", OutstandingEmissions: 4, OffsetEmissions: 6})
			r.Merge(tt.client, tt.merged)

			rec, ok := r.Node("n1")
			require.True(t, ok)
			assert.Equal(t, "acme", rec.Client)
			assert.Equal(t, tt.wantOffset, rec.OffsetEmissions)
			assert.Equal(t, tt.wantOut, rec.OutstandingEmissions)
		})
	}
}

func TestRegistry_ByClientPrefix(t *testing.T) {
	r := NewRegistry()
	r.Merge("acme-eu", Node{Name: "b"}, Node{Name: "a"})
	r.Merge("acme-us", Node{Name: "c"})
	r.Merge("globex", Node{Name: "d"})

	got := r.ByClientPrefix("acme")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Name, got[1].Name, got[2].Name})

	assert.Len(t, r.ByClientPrefix("glob"), 1)
	assert.Empty(t, r.ByClientPrefix("initech"))
	assert.Len(t, r.ByClientPrefix(""), 4)
}

func TestClients(t *testing.T) {
	c := NewClients()
	ids := []string{"n1", "n2"}
	c.Add("acme", ids)
	c.Add("globex", nil)
	ids[0] = "mutated"

	e, err := c.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, e.NodeIDs)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "acme", list[0].Name)
	assert.Equal(t, "globex", list[1].Name)

	c.Remove("acme")
	c.Remove("never-added")
	_, err = c.Get("acme")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestResolve(t *testing.T) {
	listing := []Node{
		{Name: "n3", OutstandingEmissions: 3},
		{Name: "n1", OutstandingEmissions: 1},
		{Name: "n2", OutstandingEmissions: 2},
	}

	client := Resolve(ClientEntry{Name: "acme", NodeIDs: []string{"n1", "n3", "gone"}}, listing)
	assert.Equal(t, "acme", client.Name)
	require.Len(t, client.Nodes, 2)
	assert.Equal(t, "n3", client.Nodes[0].Name)
	assert.Equal(t, "n1", client.Nodes[1].Name)

	// The client view owns its nodes.
	client.Nodes[0].OutstandingEmissions = 0
	assert.Equal(t, 3.0, listing[0].OutstandingEmissions)

	empty := Resolve(ClientEntry{Name: "solo"}, listing)
	assert.Empty(t, empty.Nodes)
}
