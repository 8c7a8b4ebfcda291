package engine

import (
	"context"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/status"
)

// registryOverlay lists network nodes with the offsets already recorded in
// the registry applied. The status API reports gross emissions per node and
// knows nothing about offsets, so outstanding = gross - offset (never
// negative) and the node total stays equal to the gross figure.
type registryOverlay struct {
	provider status.Provider
	registry *offset.Registry
}

func (o registryOverlay) FetchNetworkEmissions(ctx context.Context) ([]offset.Node, error) {
	nodes, err := o.provider.FetchNetworkEmissions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		offsetSoFar := o.registry.OffsetOf(nodes[i].Name)
		if offsetSoFar <= 0 {
			continue
		}
		gross := nodes[i].OutstandingEmissions
		nodes[i].OffsetEmissions = offsetSoFar
		nodes[i].OutstandingEmissions = max(gross-offsetSoFar, 0)
	}
	return nodes, nil
}
