// Package viz computes 2D node positions for a partitioned graph from hop
// distances (classical MDS) and PageRank (node radius).
package viz

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/partition"
)

// DefaultMaxNodes bounds the dense distance matrix built by a layout.
const DefaultMaxNodes = 5000

// Position is a node placement scaled to [-100, 100] with a radius in [3, 20].
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// Generator combines PageRank and MDS into node positions.
type Generator struct {
	pageRank *PageRankCalculator
	mds      *MDSCalculator
	maxNodes int
	logger   zerolog.Logger
}

func NewGenerator(logger zerolog.Logger) *Generator {
	return &Generator{
		pageRank: NewPageRankCalculator(),
		mds:      NewMDSCalculator(),
		maxNodes: DefaultMaxNodes,
		logger:   logger,
	}
}

func (g *Generator) WithMaxNodes(n int) *Generator {
	g.maxNodes = n
	return g
}

func (g *Generator) WithShrink(s float64) *Generator {
	g.mds.WithShrink(s)
	return g
}

// Layout positions every node of gr. p may be empty, in which case blocks
// do not influence distances.
func (g *Generator) Layout(ctx context.Context, gr *graph.Graph, p partition.Partition) (map[int]Position, error) {
	if err := checkSize(gr.NumNodes, g.maxNodes); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pr, err := g.pageRank.Calculate(gr.ToGonum(nil))
	if err != nil {
		return nil, fmt.Errorf("PageRank calculation failed: %w", err)
	}
	coords, err := g.mds.Calculate(gr, p)
	if err != nil {
		return nil, fmt.Errorf("MDS calculation failed: %w", err)
	}
	scaleColumns(coords, -100, 100)

	out := make(map[int]Position, gr.NumNodes)
	for i := 0; i < gr.NumNodes; i++ {
		out[i] = Position{
			X:      coords.At(i, 0),
			Y:      coords.At(i, 1),
			Radius: pr.Radius(int64(i), 3, 20),
		}
	}
	g.logger.Debug().Int("nodes", gr.NumNodes).Int("blocks", p.NumBlocks()).Msg("Layout generated")
	return out, nil
}
