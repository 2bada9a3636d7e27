package detect

import (
	"fmt"

	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/model"
)

// BlockSummary describes one block of the final partition.
type BlockSummary struct {
	Block    int     `json:"block"`
	Size     int     `json:"size"`
	Internal float64 `json:"internal"`
	External float64 `json:"external"`
	// Density is the internal link strength per dyad, 0 for singletons.
	Density float64 `json:"density"`
}

// SummaryReporter reports block sizes and densities.
type SummaryReporter struct{}

func (SummaryReporter) Report(g *graph.Graph, res *Result) (map[string]any, error) {
	p := res.Partition
	if p.Len() != g.NumNodes {
		return nil, fmt.Errorf("partition covers %d nodes, graph has %d", p.Len(), g.NumNodes)
	}
	blocks := make([]BlockSummary, p.NumBlocks())
	for r, sz := range p.Sizes() {
		blocks[r] = BlockSummary{Block: r, Size: sz}
	}
	for u := 0; u < g.NumNodes; u++ {
		nbrs, links := g.Neighbors(u)
		ru := p.Label(u)
		for k, v := range nbrs {
			if v <= u {
				continue
			}
			w := links[k].Strength()
			if rv := p.Label(v); rv == ru {
				blocks[ru].Internal += w
			} else {
				blocks[ru].External += w
				blocks[rv].External += w
			}
		}
	}
	for r := range blocks {
		if d := model.NumDyads(blocks[r].Size); d > 0 {
			blocks[r].Density = blocks[r].Internal / d
		}
	}

	return map[string]any{
		"family":      res.Family.String(),
		"num_blocks":  p.NumBlocks(),
		"num_nodes":   g.NumNodes,
		"num_edges":   g.NumEdges,
		"loglik":      res.Score.LogLik,
		"num_params":  res.Score.NumParams,
		"blocks":      blocks,
		"warnings":    len(res.Warnings),
		"outer_iters": res.Statistics.OuterIterations,
	}, nil
}
