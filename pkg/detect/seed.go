package detect

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/graph/community"

	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/partition"
)

// modularitySeed runs gonum's Louvain modularity optimizer on g. positive
// restricts it to the positive part of the links; otherwise link strength
// (|A|) is used. Graphs without usable edges get the identity partition.
func modularitySeed(g *graph.Graph, positive bool, seed uint64) (partition.Partition, error) {
	weight := graph.Link.Strength
	if positive {
		weight = func(l graph.Link) float64 { return l[0] }
	}
	u := g.ToGonum(weight)
	if u.Edges().Len() == 0 {
		return partition.Identity(g.NumNodes), nil
	}

	reduced := community.Modularize(u, 1, rand.NewPCG(seed, seed+1))
	comms := reduced.Communities()
	sets := make([][]int, 0, len(comms))
	for _, c := range comms {
		set := make([]int, len(c))
		for i, nd := range c {
			set[i] = int(nd.ID())
		}
		sets = append(sets, set)
	}
	return partition.FromSets(g.NumNodes, sets)
}
