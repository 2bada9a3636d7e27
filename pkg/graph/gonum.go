package graph

import (
	"math"

	"gonum.org/v1/gonum/graph/simple"
)

// ToGonum converts g into a gonum weighted undirected graph. weight maps each
// link to the gonum edge weight; edges with a non-positive weight are left out.
// Every node is added so isolated nodes keep their ids.
func (g *Graph) ToGonum(weight func(Link) float64) *simple.WeightedUndirectedGraph {
	if weight == nil {
		weight = Link.Strength
	}
	out := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < g.NumNodes; i++ {
		out.AddNode(simple.Node(i))
	}
	for i := 0; i < g.NumNodes; i++ {
		for k, j := range g.Adjacency[i] {
			if j < i {
				continue
			}
			w := weight(g.Links[i][k])
			if w <= 0 {
				continue
			}
			out.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(i), T: simple.Node(j), W: w})
		}
	}
	return out
}
