package viz

import (
	"fmt"
	"math"

	gg "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

// PageRankResult holds PageRank scores keyed by gonum node id.
type PageRankResult struct {
	Scores   map[int64]float64
	MinScore float64
	MaxScore float64
}

// PageRankCalculator computes PageRank on undirected graphs by treating
// every edge as two arcs.
type PageRankCalculator struct {
	dampingFactor float64
	tolerance     float64
}

func NewPageRankCalculator() *PageRankCalculator {
	return &PageRankCalculator{
		dampingFactor: 0.85,
		tolerance:     1e-6,
	}
}

func (pr *PageRankCalculator) WithDampingFactor(factor float64) *PageRankCalculator {
	pr.dampingFactor = factor
	return pr
}

func (pr *PageRankCalculator) Calculate(g *simple.WeightedUndirectedGraph) (*PageRankResult, error) {
	if g.Nodes().Len() == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}

	scores := network.PageRank(toDirected(g), pr.dampingFactor, pr.tolerance)
	if len(scores) == 0 {
		return nil, fmt.Errorf("PageRank computation returned no scores")
	}

	res := &PageRankResult{Scores: scores, MinScore: math.Inf(1), MaxScore: math.Inf(-1)}
	for _, s := range scores {
		res.MinScore = math.Min(res.MinScore, s)
		res.MaxScore = math.Max(res.MaxScore, s)
	}
	return res, nil
}

func toDirected(u *simple.WeightedUndirectedGraph) gg.Directed {
	d := simple.NewWeightedDirectedGraph(0, math.Inf(1))
	nodes := u.Nodes()
	for nodes.Next() {
		d.AddNode(nodes.Node())
	}
	edges := u.WeightedEdges()
	for edges.Next() {
		e := edges.WeightedEdge()
		d.SetWeightedEdge(simple.WeightedEdge{F: e.From(), T: e.To(), W: e.Weight()})
		d.SetWeightedEdge(simple.WeightedEdge{F: e.To(), T: e.From(), W: e.Weight()})
	}
	return d
}

// Normalized maps a score into [0, 1]; equal scores map to 1.
func (r *PageRankResult) Normalized(id int64) float64 {
	s, ok := r.Scores[id]
	if !ok {
		return 0
	}
	if r.MaxScore == r.MinScore {
		return 1
	}
	return (s - r.MinScore) / (r.MaxScore - r.MinScore)
}

// Radius converts a score to a node radius in [minRadius, maxRadius].
func (r *PageRankResult) Radius(id int64, minRadius, maxRadius float64) float64 {
	return minRadius + r.Normalized(id)*(maxRadius-minRadius)
}
