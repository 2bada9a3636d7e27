package leiden

import (
	"sort"

	"github.com/gilchrisn/domino/pkg/factors"
	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/model"
)

// levelGraph is the graph seen by one level of the algorithm. Level 0 has a
// node per input node; higher levels have a super-node per refined block,
// carrying the links internal to it as a self link.
type levelGraph struct {
	n     int
	adj   [][]int
	links [][]graph.Link
	self  []graph.Link
	agg   []model.Agg
}

func newLevelGraph(g *graph.Graph, x *factors.Result) *levelGraph {
	lg := &levelGraph{
		n:     g.NumNodes,
		adj:   g.Adjacency,
		links: g.Links,
		self:  make([]graph.Link, g.NumNodes),
		agg:   make([]model.Agg, g.NumNodes),
	}
	for i := range lg.agg {
		lg.agg[i] = model.NodeAgg(x, i)
	}
	return lg
}

// aggregate collapses the nodes sharing a label (0..m-1) into super-nodes.
func (lg *levelGraph) aggregate(labels []int, m int) *levelGraph {
	out := &levelGraph{
		n:     m,
		adj:   make([][]int, m),
		links: make([][]graph.Link, m),
		self:  make([]graph.Link, m),
		agg:   make([]model.Agg, m),
	}
	acc := make([]map[int]graph.Link, m)
	for u := 0; u < lg.n; u++ {
		c := labels[u]
		out.agg[c] = out.agg[c].Plus(lg.agg[u])
		out.self[c] = out.self[c].Add(lg.self[u])
		for k, w := range lg.adj[u] {
			if w <= u {
				continue
			}
			d := labels[w]
			l := lg.links[u][k]
			if c == d {
				out.self[c] = out.self[c].Add(l)
				continue
			}
			if acc[c] == nil {
				acc[c] = make(map[int]graph.Link)
			}
			if acc[d] == nil {
				acc[d] = make(map[int]graph.Link)
			}
			acc[c][d] = acc[c][d].Add(l)
			acc[d][c] = acc[d][c].Add(l)
		}
	}
	for c, nbs := range acc {
		keys := make([]int, 0, len(nbs))
		for d := range nbs {
			keys = append(keys, d)
		}
		sort.Ints(keys)
		out.adj[c] = keys
		out.links[c] = make([]graph.Link, len(keys))
		for k, d := range keys {
			out.links[c][k] = nbs[d]
		}
	}
	return out
}
