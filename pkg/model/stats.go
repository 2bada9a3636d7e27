package model

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/gilchrisn/domino/pkg/factors"
	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/partition"
)

// LinkEps is the magnitude below which accumulated link totals count as zero.
const LinkEps = 1e-12

// chunkNodes is the fixed node range reduced by one worker. Partial results
// are merged in chunk order, so totals do not depend on the worker count.
const chunkNodes = 512

// Agg is the additive summary of a set of nodes: its size and the per-channel
// sums of node factors and squared factors.
type Agg struct {
	Size float64    `json:"size"`
	X    [2]float64 `json:"x"`
	X2   [2]float64 `json:"x2"`
}

func (a Agg) Plus(b Agg) Agg {
	return Agg{
		Size: a.Size + b.Size,
		X:    [2]float64{a.X[0] + b.X[0], a.X[1] + b.X[1]},
		X2:   [2]float64{a.X2[0] + b.X2[0], a.X2[1] + b.X2[1]},
	}
}

func (a Agg) Minus(b Agg) Agg {
	return Agg{
		Size: a.Size - b.Size,
		X:    [2]float64{a.X[0] - b.X[0], a.X[1] - b.X[1]},
		X2:   [2]float64{a.X2[0] - b.X2[0], a.X2[1] - b.X2[1]},
	}
}

// NodeAgg is the summary of a single node. x may be nil for families
// without node factors.
func NodeAgg(x *factors.Result, i int) Agg {
	a := Agg{Size: 1}
	if x != nil {
		xi := x.X(i)
		a.X = xi
		a.X2 = [2]float64{xi[0] * xi[0], xi[1] * xi[1]}
	}
	return a
}

// ClassCount is the number of block members in one degree class.
type ClassCount struct {
	Class int        `json:"class"`
	X     [2]float64 `json:"x"`
	Count float64    `json:"count"`
}

// Block summarizes one block. Hist is only filled for degree-corrected
// families and is sorted by class.
type Block struct {
	Agg
	Hist []ClassCount `json:"hist,omitempty"`
}

// MergeBlocks returns the summary of the union of two disjoint blocks.
func MergeBlocks(a, b *Block) Block {
	out := Block{Agg: a.Agg.Plus(b.Agg)}
	if len(a.Hist) == 0 && len(b.Hist) == 0 {
		return out
	}
	out.Hist = make([]ClassCount, 0, len(a.Hist)+len(b.Hist))
	i, j := 0, 0
	for i < len(a.Hist) || j < len(b.Hist) {
		switch {
		case j == len(b.Hist) || (i < len(a.Hist) && a.Hist[i].Class < b.Hist[j].Class):
			out.Hist = append(out.Hist, a.Hist[i])
			i++
		case i == len(a.Hist) || b.Hist[j].Class < a.Hist[i].Class:
			out.Hist = append(out.Hist, b.Hist[j])
			j++
		default:
			c := a.Hist[i]
			c.Count += b.Hist[j].Count
			out.Hist = append(out.Hist, c)
			i++
			j++
		}
	}
	return out
}

// Stats holds the block-pair statistics of one partition.
type Stats struct {
	Kind   Kind           `json:"kind"`
	N      int            `json:"n"`
	Blocks []Block        `json:"blocks"`
	Links  [][]graph.Link `json:"links"`

	// EdgeTerm is sum over edges of l_ch * log(x_i,ch * x_j,ch); it is
	// constant for fixed factors and only used by degree-corrected families.
	EdgeTerm float64 `json:"edge_term"`
}

func (s *Stats) NumBlocks() int { return len(s.Blocks) }

// ComputeStatistics accumulates block-pair totals for p over g. x holds
// node factors for degree-corrected kinds and is ignored otherwise. Edges
// are reduced over fixed node chunks on up to workers goroutines.
func ComputeStatistics(ctx context.Context, g *graph.Graph, p partition.Partition, kind Kind, x *factors.Result, workers int) (*Stats, error) {
	if p.Len() != g.NumNodes {
		return nil, fmt.Errorf("partition covers %d nodes, graph has %d", p.Len(), g.NumNodes)
	}
	if !kind.DegreeCorrected() {
		x = nil
	} else if x == nil {
		return nil, fmt.Errorf("%v needs node factors", kind)
	}
	if workers < 1 {
		workers = 1
	}

	b := p.NumBlocks()
	st := &Stats{Kind: kind, N: g.NumNodes, Blocks: make([]Block, b)}
	hist := make([]map[int]float64, b)
	for i := 0; i < g.NumNodes; i++ {
		r := p.Label(i)
		st.Blocks[r].Agg = st.Blocks[r].Agg.Plus(NodeAgg(x, i))
		if x != nil {
			if hist[r] == nil {
				hist[r] = make(map[int]float64)
			}
			hist[r][x.NodeClass[i]]++
		}
	}
	if x != nil {
		for r, h := range hist {
			st.Blocks[r].Hist = sortedHist(h, x)
		}
	}

	numChunks := (g.NumNodes + chunkNodes - 1) / chunkNodes
	parts := make([]chunkTotals, numChunks)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for c := 0; c < numChunks; c++ {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lo := c * chunkNodes
			hi := min(lo+chunkNodes, g.NumNodes)
			parts[c] = accumulate(g, p, x, b, lo, hi)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	st.Links = make([][]graph.Link, b)
	for r := range st.Links {
		st.Links[r] = make([]graph.Link, b)
	}
	// Each pair occurs once per chunk, so the map order inside a chunk does
	// not change any sum.
	for _, part := range parts {
		for key, l := range part.links {
			r, s := key/b, key%b
			st.Links[r][s] = st.Links[r][s].Add(l)
		}
		st.EdgeTerm += part.edgeTerm
	}
	for r := 0; r < b; r++ {
		for s := r + 1; s < b; s++ {
			st.Links[s][r] = st.Links[r][s]
		}
	}
	return st, nil
}

// chunkTotals holds the nonzero upper-triangle pairs of one chunk keyed by
// r*b+s. Chunks stay proportional to their edge count, not to b*b.
type chunkTotals struct {
	links    map[int]graph.Link
	edgeTerm float64
}

// accumulate sums the edges i-j with lo <= i < hi and j > i into the upper
// triangle of the b*b pair table.
func accumulate(g *graph.Graph, p partition.Partition, x *factors.Result, b, lo, hi int) chunkTotals {
	out := chunkTotals{links: make(map[int]graph.Link)}
	for i := lo; i < hi; i++ {
		ri := p.Label(i)
		nbs, links := g.Neighbors(i)
		for k, j := range nbs {
			if j <= i {
				continue
			}
			r, s := ri, p.Label(j)
			if r > s {
				r, s = s, r
			}
			l := links[k]
			key := r*b + s
			out.links[key] = out.links[key].Add(l)
			if x != nil {
				xi, xj := x.X(i), x.X(j)
				for ch := 0; ch < 2; ch++ {
					if l[ch] > 0 {
						out.edgeTerm += l[ch] * math.Log(xi[ch]*xj[ch])
					}
				}
			}
		}
	}
	return out
}

func sortedHist(h map[int]float64, x *factors.Result) []ClassCount {
	out := make([]ClassCount, 0, len(h))
	for c, n := range h {
		out = append(out, ClassCount{Class: c, X: x.Classes[c].X, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}
