package viz

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/mds"

	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/partition"
)

var errNoDimensions = errors.New("no positive eigenvalues found in MDS")

// MDSCalculator places nodes in the plane by classical (Torgerson) scaling
// of hop distances. Pairs in the same block have their distance multiplied
// by shrink so that blocks stay together.
type MDSCalculator struct {
	maxDistance float64
	shrink      float64
}

func NewMDSCalculator() *MDSCalculator {
	return &MDSCalculator{maxDistance: 10, shrink: 0.5}
}

// WithMaxDistance sets the distance used for unreachable pairs.
func (m *MDSCalculator) WithMaxDistance(d float64) *MDSCalculator {
	m.maxDistance = d
	return m
}

func (m *MDSCalculator) WithShrink(s float64) *MDSCalculator {
	m.shrink = s
	return m
}

// Calculate returns an n x 2 coordinate matrix in node order.
func (m *MDSCalculator) Calculate(g *graph.Graph, p partition.Partition) (*mat.Dense, error) {
	n := g.NumNodes
	if n == 1 {
		return mat.NewDense(1, 2, nil), nil
	}
	dist := m.distances(g, p)

	var coords mat.Dense
	k, _ := mds.TorgersonScaling(&coords, nil, dist)
	if k == 0 {
		return nil, errNoDimensions
	}
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < min(k, 2); j++ {
			out.Set(i, j, coords.At(i, j))
		}
	}
	return out, nil
}

func (m *MDSCalculator) distances(g *graph.Graph, p partition.Partition) *mat.SymDense {
	n := g.NumNodes
	dist := mat.NewSymDense(n, nil)
	hops := make([]int, n)
	queue := make([]int, 0, n)
	for src := 0; src < n; src++ {
		for i := range hops {
			hops[i] = -1
		}
		hops[src] = 0
		queue = append(queue[:0], src)
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for _, w := range g.Adjacency[u] {
				if hops[w] < 0 {
					hops[w] = hops[u] + 1
					queue = append(queue, w)
				}
			}
		}
		for j := src + 1; j < n; j++ {
			d := m.maxDistance
			if hops[j] >= 0 {
				d = math.Min(float64(hops[j]), m.maxDistance)
			}
			if p.Len() == n && p.Label(src) == p.Label(j) {
				d *= m.shrink
			}
			dist.SetSym(src, j, d)
		}
	}
	return dist
}

// scaleColumns maps each column of c linearly onto [lo, hi]; constant
// columns land in the middle.
func scaleColumns(c *mat.Dense, lo, hi float64) {
	r, cols := c.Dims()
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, c)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, v := range col {
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}
		for i := 0; i < r; i++ {
			t := 0.5
			if maxV > minV {
				t = (col[i] - minV) / (maxV - minV)
			}
			c.Set(i, j, lo+t*(hi-lo))
		}
	}
}

func checkSize(n, limit int) error {
	if limit > 0 && n > limit {
		return fmt.Errorf("layout limited to %d nodes, graph has %d", limit, n)
	}
	return nil
}
