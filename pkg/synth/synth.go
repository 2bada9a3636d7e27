// Package synth generates planted-partition graphs: binary, signed and
// weighted block models with a known ground truth. Disconnected outputs are
// bridged so that every instance is a single component.
package synth

import (
	"fmt"
	"math/rand/v2"
	"sort"

	gg "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gilchrisn/domino/pkg/partition"
)

// Instance is a generated adjacency matrix with its planted blocks.
type Instance struct {
	A     *mat.SymDense
	Truth partition.Partition
}

type BinaryOptions struct {
	BlockSizes []int
	PIn        float64
	POut       float64
	Seed       uint64
}

func DefaultBinary() BinaryOptions {
	return BinaryOptions{BlockSizes: []int{34, 33, 33}, PIn: 0.25, POut: 0.03, Seed: 12345}
}

type SignedOptions struct {
	BlockSizes []int
	PPosIn     float64
	PNegOut    float64
	PPosOut    float64
	Seed       uint64
}

func DefaultSigned() SignedOptions {
	return SignedOptions{BlockSizes: []int{50, 50}, PPosIn: 0.22, PNegOut: 0.18, PPosOut: 0.03, Seed: 24680}
}

type WeightedOptions struct {
	BlockSizes []int
	PIn        float64
	POut       float64
	LambdaIn   float64
	LambdaOut  float64
	Seed       uint64
}

func DefaultWeighted() WeightedOptions {
	return WeightedOptions{BlockSizes: []int{34, 33, 33}, PIn: 0.22, POut: 0.04, LambdaIn: 4, LambdaOut: 1, Seed: 9876}
}

func blockLabels(sizes []int) ([]int, error) {
	var labels []int
	for r, sz := range sizes {
		if sz <= 0 {
			return nil, fmt.Errorf("block %d has non-positive size %d", r, sz)
		}
		for i := 0; i < sz; i++ {
			labels = append(labels, r)
		}
	}
	if len(labels) < 2 {
		return nil, fmt.Errorf("need at least two nodes, got %d", len(labels))
	}
	return labels, nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}

// Binary samples an undirected binary SBM.
func Binary(opts BinaryOptions) (*Instance, error) {
	labels, err := blockLabels(opts.BlockSizes)
	if err != nil {
		return nil, err
	}
	rng := newRand(opts.Seed)
	n := len(labels)
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			p := opts.POut
			if labels[i] == labels[j] {
				p = opts.PIn
			}
			if rng.Float64() < p {
				a.SetSym(i, j, 1)
			}
		}
	}
	bridge(a, rng, 1)
	return &Instance{A: a, Truth: partition.FromLabels(labels)}, nil
}

// Signed samples positive edges inside blocks and mostly negative edges
// between them. Bridges are positive, and one negative edge is forced when
// sampling produced none.
func Signed(opts SignedOptions) (*Instance, error) {
	labels, err := blockLabels(opts.BlockSizes)
	if err != nil {
		return nil, err
	}
	rng := newRand(opts.Seed)
	n := len(labels)
	a := mat.NewSymDense(n, nil)
	negative := false
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			u := rng.Float64()
			switch {
			case labels[i] == labels[j]:
				if u < opts.PPosIn {
					a.SetSym(i, j, 1)
				}
			case u < opts.PNegOut:
				a.SetSym(i, j, -1)
				negative = true
			case u < opts.PNegOut+opts.PPosOut:
				a.SetSym(i, j, 1)
			}
		}
	}
	bridge(a, rng, 1)
	if !negative {
		i, j := 0, n-1
		if labels[i] == labels[j] {
			j = n / 2
		}
		a.SetSym(i, j, -1)
	}
	return &Instance{A: a, Truth: partition.FromLabels(labels)}, nil
}

// Weighted samples edges with Poisson weights; zero draws become 1.
func Weighted(opts WeightedOptions) (*Instance, error) {
	labels, err := blockLabels(opts.BlockSizes)
	if err != nil {
		return nil, err
	}
	rng := newRand(opts.Seed)
	in := distuv.Poisson{Lambda: opts.LambdaIn, Src: rng}
	out := distuv.Poisson{Lambda: opts.LambdaOut, Src: rng}
	n := len(labels)
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			same := labels[i] == labels[j]
			p, dist := opts.POut, out
			if same {
				p, dist = opts.PIn, in
			}
			if rng.Float64() >= p {
				continue
			}
			w := dist.Rand()
			if w <= 0 {
				w = 1
			}
			a.SetSym(i, j, w)
		}
	}
	bridge(a, rng, 1)
	return &Instance{A: a, Truth: partition.FromLabels(labels)}, nil
}

// bridge links one random node of each connected component to one of the
// next, in order of each component's smallest node. Existing entries are
// raised to at least w.
func bridge(a *mat.SymDense, rng *rand.Rand, w float64) int {
	n := a.SymmetricDim()
	g := simple.NewUndirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if a.At(i, j) != 0 {
				g.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(j)})
			}
		}
	}
	comps := components(topo.ConnectedComponents(g))
	if len(comps) < 2 {
		return 0
	}
	reps := make([]int, len(comps))
	for k, c := range comps {
		reps[k] = c[rng.IntN(len(c))]
	}
	for k := 0; k+1 < len(reps); k++ {
		u, v := reps[k], reps[k+1]
		a.SetSym(u, v, max(a.At(u, v), w))
	}
	return len(reps) - 1
}

func components(cc [][]gg.Node) [][]int {
	out := make([][]int, len(cc))
	for k, c := range cc {
		ids := make([]int, len(c))
		for i, nd := range c {
			ids[i] = int(nd.ID())
		}
		sort.Ints(ids)
		out[k] = ids
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
