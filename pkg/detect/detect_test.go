package detect

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/domino/pkg/compare"
	"github.com/gilchrisn/domino/pkg/factors"
	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/partition"
	"github.com/gilchrisn/domino/pkg/synth"
	"github.com/gilchrisn/domino/pkg/viz"
)

func twoCliques(size int) *mat.SymDense {
	a := mat.NewSymDense(2*size, nil)
	for c := 0; c < 2; c++ {
		for i := 0; i < size; i++ {
			for j := i + 1; j < size; j++ {
				a.SetSym(c*size+i, c*size+j, 1)
			}
		}
	}
	return a
}

func testOptions(mode string, dc bool) Options {
	opts := DefaultOptions()
	opts.Mode = mode
	opts.DegreeCorrected = dc
	opts.Seed = 7
	return opts
}

type fixture struct {
	mode string
	a    mat.Matrix
}

func fixtures(t *testing.T) []fixture {
	t.Helper()
	bin, err := synth.Binary(synth.DefaultBinary())
	require.NoError(t, err)
	sgn, err := synth.Signed(synth.DefaultSigned())
	require.NoError(t, err)
	wgt, err := synth.Weighted(synth.DefaultWeighted())
	require.NoError(t, err)
	return []fixture{{"binary", bin.A}, {"signed", sgn.A}, {"weighted", wgt.A}}
}

func assertCover(t *testing.T, p partition.Partition, n int) {
	t.Helper()
	require.Equal(t, n, p.Len())
	seen := make([]int, p.NumBlocks())
	for _, l := range p.Labels() {
		require.GreaterOrEqual(t, l, 0)
		require.Less(t, l, p.NumBlocks())
		seen[l]++
	}
	for r, c := range seen {
		assert.Positive(t, c, "block %d is empty", r)
	}
}

func TestTwoDisjointCliques(t *testing.T) {
	a := twoCliques(50)
	opts := testOptions("binary", false)

	p, bic, err := DetectCommunities(context.Background(), a, opts)
	require.NoError(t, err)

	want := make([]int, 100)
	for i := 50; i < 100; i++ {
		want[i] = 1
	}
	assert.True(t, p.Equal(partition.FromLabels(want)), "got %v", p.Labels())

	null, err := ScorePartition(context.Background(), a, partition.Single(100).Labels(), opts)
	require.NoError(t, err)
	assert.Less(t, bic, null.BIC)
}

func TestSignedWithoutNegativesIsModelMismatch(t *testing.T) {
	_, _, err := DetectCommunities(context.Background(), twoCliques(5), testOptions("signed", false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelMismatch))
	assert.False(t, errors.Is(err, ErrConfiguration))
}

func TestSignedWithNegativeMatrix(t *testing.T) {
	a := twoCliques(6)
	neg := mat.NewDense(12, 12, nil)
	neg.Set(0, 6, 1)
	neg.Set(6, 0, 1)
	opts := testOptions("signed", false)
	opts.Negative = neg

	res, err := Detect(context.Background(), a, opts, Extras{})
	require.NoError(t, err)
	assert.True(t, res.Score.IsFinite())
	assertCover(t, res.Partition, 12)
}

func TestWeightedWithNegativesIsFinite(t *testing.T) {
	inst, err := synth.Signed(synth.DefaultSigned())
	require.NoError(t, err)
	for _, dc := range []bool{false, true} {
		res, err := Detect(context.Background(), inst.A, testOptions("weighted", dc), Extras{})
		require.NoError(t, err)
		assert.True(t, res.Score.IsFinite(), "dc=%v", dc)
	}
}

func TestTargetKOneIsNullModel(t *testing.T) {
	inst, err := synth.Binary(synth.DefaultBinary())
	require.NoError(t, err)
	for _, dc := range []bool{false, true} {
		opts := testOptions("binary", dc)
		opts.TargetK = Int(1)
		p, bic, err := DetectCommunities(context.Background(), inst.A, opts)
		require.NoError(t, err)
		assert.Equal(t, 1, p.NumBlocks())

		null, err := ScorePartition(context.Background(), inst.A, partition.Single(100).Labels(), opts)
		require.NoError(t, err)
		assert.InDelta(t, null.BIC, bic, 1e-6)
	}
}

func TestTargetKEqualToBlocksKeepsPartition(t *testing.T) {
	inst, err := synth.Binary(synth.DefaultBinary())
	require.NoError(t, err)
	opts := testOptions("binary", false)
	base, err := Detect(context.Background(), inst.A, opts, Extras{})
	require.NoError(t, err)

	opts.TargetK = Int(base.Partition.NumBlocks())
	res, err := Detect(context.Background(), inst.A, opts, Extras{})
	require.NoError(t, err)
	assert.True(t, base.Partition.Equal(res.Partition))
	assert.Zero(t, res.Statistics.TargetMerges)
	assert.InDelta(t, base.BIC, res.BIC, 1e-9)

	opts.TargetK = Int(base.Partition.NumBlocks() + 1)
	_, err = Detect(context.Background(), inst.A, opts, Extras{})
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestFixedFactorsStayIdentical(t *testing.T) {
	inst, err := synth.Binary(synth.DefaultBinary())
	require.NoError(t, err)

	for _, fix := range []bool{true, false} {
		opts := testOptions("binary", true)
		opts.MaxOuter = 3
		opts.FixFactors = Bool(fix)
		res, err := Detect(context.Background(), inst.A, opts, Extras{})
		require.NoError(t, err)
		require.NotEmpty(t, res.Iterations)

		first := res.Iterations[0].Parameters.Factors
		require.NotNil(t, first)
		for _, st := range res.Iterations[1:] {
			assert.Equal(t, first.Nodes(), st.Parameters.Factors.Nodes())
		}
		if fix {
			assert.Equal(t, 1, res.Statistics.FactorSolves)
		} else {
			assert.Equal(t, len(res.Iterations), res.Statistics.FactorSolves)
		}
	}
}

func TestDeterministicUnderSeed(t *testing.T) {
	for _, f := range fixtures(t) {
		opts := testOptions(f.mode, false)
		opts.Theta = 0.01
		opts.MacroMerge = true
		p1, b1, err := DetectCommunities(context.Background(), f.a, opts)
		require.NoError(t, err)
		opts.Workers = 4
		p2, b2, err := DetectCommunities(context.Background(), f.a, opts)
		require.NoError(t, err)
		assert.Equal(t, p1.Labels(), p2.Labels(), f.mode)
		assert.Equal(t, b1, b2, f.mode)
	}
}

func TestBICRoundTripAllFamilies(t *testing.T) {
	for _, f := range fixtures(t) {
		for _, dc := range []bool{false, true} {
			opts := testOptions(f.mode, dc)
			res, err := Detect(context.Background(), f.a, opts, Extras{})
			require.NoError(t, err)
			assertCover(t, res.Partition, 100)

			again, err := ScorePartition(context.Background(), f.a, res.Partition.Labels(), opts)
			require.NoError(t, err)
			assert.InDelta(t, res.BIC, again.BIC, 1e-6*max(1, math.Abs(res.BIC)), "%s dc=%v", f.mode, dc)
			assert.Equal(t, res.Score.NumParams, again.NumParams)
		}
	}
}

func TestBestSoFarIsReturned(t *testing.T) {
	inst, err := synth.Weighted(synth.DefaultWeighted())
	require.NoError(t, err)
	opts := testOptions("weighted", true)
	opts.FixFactors = Bool(false)
	res, err := Detect(context.Background(), inst.A, opts, Extras{})
	require.NoError(t, err)

	for _, st := range res.Iterations {
		assert.GreaterOrEqual(t, st.Score.BIC, res.BIC)
	}
	best := res.Iterations[0]
	for _, st := range res.Iterations {
		if st.Iteration == res.Statistics.BestIteration {
			best = st
		}
	}
	assert.True(t, best.Partition.Equal(res.Partition))
	assert.LessOrEqual(t, len(res.Iterations), opts.MaxOuter)
}

func TestRecoversPlantedBlocks(t *testing.T) {
	inst, err := synth.Binary(synth.DefaultBinary())
	require.NoError(t, err)
	opts := testOptions("binary", false)
	opts.MacroMerge = true
	p, _, err := DetectCommunities(context.Background(), inst.A, opts)
	require.NoError(t, err)

	nmi, err := compare.NMI(p, inst.Truth)
	require.NoError(t, err)
	assert.Greater(t, nmi, 0.5)
}

func TestMacroMergeDoesNotRaiseBIC(t *testing.T) {
	inst, err := synth.Weighted(synth.DefaultWeighted())
	require.NoError(t, err)
	opts := testOptions("weighted", false)
	opts.MaxOuter = 1
	plain, err := Detect(context.Background(), inst.A, opts, Extras{})
	require.NoError(t, err)
	opts.MacroMerge = true
	merged, err := Detect(context.Background(), inst.A, opts, Extras{})
	require.NoError(t, err)
	assert.LessOrEqual(t, merged.BIC, plain.BIC+1e-9)
}

func TestInitialPartitions(t *testing.T) {
	inst, err := synth.Signed(synth.DefaultSigned())
	require.NoError(t, err)
	for _, init := range []string{InitIdentity, InitModularity, InitPosModularity} {
		opts := testOptions("signed", false)
		opts.Init = init
		p, _, err := DetectCommunities(context.Background(), inst.A, opts)
		require.NoError(t, err, init)
		assertCover(t, p, 100)
	}

	opts := testOptions("signed", false)
	opts.InitialLabels = inst.Truth.Labels()
	p, _, err := DetectCommunities(context.Background(), inst.A, opts)
	require.NoError(t, err)
	assertCover(t, p, 100)

	opts.InitialLabels = nil
	opts.InitialSets = inst.Truth.Sets()
	q, _, err := DetectCommunities(context.Background(), inst.A, opts)
	require.NoError(t, err)
	assert.True(t, p.Equal(q))
}

func TestConfigurationErrors(t *testing.T) {
	a := twoCliques(5)
	cases := []struct {
		name   string
		adj    mat.Matrix
		modify func(*Options)
	}{
		{"unknown mode", a, func(o *Options) { o.Mode = "directed" }},
		{"target zero", a, func(o *Options) { o.TargetK = Int(0) }},
		{"target above nodes", a, func(o *Options) { o.TargetK = Int(11) }},
		{"non square", mat.NewDense(2, 3, nil), func(*Options) {}},
		{"one node", mat.NewDense(1, 1, nil), func(*Options) {}},
		{"negative theta", a, func(o *Options) { o.Theta = -1 }},
		{"negative gamma", a, func(o *Options) { o.Gamma = -0.5 }},
		{"no outer iterations", a, func(o *Options) { o.MaxOuter = 0 }},
		{"short labels", a, func(o *Options) { o.InitialLabels = []int{0, 1} }},
		{"overlapping sets", a, func(o *Options) { o.InitialSets = [][]int{{0, 1}, {1, 2}} }},
		{"labels and sets", a, func(o *Options) {
			o.InitialLabels = make([]int, 10)
			o.InitialSets = [][]int{{0}}
		}},
		{"unknown init", a, func(o *Options) { o.Init = "spectral" }},
		{"negative shape", a, func(o *Options) {
			o.Mode = "signed"
			o.Negative = mat.NewDense(3, 3, nil)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := testOptions("binary", false)
			tc.modify(&opts)
			res, err := Detect(context.Background(), tc.adj, opts, Extras{Viz: true, Report: true})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
		})
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := DetectCommunities(ctx, twoCliques(5), testOptions("binary", false))
	assert.ErrorIs(t, err, context.Canceled)
}

type fixedLayout struct{ calls int }

func (f *fixedLayout) Layout(_ context.Context, g *graph.Graph, p partition.Partition) (map[int]viz.Position, error) {
	f.calls++
	out := make(map[int]viz.Position, g.NumNodes)
	for i := 0; i < g.NumNodes; i++ {
		out[i] = viz.Position{X: float64(p.Label(i)), Y: float64(i)}
	}
	return out, nil
}

func TestDetectExtras(t *testing.T) {
	a := twoCliques(8)
	opts := testOptions("binary", false)

	res, err := Detect(context.Background(), a, opts, Extras{Viz: true, Report: true})
	require.NoError(t, err)
	assert.Len(t, res.Positions, 16)
	require.NotNil(t, res.Report)
	assert.Equal(t, "SBM", res.Report["family"])
	blocks, ok := res.Report["blocks"].([]BlockSummary)
	require.True(t, ok)
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.Equal(t, 8, b.Size)
		assert.InDelta(t, 1.0, b.Density, 1e-12)
		assert.Zero(t, b.External)
	}

	layout := &fixedLayout{}
	res, err = Detect(context.Background(), a, opts, Extras{Viz: true, Layout: layout})
	require.NoError(t, err)
	assert.Equal(t, 1, layout.calls)
	assert.Equal(t, float64(res.Partition.Label(15)), res.Positions[15].X)
	assert.Nil(t, res.Report)

	res, err = Detect(context.Background(), a, opts, Extras{})
	require.NoError(t, err)
	assert.Nil(t, res.Positions)
	assert.Equal(t, 1, layout.calls)
}

func TestSolverCapIsAWarning(t *testing.T) {
	inst, err := synth.Binary(synth.DefaultBinary())
	require.NoError(t, err)
	opts := testOptions("binary", true)
	opts.Solver = factors.Options{Tolerance: 1e-300, MaxIterations: 2}
	res, err := Detect(context.Background(), inst.A, opts, Extras{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, WarnConvergence, res.Warnings[0].Kind)
	assert.Equal(t, 1, res.Warnings[0].Iteration)
	assert.True(t, res.Score.IsFinite())
}

func TestBoundaryProbabilitiesAreReported(t *testing.T) {
	res, err := Detect(context.Background(), twoCliques(50), testOptions("binary", false), Extras{})
	require.NoError(t, err)
	assert.True(t, res.Score.IsFinite())

	var kinds []WarningKind
	for _, w := range res.Warnings {
		kinds = append(kinds, w.Kind)
	}
	assert.Contains(t, kinds, WarnNumericDegeneracy)
}

func TestIsolatedNodesStaySingletonsUnlessMerged(t *testing.T) {
	const size, isolated = 20, 6
	a := mat.NewSymDense(2*size+isolated, nil)
	cliques := twoCliques(size)
	for i := 0; i < 2*size; i++ {
		for j := i + 1; j < 2*size; j++ {
			a.SetSym(i, j, cliques.At(i, j))
		}
	}
	opts := testOptions("binary", false)

	p, _, err := DetectCommunities(context.Background(), a, opts)
	require.NoError(t, err)
	assert.Equal(t, p.Label(0), p.Label(size-1))
	assert.Equal(t, p.Label(size), p.Label(2*size-1))
	sizes := p.Sizes()
	for i := 2 * size; i < a.SymmetricDim(); i++ {
		assert.Equal(t, 1, sizes[p.Label(i)], "node %d", i)
	}

	opts.MacroMerge = true
	merged, _, err := DetectCommunities(context.Background(), a, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.NumBlocks())
	for i := 2*size + 1; i < a.SymmetricDim(); i++ {
		assert.Equal(t, merged.Label(2*size), merged.Label(i), "node %d", i)
	}
	assert.NotEqual(t, merged.Label(0), merged.Label(2*size))
	assert.NotEqual(t, merged.Label(size), merged.Label(2*size))
}
