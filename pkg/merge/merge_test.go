package merge

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/domino/pkg/factors"
	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/model"
	"github.com/gilchrisn/domino/pkg/partition"
)

func cliques(t *testing.T, size int) *graph.Graph {
	t.Helper()
	g := graph.New(2*size, graph.Binary)
	for c := 0; c < 2; c++ {
		for i := 0; i < size; i++ {
			for j := i + 1; j < size; j++ {
				require.NoError(t, g.AddEdge(c*size+i, c*size+j, graph.Link{1, 0}))
			}
		}
	}
	require.NoError(t, g.AddEdge(0, size, graph.Link{1, 0}))
	return g
}

func randomGraph(t *testing.T, n int, mode graph.Mode) *graph.Graph {
	t.Helper()
	rng := rand.New(rand.NewPCG(17, 4))
	g := graph.New(n, mode)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			p := 0.1
			if i%2 == j%2 {
				p = 0.45
			}
			if rng.Float64() >= p {
				continue
			}
			l := graph.Link{1, 0}
			switch mode {
			case graph.Signed:
				if i%2 != j%2 {
					l = graph.Link{0, 1}
				}
			case graph.Weighted:
				l = graph.Link{float64(1 + rng.IntN(3)), 0}
			}
			require.NoError(t, g.AddEdge(i, j, l))
		}
	}
	return g
}

func score(t *testing.T, g *graph.Graph, kind model.Kind, p partition.Partition) (model.Family, *model.Stats, model.BICResult) {
	t.Helper()
	f, err := model.New(kind)
	require.NoError(t, err)
	var x *factors.Result
	if kind.DegreeCorrected() {
		x = factors.Solve(g, factors.DefaultOptions(), zerolog.Nop())
	}
	st, err := model.ComputeStatistics(context.Background(), g, p, kind, x, 2)
	require.NoError(t, err)
	return f, st, model.EvaluateBIC(f, st, model.FitParameters(f, st, x))
}

// sixths splits each clique of cliques(size) into three blocks.
func sixths(n int) partition.Partition {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i * 6 / n
	}
	return partition.FromLabels(labels)
}

func TestMacroMergeRecoversCliques(t *testing.T) {
	g := cliques(t, 15)
	p := sixths(g.NumNodes)
	f, st, before := score(t, g, model.SBM, p)

	res, err := MacroMerge(context.Background(), f, st, p, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Partition.NumBlocks())
	assert.Len(t, res.Steps, 4)
	for i := 0; i < g.NumNodes; i++ {
		assert.Equal(t, i/15, res.Partition.Label(i))
	}

	_, _, after := score(t, g, model.SBM, res.Partition)
	assert.Less(t, after.BIC, before.BIC)
	assert.InDelta(t, after.BIC-before.BIC, res.TotalDelta(), 1e-6*math.Abs(before.BIC))
}

func TestMacroMergeNeverRaisesBIC(t *testing.T) {
	for _, kind := range model.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			g := randomGraph(t, 24, kind.Mode())
			labels := make([]int, g.NumNodes)
			for i := range labels {
				labels[i] = i % 8
			}
			p := partition.FromLabels(labels)
			f, st, before := score(t, g, kind, p)

			res, err := MacroMerge(context.Background(), f, st, p, zerolog.Nop())
			require.NoError(t, err)
			_, _, after := score(t, g, kind, res.Partition)
			assert.LessOrEqual(t, after.BIC, before.BIC+1e-6)
			for _, s := range res.Steps {
				assert.Negative(t, s.Delta)
			}
			assert.InDelta(t, after.BIC-before.BIC, res.TotalDelta(), 1e-6*math.Abs(before.BIC))
		})
	}
}

func TestTargetK(t *testing.T) {
	ctx := context.Background()
	g := cliques(t, 10)
	p := sixths(g.NumNodes)
	f, st, _ := score(t, g, model.SBM, p)

	same, err := TargetK(ctx, f, st, p, 6, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, same.Partition.Equal(p))
	assert.Empty(t, same.Steps)

	two, err := TargetK(ctx, f, st, p, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, two.Partition.NumBlocks())
	for i := 0; i < g.NumNodes; i++ {
		assert.Equal(t, i/10, two.Partition.Label(i))
	}

	one, err := TargetK(ctx, f, st, p, 1, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, one.Partition.NumBlocks())
	_, _, single := score(t, g, model.SBM, partition.Single(g.NumNodes))
	_, _, merged := score(t, g, model.SBM, one.Partition)
	assert.InDelta(t, single.BIC, merged.BIC, 1e-9)

	_, err = TargetK(ctx, f, st, p, 7, zerolog.Nop())
	assert.ErrorIs(t, err, ErrTarget)
	_, err = TargetK(ctx, f, st, p, 0, zerolog.Nop())
	assert.ErrorIs(t, err, ErrTarget)
}

func TestMergeRejectsMismatchedStatistics(t *testing.T) {
	g := cliques(t, 5)
	f, st, _ := score(t, g, model.SBM, sixths(g.NumNodes))
	_, err := MacroMerge(context.Background(), f, st, partition.Single(g.NumNodes), zerolog.Nop())
	assert.Error(t, err)
	_, err = TargetK(context.Background(), f, st, partition.Single(g.NumNodes), 1, zerolog.Nop())
	assert.Error(t, err)
}

// freshDelta scores merging r and s from the merger's current blocks and
// links alone.
func freshDelta(m *merger, r, s int) float64 {
	var old float64
	for x := range m.alive {
		if !m.alive[x] {
			continue
		}
		old += model.Profile(m.fam, m.links[r][x], &m.blocks[r], &m.blocks[x], x == r)
		if x != r {
			old += model.Profile(m.fam, m.links[s][x], &m.blocks[s], &m.blocks[x], x == s)
		}
	}
	blocks := make([]model.Block, 0, m.live)
	links := make([][]graph.Link, 0, m.live)
	var ids []int
	for x := range m.alive {
		if m.alive[x] {
			ids = append(ids, x)
		}
	}
	var ri, si int
	for i, x := range ids {
		blocks = append(blocks, m.blocks[x])
		row := make([]graph.Link, len(ids))
		for j, y := range ids {
			row[j] = m.links[x][y]
		}
		links = append(links, row)
		switch x {
		case r:
			ri = i
		case s:
			si = i
		}
	}
	merged := model.MergedProfile(m.fam, blocks, links, nil, ri, si)
	dk := m.fam.NumParams(m.n, m.live-1) - m.fam.NumParams(m.n, m.live)
	return float64(dk)*model.LogDyads(m.n) - 2*(merged-old)
}

func TestCachedDeltasFollowMerges(t *testing.T) {
	ctx := context.Background()
	for _, kind := range model.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			g := randomGraph(t, 30, kind.Mode())
			labels := make([]int, g.NumNodes)
			for i := range labels {
				labels[i] = i % 10
			}
			f, st, _ := score(t, g, kind, partition.FromLabels(labels))
			m, err := newMerger(ctx, f, st)
			require.NoError(t, err)

			for step := 0; step < 6; step++ {
				r, s, d, ok := m.best()
				require.True(t, ok)

				want := math.Inf(1)
				for x := range m.alive {
					for y := x + 1; y < len(m.alive); y++ {
						if !m.alive[x] || !m.alive[y] {
							continue
						}
						fresh := freshDelta(m, x, y)
						assert.InDelta(t, fresh, m.delta(x, y), 1e-7*(1+math.Abs(fresh)), "step %d pair %d-%d", step, x, y)
						want = math.Min(want, fresh)
					}
				}
				assert.InDelta(t, want, d, 1e-7*(1+math.Abs(want)), "step %d", step)
				require.NoError(t, m.apply(ctx, r, s))
			}
		})
	}
}

func TestMergeStopsOnCancel(t *testing.T) {
	g := randomGraph(t, 24, graph.Binary)
	f, st, _ := score(t, g, model.SBM, partition.Identity(g.NumNodes))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := MacroMerge(ctx, f, st, partition.Identity(g.NumNodes), zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = TargetK(ctx, f, st, partition.Identity(g.NumNodes), 3, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)

	m, err := newMerger(context.Background(), f, st)
	require.NoError(t, err)
	r, s, _, ok := m.best()
	require.True(t, ok)
	assert.ErrorIs(t, m.apply(ctx, r, s), context.Canceled)
}

func TestMacroMergeCollapsesIsolatedBlocks(t *testing.T) {
	g := graph.New(40, graph.Binary)
	for i := 0; i < 10; i++ {
		for j := i + 1; j < 10; j++ {
			require.NoError(t, g.AddEdge(i, j, graph.Link{1, 0}))
		}
	}
	labels := make([]int, g.NumNodes)
	for i := range labels {
		if i >= 10 {
			labels[i] = i - 9
		}
	}
	p := partition.FromLabels(labels)
	f, st, before := score(t, g, model.SBM, p)

	res, err := MacroMerge(context.Background(), f, st, p, zerolog.Nop())
	require.NoError(t, err)
	_, _, after := score(t, g, model.SBM, res.Partition)
	assert.Less(t, after.BIC, before.BIC)
	assert.Less(t, res.Partition.NumBlocks(), 5)
	for i := 11; i < g.NumNodes; i++ {
		assert.Equal(t, res.Partition.Label(10), res.Partition.Label(i), "isolated node %d", i)
	}
}
