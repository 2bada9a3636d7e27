// Package merge coarsens a partition by greedily merging pairs of blocks
// using the exact BIC change of each merge.
package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/model"
	"github.com/gilchrisn/domino/pkg/partition"
)

// ErrTarget is returned when a requested block count cannot be reached by
// merging.
var ErrTarget = errors.New("target block count out of range")

// mergeTolerance is the BIC decrease a macro merge must exceed.
const mergeTolerance = 1e-9

// Step records one accepted merge, in block ids of the input partition.
type Step struct {
	Into  int     `json:"into"`
	From  int     `json:"from"`
	Delta float64 `json:"delta"`
}

type Result struct {
	Partition partition.Partition `json:"partition"`
	Steps     []Step              `json:"steps"`
}

// TotalDelta is the summed BIC change of all merges.
func (r *Result) TotalDelta() float64 {
	var d float64
	for _, s := range r.Steps {
		d += s.Delta
	}
	return d
}

// merger keeps block summaries and pair profiles of a partition while
// blocks are merged in place. merged[r][s] (r < s) caches the profile of the
// block r+s, and rowBest[r] the best partner s > r, so one merge only
// revisits the pairs around the blocks it touches.
type merger struct {
	fam    model.Family
	n      int
	blocks []model.Block
	links  [][]graph.Link
	nbrs   [][]int
	alive  []bool
	live   int
	prof   [][]float64
	rowSum []float64
	parent []int

	merged  [][]float64
	rowBest []int
	rowGain []float64
}

func newMerger(ctx context.Context, fam model.Family, st *model.Stats) (*merger, error) {
	b := st.NumBlocks()
	m := &merger{
		fam:     fam,
		n:       st.N,
		blocks:  make([]model.Block, b),
		links:   make([][]graph.Link, b),
		nbrs:    make([][]int, b),
		alive:   make([]bool, b),
		live:    b,
		prof:    make([][]float64, b),
		rowSum:  make([]float64, b),
		parent:  make([]int, b),
		merged:  make([][]float64, b),
		rowBest: make([]int, b),
		rowGain: make([]float64, b),
	}
	copy(m.blocks, st.Blocks)
	for r := 0; r < b; r++ {
		m.links[r] = append([]graph.Link(nil), st.Links[r]...)
		m.alive[r] = true
		m.parent[r] = r
		m.prof[r] = make([]float64, b)
		m.merged[r] = make([]float64, b)
		for x := 0; x < b; x++ {
			if x != r && !m.links[r][x].IsZero(model.LinkEps) {
				m.nbrs[r] = append(m.nbrs[r], x)
			}
		}
	}
	for r := 0; r < b; r++ {
		for s := r; s < b; s++ {
			v := model.PairProfile(fam, st, r, s)
			m.prof[r][s] = v
			m.prof[s][r] = v
		}
	}
	for r := 0; r < b; r++ {
		for _, v := range m.prof[r] {
			m.rowSum[r] += v
		}
	}
	for r := 0; r < b; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for s := r + 1; s < b; s++ {
			m.merged[r][s] = m.mergedProfile(r, s)
		}
	}
	for r := 0; r < b; r++ {
		m.scanRow(r)
	}
	return m, nil
}

// partners is the sorted union of the neighbors of r and s.
func (m *merger) partners(r, s int) []int {
	a, b := m.nbrs[r], m.nbrs[s]
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i == len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func (m *merger) mergedProfile(r, s int) float64 {
	return model.MergedProfile(m.fam, m.blocks, m.links, m.partners(r, s), r, s)
}

// gain is the log-likelihood increase of merging live blocks r < s.
func (m *merger) gain(r, s int) float64 {
	old := m.rowSum[r] + m.rowSum[s] - m.prof[r][s]
	return m.merged[r][s] - old
}

// penalty is the parameter part of the BIC change of any single merge.
func (m *merger) penalty() float64 {
	dk := m.fam.NumParams(m.n, m.live-1) - m.fam.NumParams(m.n, m.live)
	return float64(dk) * model.LogDyads(m.n)
}

// delta is the BIC change of merging live blocks r < s.
func (m *merger) delta(r, s int) float64 {
	return m.penalty() - 2*m.gain(r, s)
}

func (m *merger) scanRow(r int) {
	m.rowBest[r] = -1
	if !m.alive[r] {
		return
	}
	for s := r + 1; s < len(m.alive); s++ {
		if !m.alive[s] {
			continue
		}
		if g := m.gain(r, s); m.rowBest[r] < 0 || g > m.rowGain[r] {
			m.rowBest[r], m.rowGain[r] = s, g
		}
	}
}

// offer updates the best partner of row r after the gain of (r, s) changed,
// given that every other pair of the row kept its gain.
func (m *merger) offer(r, s int) {
	g := m.gain(r, s)
	if m.rowBest[r] < 0 || g > m.rowGain[r] || (g == m.rowGain[r] && s < m.rowBest[r]) {
		m.rowBest[r], m.rowGain[r] = s, g
	}
}

// best returns the live pair with the lowest delta, the first in (r, s)
// order on ties.
func (m *merger) best() (int, int, float64, bool) {
	br := -1
	for r, s := range m.rowBest {
		if s < 0 || !m.alive[r] {
			continue
		}
		if br < 0 || m.rowGain[r] > m.rowGain[br] {
			br = r
		}
	}
	if br < 0 {
		return -1, -1, 0, false
	}
	bs := m.rowBest[br]
	return br, bs, m.delta(br, bs), true
}

func pairKey(x, y int) (int, int) {
	if x > y {
		return y, x
	}
	return x, y
}

// apply merges block s into block r.
func (m *merger) apply(ctx context.Context, r, s int) error {
	touched := m.partners(r, s)
	near := make([]bool, len(m.alive))
	for _, x := range touched {
		if x != r && x != s {
			near[x] = true
		}
	}
	union := model.MergeBlocks(&m.blocks[r], &m.blocks[s])

	// Pairs next to r or s see their r and s partner terms replaced by a
	// single term for the union.
	for _, x := range touched {
		if x == r || x == s {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		for y := range m.alive {
			if !m.alive[y] || y == x || y == r || y == s || (near[y] && y < x) {
				continue
			}
			a, b := pairKey(x, y)
			uxy := model.MergeBlocks(&m.blocks[a], &m.blocks[b])
			lr := m.links[x][r].Add(m.links[y][r])
			ls := m.links[x][s].Add(m.links[y][s])
			before := model.Profile(m.fam, lr, &uxy, &m.blocks[r], false) +
				model.Profile(m.fam, ls, &uxy, &m.blocks[s], false)
			after := model.Profile(m.fam, lr.Add(ls), &uxy, &union, false)
			m.merged[a][b] += after - before
		}
	}

	m.blocks[r] = union
	m.links[r][r] = m.links[r][r].Add(m.links[s][s]).Add(m.links[r][s])
	for x := range m.alive {
		if x == r || x == s || !m.alive[x] {
			continue
		}
		l := m.links[r][x].Add(m.links[s][x])
		m.links[r][x] = l
		m.links[x][r] = l
	}
	m.alive[s] = false
	m.parent[s] = r
	m.live--

	m.nbrs[s] = nil
	m.nbrs[r] = m.nbrs[r][:0]
	for _, x := range touched {
		if x == r || x == s {
			continue
		}
		m.nbrs[r] = append(m.nbrs[r], x)
		m.nbrs[x] = relink(m.nbrs[x], r, s)
	}

	m.rowSum[r] = 0
	for x := range m.alive {
		if !m.alive[x] {
			continue
		}
		v := model.Profile(m.fam, m.links[r][x], &m.blocks[r], &m.blocks[x], x == r)
		if x != r {
			m.rowSum[x] += v - m.prof[x][r] - m.prof[x][s]
		}
		m.prof[r][x] = v
		m.prof[x][r] = v
		m.rowSum[r] += v
	}
	for x := range m.alive {
		if m.alive[x] && x != r {
			a, b := pairKey(r, x)
			m.merged[a][b] = m.mergedProfile(a, b)
		}
	}

	// Every changed gain has an endpoint in r or near it.
	near[r] = true
	for x := range m.alive {
		if !m.alive[x] {
			m.rowBest[x] = -1
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if b := m.rowBest[x]; near[x] || b < 0 || b == s || near[b] {
			m.scanRow(x)
			continue
		}
		for y := x + 1; y < len(m.alive); y++ {
			if near[y] && m.alive[y] {
				m.offer(x, y)
			}
		}
	}
	return nil
}

// relink replaces s by r in the sorted neighbor list nb.
func relink(nb []int, r, s int) []int {
	out := make([]int, 0, len(nb)+1)
	placed := false
	for _, x := range nb {
		if x == s || x == r {
			continue
		}
		if !placed && x > r {
			out = append(out, r)
			placed = true
		}
		out = append(out, x)
	}
	if !placed {
		out = append(out, r)
	}
	return out
}

func (m *merger) root(r int) int {
	for m.parent[r] != r {
		r = m.parent[r]
	}
	return r
}

func (m *merger) partition(p partition.Partition) partition.Partition {
	labels := make([]int, p.Len())
	for i := range labels {
		labels[i] = m.root(p.Label(i))
	}
	return partition.FromLabels(labels)
}

// MacroMerge repeatedly merges the pair of blocks with the largest BIC
// decrease until no merge lowers BIC. st must hold the statistics of p.
func MacroMerge(ctx context.Context, fam model.Family, st *model.Stats, p partition.Partition, logger zerolog.Logger) (*Result, error) {
	if st.NumBlocks() != p.NumBlocks() {
		return nil, fmt.Errorf("statistics have %d blocks, partition has %d", st.NumBlocks(), p.NumBlocks())
	}
	m, err := newMerger(ctx, fam, st)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for m.live > 1 {
		r, s, d, ok := m.best()
		if !ok || d >= -mergeTolerance {
			break
		}
		if err := m.apply(ctx, r, s); err != nil {
			return nil, err
		}
		res.Steps = append(res.Steps, Step{Into: r, From: s, Delta: d})
		logger.Debug().Int("into", r).Int("from", s).Float64("delta", d).Int("blocks", m.live).Msg("Merged blocks")
	}
	res.Partition = m.partition(p)
	logger.Info().Int("merges", len(res.Steps)).Int("blocks", m.live).Float64("bic_change", res.TotalDelta()).Msg("Macro merge completed")
	return res, nil
}

// TargetK merges the pair of blocks with the smallest BIC increase (or
// largest decrease) until exactly k blocks remain.
func TargetK(ctx context.Context, fam model.Family, st *model.Stats, p partition.Partition, k int, logger zerolog.Logger) (*Result, error) {
	if st.NumBlocks() != p.NumBlocks() {
		return nil, fmt.Errorf("statistics have %d blocks, partition has %d", st.NumBlocks(), p.NumBlocks())
	}
	if k < 1 || k > p.NumBlocks() {
		return nil, fmt.Errorf("%w: k=%d, partition has %d blocks", ErrTarget, k, p.NumBlocks())
	}
	m, err := newMerger(ctx, fam, st)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for m.live > k {
		r, s, d, _ := m.best()
		if err := m.apply(ctx, r, s); err != nil {
			return nil, err
		}
		res.Steps = append(res.Steps, Step{Into: r, From: s, Delta: d})
	}
	res.Partition = m.partition(p)
	logger.Info().Int("k", k).Int("merges", len(res.Steps)).Float64("bic_change", res.TotalDelta()).Msg("Target block count reached")
	return res, nil
}
