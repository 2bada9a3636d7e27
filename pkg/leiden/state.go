package leiden

import (
	"math"
	"sort"

	"github.com/gilchrisn/domino/pkg/graph"
	"github.com/gilchrisn/domino/pkg/model"
)

// blockState is a partition of a level graph together with the block-pair
// link totals needed to evaluate node moves incrementally.
type blockState struct {
	lg       *levelGraph
	fam      model.Family
	numNodes int
	logV     float64

	label  []int
	agg    []model.Agg
	count  []int
	links  []map[int]graph.Link
	blocks int

	// scratch for the node being evaluated
	ev       []graph.Link
	evMark   []int
	evKeys   []int
	side     []float64
	sideMark []int
	stamp    int
	keys     []int
}

// newBlockState places level node v in block labels[v]; labels must lie in
// [0, lg.n).
func newBlockState(lg *levelGraph, fam model.Family, numNodes int, labels []int) *blockState {
	s := &blockState{
		lg:       lg,
		fam:      fam,
		numNodes: numNodes,
		logV:     model.LogDyads(numNodes),
		label:    append([]int(nil), labels...),
		agg:      make([]model.Agg, lg.n),
		count:    make([]int, lg.n),
		links:    make([]map[int]graph.Link, lg.n),
		ev:       make([]graph.Link, lg.n),
		evMark:   make([]int, lg.n),
		side:     make([]float64, lg.n),
		sideMark: make([]int, lg.n),
	}
	for v := 0; v < lg.n; v++ {
		c := s.label[v]
		if s.count[c] == 0 {
			s.blocks++
		}
		s.count[c]++
		s.agg[c] = s.agg[c].Plus(lg.agg[v])
		if !lg.self[v].IsZero(model.LinkEps) {
			s.addLink(c, c, lg.self[v])
		}
		for k, w := range lg.adj[v] {
			if w > v {
				s.addLink(c, s.label[w], lg.links[v][k])
			}
		}
	}
	return s
}

func neg(l graph.Link) graph.Link { return graph.Link{-l[0], -l[1]} }

func (s *blockState) addLink(a, b int, l graph.Link) {
	s.bump(a, b, l)
	if a != b {
		s.bump(b, a, l)
	}
}

func (s *blockState) bump(a, b int, l graph.Link) {
	m := s.links[a]
	if m == nil {
		m = make(map[int]graph.Link)
		s.links[a] = m
	}
	v := m[b].Add(l)
	for ch := range v {
		if math.Abs(v[ch]) <= model.LinkEps {
			v[ch] = 0
		}
	}
	if v[0] == 0 && v[1] == 0 {
		delete(m, b)
		return
	}
	m[b] = v
}

func (s *blockState) link(a, b int) graph.Link { return s.links[a][b] }

func (s *blockState) term(l graph.Link, a, b model.Agg, diag bool) float64 {
	return s.fam.MoveTerm(l, a, b, diag)
}

// penalty is the change of -1/2 k log V when the block count becomes after.
func (s *blockState) penalty(after int) float64 {
	dk := s.fam.NumParams(s.numNodes, after) - s.fam.NumParams(s.numNodes, s.blocks)
	return -0.5 * float64(dk) * s.logV
}

// gather collects the links from v to every block it touches into ev.
func (s *blockState) gather(v int) {
	s.stamp++
	s.evKeys = s.evKeys[:0]
	for k, w := range s.lg.adj[v] {
		b := s.label[w]
		if s.evMark[b] != s.stamp {
			s.evMark[b] = s.stamp
			s.ev[b] = graph.Link{}
			s.evKeys = append(s.evKeys, b)
		}
		s.ev[b] = s.ev[b].Add(s.lg.links[v][k])
	}
	sort.Ints(s.evKeys)
}

func (s *blockState) evAt(b int) graph.Link {
	if s.evMark[b] == s.stamp {
		return s.ev[b]
	}
	return graph.Link{}
}

// partners lists, in increasing order, the blocks linked to b or to the
// gathered node, excluding skip1 and skip2.
func (s *blockState) partners(b, skip1, skip2 int) []int {
	s.keys = s.keys[:0]
	for x := range s.links[b] {
		if x != skip1 && x != skip2 {
			s.keys = append(s.keys, x)
		}
	}
	for _, x := range s.evKeys {
		if x == skip1 || x == skip2 {
			continue
		}
		if _, ok := s.links[b][x]; !ok {
			s.keys = append(s.keys, x)
		}
	}
	sort.Ints(s.keys)
	return s.keys
}

// leave returns the quality change on every pair touching v's block when v
// is removed from it, and records the per-partner terms in side. gather(v)
// must have been called.
func (s *blockState) leave(v int) float64 {
	r := s.label[v]
	av := s.lg.agg[v]
	ar, arOut := s.agg[r], s.agg[r].Minus(av)

	var base float64
	for _, x := range s.partners(r, r, -1) {
		l := s.link(r, x)
		d := s.term(l.Sub(s.evAt(x)), arOut, s.agg[x], false) - s.term(l, ar, s.agg[x], false)
		s.side[x] = d
		s.sideMark[x] = s.stamp
		base += d
	}
	lrr := s.link(r, r)
	base += s.term(lrr.Sub(s.evAt(r)).Sub(s.lg.self[v]), arOut, arOut, true) - s.term(lrr, ar, ar, true)
	return base
}

// joinGain is the quality change of moving v from its block into t, given
// base from leave(v).
func (s *blockState) joinGain(v, t int, base float64) float64 {
	r := s.label[v]
	av := s.lg.agg[v]
	ar, arOut := s.agg[r], s.agg[r].Minus(av)
	at, atIn := s.agg[t], s.agg[t].Plus(av)

	gain := base
	if s.sideMark[t] == s.stamp {
		gain -= s.side[t]
	}
	for _, x := range s.partners(t, r, t) {
		l := s.link(t, x)
		gain += s.term(l.Add(s.evAt(x)), atIn, s.agg[x], false) - s.term(l, at, s.agg[x], false)
	}
	ltt := s.link(t, t)
	gain += s.term(ltt.Add(s.evAt(t)).Add(s.lg.self[v]), atIn, atIn, true) - s.term(ltt, at, at, true)
	lrt := s.link(r, t)
	gain += s.term(lrt.Sub(s.evAt(t)).Add(s.evAt(r)), arOut, atIn, false) - s.term(lrt, ar, at, false)

	after := s.blocks
	if s.count[r] == 1 {
		after--
	}
	if s.count[t] == 0 {
		after++
	}
	if after != s.blocks {
		gain += s.penalty(after)
	}
	return gain
}

// move relocates v into block t. gather(v) must have been called.
func (s *blockState) move(v, t int) {
	r := s.label[v]
	if r == t {
		return
	}
	for _, x := range s.evKeys {
		if x == r || x == t {
			continue
		}
		s.addLink(r, x, neg(s.ev[x]))
		s.addLink(t, x, s.ev[x])
	}
	self := s.lg.self[v]
	er, et := s.evAt(r), s.evAt(t)
	s.addLink(r, r, neg(er.Add(self)))
	s.addLink(t, t, et.Add(self))
	s.addLink(r, t, er.Sub(et))

	av := s.lg.agg[v]
	if s.count[t] == 0 {
		s.blocks++
	}
	s.count[t]++
	s.agg[t] = s.agg[t].Plus(av)
	s.count[r]--
	s.agg[r] = s.agg[r].Minus(av)
	s.label[v] = t
	if s.count[r] == 0 {
		s.blocks--
		s.agg[r] = model.Agg{}
		for x := range s.links[r] {
			if x != r {
				delete(s.links[x], r)
			}
		}
		s.links[r] = nil
	}
}

// quality is the penalized quality of the whole partition:
// the sum of pair move terms minus 1/2 k log V.
func (s *blockState) quality() float64 {
	var q float64
	for r := range s.links {
		s.keys = s.keys[:0]
		for x := range s.links[r] {
			if x >= r {
				s.keys = append(s.keys, x)
			}
		}
		sort.Ints(s.keys)
		for _, x := range s.keys {
			q += s.term(s.links[r][x], s.agg[r], s.agg[x], x == r)
		}
	}
	return q - 0.5*float64(s.fam.NumParams(s.numNodes, s.blocks))*s.logV
}
