// Package factors solves the maximum-entropy node factors used by the
// degree-corrected block models: UBCM for binary graphs, SCM for signed
// graphs and WCM for weighted graphs.
//
// Nodes with the same degree signature share a factor, so every fixed-point
// sweep runs over degree classes instead of nodes.
package factors

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/gilchrisn/domino/pkg/graph"
)

const (
	// MaxFactor caps binary and signed factors of saturated nodes.
	MaxFactor = 1e12
	// wcmCeil keeps weighted factors strictly below one.
	wcmCeil = 1 - 1e-10
	tiny    = 1e-300

	minDamping = 1.0 / 64
)

// Options controls the fixed-point iteration.
type Options struct {
	Tolerance     float64 `json:"tolerance"`
	MaxIterations int     `json:"max_iterations"`
}

func DefaultOptions() Options {
	return Options{Tolerance: 1e-8, MaxIterations: 1000}
}

// Class groups the nodes sharing one degree signature.
type Class struct {
	Degree graph.Link `json:"degree"`
	Count  int        `json:"count"`
	X      [2]float64 `json:"x"`
}

// Result holds solved factors and convergence diagnostics.
type Result struct {
	Mode       graph.Mode `json:"mode"`
	Classes    []Class    `json:"classes"`
	NodeClass  []int      `json:"-"`
	Iterations int        `json:"iterations"`
	Converged  bool       `json:"converged"`
	MaxDelta   float64    `json:"max_delta"`
}

// X returns the factor pair of node i. Channel 1 is only used by signed graphs.
func (r *Result) X(i int) [2]float64 {
	return r.Classes[r.NodeClass[i]].X
}

// Nodes expands the class factors to one entry per node.
func (r *Result) Nodes() [][2]float64 {
	out := make([][2]float64, len(r.NodeClass))
	for i, c := range r.NodeClass {
		out[i] = r.Classes[c].X
	}
	return out
}

// Solve runs the fixed point for g's mode. Reaching the iteration cap is not
// an error: the last iterate is returned with Converged=false.
func Solve(g *graph.Graph, opts Options, logger zerolog.Logger) *Result {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}

	res := classify(g)
	s := newSystem(res)
	s.initialize()

	// Oscillating sweeps are damped; the step size recovers once the
	// residual shrinks again.
	alpha, prev := 1.0, math.Inf(1)
	for it := 1; it <= opts.MaxIterations; it++ {
		s.step()
		res.Iterations = it
		res.MaxDelta = s.delta()
		if res.MaxDelta < opts.Tolerance {
			s.swap()
			res.Converged = true
			break
		}
		if res.MaxDelta > prev {
			alpha = math.Max(alpha/2, minDamping)
		} else {
			alpha = math.Min(alpha*1.25, 1)
		}
		s.relax(alpha)
		prev = res.MaxDelta
	}
	s.store()

	ev := logger.Debug()
	if !res.Converged {
		ev = logger.Warn()
	}
	ev.Str("mode", g.Mode.String()).
		Int("classes", len(res.Classes)).
		Int("iterations", res.Iterations).
		Float64("max_delta", res.MaxDelta).
		Bool("converged", res.Converged).
		Msg("Degree factors solved")
	return res
}

// classify groups nodes by degree signature, ordered by ascending degree.
func classify(g *graph.Graph) *Result {
	index := make(map[graph.Link]int)
	var degrees []graph.Link
	for _, d := range g.Degrees {
		if _, ok := index[d]; !ok {
			index[d] = len(degrees)
			degrees = append(degrees, d)
		}
	}
	sort.Slice(degrees, func(i, j int) bool {
		if degrees[i][0] != degrees[j][0] {
			return degrees[i][0] < degrees[j][0]
		}
		return degrees[i][1] < degrees[j][1]
	})
	for c, d := range degrees {
		index[d] = c
	}

	res := &Result{Mode: g.Mode, Classes: make([]Class, len(degrees)), NodeClass: make([]int, g.NumNodes)}
	for c, d := range degrees {
		res.Classes[c].Degree = d
	}
	for i, d := range g.Degrees {
		c := index[d]
		res.NodeClass[i] = c
		res.Classes[c].Count++
	}
	return res
}

// system holds the per-channel iterates as flat slices.
type system struct {
	res      *Result
	channels int
	count    []float64
	k        [2][]float64
	x, next  [2][]float64
}

func newSystem(res *Result) *system {
	n := len(res.Classes)
	s := &system{res: res, channels: 1, count: make([]float64, n)}
	if res.Mode == graph.Signed {
		s.channels = 2
	}
	for ch := 0; ch < 2; ch++ {
		s.k[ch] = make([]float64, n)
		s.x[ch] = make([]float64, n)
		s.next[ch] = make([]float64, n)
	}
	for c, cl := range res.Classes {
		s.count[c] = float64(cl.Count)
		s.k[0][c] = cl.Degree[0]
		s.k[1][c] = cl.Degree[1]
	}
	return s
}

func (s *system) initialize() {
	for ch := 0; ch < s.channels; ch++ {
		total := floats.Dot(s.count, s.k[ch])
		if total <= 0 {
			continue
		}
		root := math.Sqrt(total)
		for c, k := range s.k[ch] {
			if s.res.Mode == graph.Weighted {
				s.x[ch][c] = k / (k + root)
			} else {
				s.x[ch][c] = k / root
			}
		}
	}
}

func (s *system) step() {
	switch s.res.Mode {
	case graph.Binary:
		s.stepUBCM()
	case graph.Signed:
		s.stepSCM()
	case graph.Weighted:
		s.stepWCM()
	}
}

// stepUBCM: x_c <- k_c / sum_{j != i} x_j / (1 + x_c x_j)
func (s *system) stepUBCM() {
	x, next := s.x[0], s.next[0]
	for c, k := range s.k[0] {
		if k <= 0 {
			next[c] = 0
			continue
		}
		xc := x[c]
		var den float64
		for d, xd := range x {
			if xd == 0 {
				continue
			}
			den += s.count[d] * xd / (1 + xc*xd)
		}
		den -= xc / (1 + xc*xc)
		next[c] = clampFactor(k, den)
	}
}

// stepSCM shares the denominator 1 + x+_c x+_j + x-_c x-_j between channels.
func (s *system) stepSCM() {
	xp, xn := s.x[0], s.x[1]
	for c := range s.count {
		kp, kn := s.k[0][c], s.k[1][c]
		if kp <= 0 && kn <= 0 {
			s.next[0][c], s.next[1][c] = 0, 0
			continue
		}
		var denP, denN float64
		for d := range s.count {
			if xp[d] == 0 && xn[d] == 0 {
				continue
			}
			den := 1 + xp[c]*xp[d] + xn[c]*xn[d]
			denP += s.count[d] * xp[d] / den
			denN += s.count[d] * xn[d] / den
		}
		self := 1 + xp[c]*xp[c] + xn[c]*xn[c]
		denP -= xp[c] / self
		denN -= xn[c] / self
		s.next[0][c] = clampFactor(kp, denP)
		s.next[1][c] = clampFactor(kn, denN)
	}
}

// stepWCM: x_c <- s_c / sum_{j != i} x_j / (1 - x_c x_j), with x in (0, 1).
func (s *system) stepWCM() {
	x, next := s.x[0], s.next[0]
	for c, str := range s.k[0] {
		if str <= 0 {
			next[c] = 0
			continue
		}
		xc := x[c]
		var den float64
		for d, xd := range x {
			if xd == 0 {
				continue
			}
			den += s.count[d] * xd / (1 - xc*xd)
		}
		den -= xc / (1 - xc*xc)
		v := wcmCeil
		if den > tiny {
			v = math.Min(str/den, wcmCeil)
		}
		next[c] = v
	}
}

func clampFactor(k, den float64) float64 {
	if k <= 0 {
		return 0
	}
	if den <= tiny {
		return MaxFactor
	}
	return math.Min(k/den, MaxFactor)
}

func (s *system) delta() float64 {
	var d float64
	for ch := 0; ch < s.channels; ch++ {
		if len(s.x[ch]) == 0 {
			continue
		}
		d = math.Max(d, floats.Distance(s.next[ch], s.x[ch], math.Inf(1)))
	}
	return d
}

// relax moves x a fraction alpha of the way towards the last sweep.
func (s *system) relax(alpha float64) {
	for ch := 0; ch < s.channels; ch++ {
		if alpha == 1 {
			s.x[ch], s.next[ch] = s.next[ch], s.x[ch]
			continue
		}
		for c, v := range s.next[ch] {
			s.x[ch][c] += alpha * (v - s.x[ch][c])
		}
	}
}

func (s *system) swap() {
	for ch := 0; ch < s.channels; ch++ {
		s.x[ch], s.next[ch] = s.next[ch], s.x[ch]
	}
}

func (s *system) store() {
	for c := range s.res.Classes {
		s.res.Classes[c].X = [2]float64{s.x[0][c], s.x[1][c]}
	}
}
