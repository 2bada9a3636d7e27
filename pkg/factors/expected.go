package factors

import (
	"math"

	"github.com/gilchrisn/domino/pkg/graph"
)

// Expected returns the expected degree signature of each class under the
// solved null model.
func (r *Result) Expected() []graph.Link {
	out := make([]graph.Link, len(r.Classes))
	for c, a := range r.Classes {
		for d, b := range r.Classes {
			n := float64(b.Count)
			if c == d {
				n--
			}
			if n <= 0 {
				continue
			}
			p := edgeProbabilities(r.Mode, a.X, b.X)
			out[c][0] += n * p[0]
			out[c][1] += n * p[1]
		}
	}
	return out
}

// Residual is the largest absolute gap between observed and expected
// degrees over all classes and channels.
func (r *Result) Residual() float64 {
	var worst float64
	for c, e := range r.Expected() {
		d := r.Classes[c].Degree
		worst = math.Max(worst, math.Max(math.Abs(d[0]-e[0]), math.Abs(d[1]-e[1])))
	}
	return worst
}

// edgeProbabilities returns the per-channel expectation of one dyad.
func edgeProbabilities(mode graph.Mode, a, b [2]float64) [2]float64 {
	switch mode {
	case graph.Signed:
		pp, pn := a[0]*b[0], a[1]*b[1]
		den := 1 + pp + pn
		return [2]float64{pp / den, pn / den}
	case graph.Weighted:
		q := a[0] * b[0]
		return [2]float64{q / (1 - q), 0}
	default:
		q := a[0] * b[0]
		return [2]float64{q / (1 + q), 0}
	}
}
