package model

import (
	"math"

	"github.com/gilchrisn/domino/pkg/graph"
)

// MaxAffinity caps the block affinity of saturated degree-corrected pairs.
const MaxAffinity = 1e12

const (
	rootIterations  = 200
	pointIterations = 1000
	tinyRate        = 1e-300
)

// classPairs expands two class histograms into dyad weights and per-channel
// factor products. Pairs whose products are all zero carry no probability
// mass and are dropped.
func classPairs(a, b *Block, diag bool) (w []float64, prod [][2]float64) {
	add := func(n float64, x, y [2]float64) {
		p := [2]float64{x[0] * y[0], x[1] * y[1]}
		if n <= 0 || (p[0] == 0 && p[1] == 0) {
			return
		}
		w = append(w, n)
		prod = append(prod, p)
	}
	if diag {
		for i, ci := range a.Hist {
			add(ci.Count*(ci.Count-1)/2, ci.X, ci.X)
			for _, cj := range a.Hist[i+1:] {
				add(ci.Count*cj.Count, ci.X, cj.X)
			}
		}
		return w, prod
	}
	for _, ci := range a.Hist {
		for _, cj := range b.Hist {
			add(ci.Count*cj.Count, ci.X, cj.X)
		}
	}
	return w, prod
}

// poissonMove is the Poisson profile surrogate sum_ch L log(L/S) - L with
// S the expected factor mass of the pair.
func poissonMove(l graph.Link, a, b Agg, diag bool, channels int) float64 {
	var q float64
	for ch := 0; ch < channels; ch++ {
		if l[ch] <= LinkEps {
			continue
		}
		var s float64
		if diag {
			s = (a.X[ch]*a.X[ch] - a.X2[ch]) / 2
		} else {
			s = a.X[ch] * b.X[ch]
		}
		if s < tinyRate {
			s = tinyRate
		}
		q += l[ch]*math.Log(l[ch]/s) - l[ch]
	}
	return q
}

// solveIncreasing finds the root of an increasing function on [lo, hi]
// starting at u, using Newton steps safeguarded by bisection.
func solveIncreasing(g func(u float64) (v, dv float64), lo, hi, u, scale float64) float64 {
	for i := 0; i < rootIterations; i++ {
		v, dv := g(u)
		if math.Abs(v) <= 1e-12*scale {
			return u
		}
		if v > 0 {
			hi = u
		} else {
			lo = u
		}
		next := u - v/dv
		if dv <= 0 || math.IsNaN(next) || next <= lo || next >= hi {
			next = lo + (hi-lo)/2
		}
		if hi-lo <= 1e-15*math.Max(1, math.Abs(u)) {
			return next
		}
		u = next
	}
	return u
}

// binaryDC: P(edge ij) = chi x_i x_j / (1 + chi x_i x_j).
type binaryDC struct{}

func (binaryDC) Kind() Kind { return DcSBM }

func (binaryDC) NumParams(n, b int) int { return triangular(b) + n }

func (binaryDC) MoveTerm(l graph.Link, a, b Agg, diag bool) float64 {
	return poissonMove(l, a, b, diag, 1)
}

func (binaryDC) Fit(l graph.Link, a, b *Block, diag bool) ([2]float64, bool) {
	target := l[0]
	if target <= LinkEps {
		return [2]float64{}, false
	}
	w, prod := classPairs(a, b, diag)
	var s, total float64
	for k, p := range prod {
		s += w[k] * p[0]
		total += w[k]
	}
	hi := math.Log(MaxAffinity)
	if s <= 0 || target >= total {
		return [2]float64{MaxAffinity}, true
	}
	lo := math.Log(target / s)
	if lo >= hi {
		return [2]float64{MaxAffinity}, true
	}
	g := func(u float64) (float64, float64) {
		chi := math.Exp(u)
		var v, dv float64
		for k, p := range prod {
			q := chi * p[0]
			sig := q / (1 + q)
			v += w[k] * sig
			dv += w[k] * sig * (1 - sig)
		}
		return v - target, dv
	}
	if v, _ := g(hi); v < 0 {
		return [2]float64{MaxAffinity}, true
	}
	u := solveIncreasing(g, lo, hi, lo, target)
	return [2]float64{math.Exp(u)}, false
}

func (binaryDC) PairLogLik(l graph.Link, a, b *Block, diag bool, theta [2]float64) (float64, bool) {
	chi := theta[0]
	if chi <= 0 {
		return xlogyFloor(l[0], 0)
	}
	ll := xlogy(l[0], chi)
	w, prod := classPairs(a, b, diag)
	for k, p := range prod {
		ll -= w[k] * math.Log1p(chi*p[0])
	}
	return ll, false
}

// signedDC: P(+) = chi+ a+ / D, P(-) = chi- a- / D, P(0) = 1/D with
// D = 1 + chi+ a+ + chi- a- and a± = x±_i x±_j.
type signedDC struct{}

func (signedDC) Kind() Kind { return SignedDcSBM }

func (signedDC) NumParams(n, b int) int { return b*(b+1) + 2*n }

func (signedDC) MoveTerm(l graph.Link, a, b Agg, diag bool) float64 {
	return poissonMove(l, a, b, diag, 2)
}

func (signedDC) Fit(l graph.Link, a, b *Block, diag bool) ([2]float64, bool) {
	if l.IsZero(LinkEps) {
		return [2]float64{}, false
	}
	w, prod := classPairs(a, b, diag)
	var s [2]float64
	var total float64
	for k, p := range prod {
		s[0] += w[k] * p[0]
		s[1] += w[k] * p[1]
		total += w[k]
	}

	var chi [2]float64
	for ch := 0; ch < 2; ch++ {
		if l[ch] > LinkEps && s[ch] > 0 {
			chi[ch] = l[ch] / s[ch]
		}
	}
	if l.Strength() >= total {
		scale := MaxAffinity / math.Max(chi[0]+chi[1], tinyRate)
		return [2]float64{chi[0] * scale, chi[1] * scale}, true
	}

	clipped := false
	for it := 0; it < pointIterations; it++ {
		var e [2]float64
		for k, p := range prod {
			d := 1 + chi[0]*p[0] + chi[1]*p[1]
			e[0] += w[k] * chi[0] * p[0] / d
			e[1] += w[k] * chi[1] * p[1] / d
		}
		change := 0.0
		for ch := 0; ch < 2; ch++ {
			if chi[ch] == 0 || e[ch] <= 0 {
				continue
			}
			next := chi[ch] * l[ch] / e[ch]
			if next > MaxAffinity {
				next = MaxAffinity
				clipped = true
			}
			change = math.Max(change, math.Abs(next-chi[ch])/chi[ch])
			chi[ch] = next
		}
		if change < 1e-12 {
			break
		}
	}
	return chi, clipped
}

func (signedDC) PairLogLik(l graph.Link, a, b *Block, diag bool, theta [2]float64) (float64, bool) {
	pos, c1 := xlogyFloor(l[0], theta[0])
	neg, c2 := xlogyFloor(l[1], theta[1])
	ll := pos + neg
	if theta[0] == 0 && theta[1] == 0 {
		return ll, c1 || c2
	}
	w, prod := classPairs(a, b, diag)
	for k, p := range prod {
		ll -= w[k] * math.Log1p(theta[0]*p[0]+theta[1]*p[1])
	}
	return ll, c1 || c2
}

// weightedDC: dyad weights are geometric with P(w) = q^w (1-q), q = chi x_i x_j.
type weightedDC struct{}

func (weightedDC) Kind() Kind { return WdcSBM }

func (weightedDC) NumParams(n, b int) int { return triangular(b) + n }

func (weightedDC) MoveTerm(l graph.Link, a, b Agg, diag bool) float64 {
	return poissonMove(l, a, b, diag, 1)
}

func (weightedDC) Fit(l graph.Link, a, b *Block, diag bool) ([2]float64, bool) {
	target := l[0]
	if target <= LinkEps {
		return [2]float64{}, false
	}
	w, prod := classPairs(a, b, diag)
	var s, amax float64
	for k, p := range prod {
		s += w[k] * p[0]
		amax = math.Max(amax, p[0])
	}
	if s <= 0 {
		return [2]float64{}, true
	}
	capU := math.Log((1 - 1e-12) / amax)
	lo := math.Log(target / (s + target*amax))
	hi := math.Min(math.Log(target/s), capU)
	g := func(u float64) (float64, float64) {
		chi := math.Exp(u)
		var v, dv float64
		for k, p := range prod {
			q := chi * p[0]
			r := 1 / (1 - q)
			v += w[k] * q * r
			dv += w[k] * q * r * r
		}
		return v - target, dv
	}
	if v, _ := g(hi); v < 0 {
		return [2]float64{math.Exp(capU)}, true
	}
	u := solveIncreasing(g, lo, hi, lo, target)
	return [2]float64{math.Exp(u)}, false
}

func (weightedDC) PairLogLik(l graph.Link, a, b *Block, diag bool, theta [2]float64) (float64, bool) {
	chi := theta[0]
	if chi <= 0 {
		return xlogyFloor(l[0], 0)
	}
	ll := xlogy(l[0], chi)
	clipped := false
	w, prod := classPairs(a, b, diag)
	for k, p := range prod {
		q := chi * p[0]
		if q >= 1-ProbFloor {
			ll += w[k] * math.Log(ProbFloor)
			clipped = true
			continue
		}
		ll += w[k] * math.Log1p(-q)
	}
	return ll, clipped
}
