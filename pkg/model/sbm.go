package model

import (
	"math"

	"github.com/gilchrisn/domino/pkg/graph"
)

// ProbFloor is the smallest probability or rate used inside a logarithm.
var ProbFloor = math.Nextafter(1, 2) - 1

// xlogy is x*log(y) with 0*log(0) = 0.
func xlogy(x, y float64) float64 {
	if x <= 0 {
		return 0
	}
	return x * math.Log(y)
}

// xlogyFloor is xlogy with y floored at ProbFloor when x is positive.
func xlogyFloor(x, y float64) (float64, bool) {
	if x <= 0 {
		return 0, false
	}
	if y < ProbFloor {
		return x * math.Log(ProbFloor), true
	}
	return x * math.Log(y), false
}

// clampProb moves p into [ProbFloor, 1-ProbFloor] and reports whether it
// had to.
func clampProb(p float64) (float64, bool) {
	switch {
	case p < ProbFloor:
		return ProbFloor, true
	case p > 1-ProbFloor:
		return 1 - ProbFloor, true
	}
	return p, false
}

// binarySBM: each dyad of blocks (r,s) is an edge with probability p_rs.
type binarySBM struct{}

func (binarySBM) Kind() Kind { return SBM }

func (binarySBM) NumParams(n, b int) int { return triangular(b) }

func (binarySBM) MoveTerm(l graph.Link, a, b Agg, diag bool) float64 {
	m := Dyads(a.Size, b.Size, diag)
	if l[0] <= LinkEps || m <= 0 {
		return 0
	}
	p := l[0] / m
	return xlogy(l[0], p) + xlogy(m-l[0], 1-p)
}

func (binarySBM) Fit(l graph.Link, a, b *Block, diag bool) ([2]float64, bool) {
	m := Dyads(a.Size, b.Size, diag)
	if m <= 0 {
		return [2]float64{}, false
	}
	p, clipped := clampProb(l[0] / m)
	return [2]float64{p}, clipped
}

func (binarySBM) PairLogLik(l graph.Link, a, b *Block, diag bool, theta [2]float64) (float64, bool) {
	m := Dyads(a.Size, b.Size, diag)
	if m <= 0 {
		return 0, false
	}
	e, c1 := xlogyFloor(l[0], theta[0])
	ne, c2 := xlogyFloor(m-l[0], 1-theta[0])
	return e + ne, c1 || c2
}

// signedSBM: each dyad is positive, negative or absent with block-pair
// probabilities p+_rs, p-_rs and 1-p+_rs-p-_rs.
type signedSBM struct{}

func (signedSBM) Kind() Kind { return SignedSBM }

func (signedSBM) NumParams(n, b int) int { return b * (b + 1) }

func (signedSBM) MoveTerm(l graph.Link, a, b Agg, diag bool) float64 {
	m := Dyads(a.Size, b.Size, diag)
	if l.IsZero(LinkEps) || m <= 0 {
		return 0
	}
	zero := m - l[0] - l[1]
	return xlogy(l[0], l[0]/m) + xlogy(l[1], l[1]/m) + xlogy(zero, zero/m)
}

func (signedSBM) Fit(l graph.Link, a, b *Block, diag bool) ([2]float64, bool) {
	m := Dyads(a.Size, b.Size, diag)
	if m <= 0 {
		return [2]float64{}, false
	}
	pos, c1 := clampProb(l[0] / m)
	neg, c2 := clampProb(l[1] / m)
	// The absent-edge probability is floored by taking mass from the
	// larger channel.
	c3 := false
	if over := pos + neg - (1 - ProbFloor); over > 0 {
		if pos >= neg {
			pos -= over
		} else {
			neg -= over
		}
		c3 = true
	}
	return [2]float64{pos, neg}, c1 || c2 || c3
}

func (signedSBM) PairLogLik(l graph.Link, a, b *Block, diag bool, theta [2]float64) (float64, bool) {
	m := Dyads(a.Size, b.Size, diag)
	if m <= 0 {
		return 0, false
	}
	pos, c1 := xlogyFloor(l[0], theta[0])
	neg, c2 := xlogyFloor(l[1], theta[1])
	none, c3 := xlogyFloor(m-l[0]-l[1], 1-theta[0]-theta[1])
	return pos + neg + none, c1 || c2 || c3
}

// weightedSBM: dyad weights are geometric with block-pair mean z_rs,
// P(w) = z^w / (1+z)^(w+1).
type weightedSBM struct{}

func (weightedSBM) Kind() Kind { return WSBM }

func (weightedSBM) NumParams(n, b int) int { return triangular(b) }

func (weightedSBM) MoveTerm(l graph.Link, a, b Agg, diag bool) float64 {
	m := Dyads(a.Size, b.Size, diag)
	if l[0] <= LinkEps || m <= 0 {
		return 0
	}
	z := l[0] / m
	return xlogy(l[0], z) - (l[0]+m)*math.Log1p(z)
}

func (weightedSBM) Fit(l graph.Link, a, b *Block, diag bool) ([2]float64, bool) {
	m := Dyads(a.Size, b.Size, diag)
	if m <= 0 {
		return [2]float64{}, false
	}
	return [2]float64{l[0] / m}, false
}

func (weightedSBM) PairLogLik(l graph.Link, a, b *Block, diag bool, theta [2]float64) (float64, bool) {
	m := Dyads(a.Size, b.Size, diag)
	if m <= 0 {
		return 0, false
	}
	w, clipped := xlogyFloor(l[0], theta[0])
	return w - (l[0]+m)*math.Log1p(math.Max(theta[0], 0)), clipped
}
