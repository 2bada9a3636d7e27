package model

import (
	"math"

	"github.com/gilchrisn/domino/pkg/factors"
	"github.com/gilchrisn/domino/pkg/graph"
)

// Parameters are the fitted block-pair parameters of one partition. Theta
// holds p (or p+, p-) for plain families, z for wSBM and chi (or chi+, chi-)
// for degree-corrected ones.
type Parameters struct {
	Kind    Kind            `json:"kind"`
	Theta   [][][2]float64  `json:"theta"`
	Factors *factors.Result `json:"factors,omitempty"`
	Clipped int             `json:"clipped"`
}

// BICResult is the score of one (partition, parameters) pair.
type BICResult struct {
	LogLik    float64 `json:"loglik"`
	NumParams int     `json:"num_params"`
	V         float64 `json:"v"`
	BIC       float64 `json:"bic"`
	Clipped   int     `json:"clipped"`
}

// FitParameters computes the maximum likelihood parameters of every block
// pair, holding node factors fixed.
func FitParameters(f Family, st *Stats, x *factors.Result) *Parameters {
	b := st.NumBlocks()
	p := &Parameters{Kind: f.Kind(), Theta: make([][][2]float64, b)}
	if f.Kind().DegreeCorrected() {
		p.Factors = x
	}
	for r := range p.Theta {
		p.Theta[r] = make([][2]float64, b)
	}
	for r := 0; r < b; r++ {
		for s := r; s < b; s++ {
			l := st.Links[r][s]
			if l.IsZero(LinkEps) && f.Kind().DegreeCorrected() {
				continue
			}
			theta, clipped := f.Fit(l, &st.Blocks[r], &st.Blocks[s], r == s)
			if clipped {
				p.Clipped++
			}
			p.Theta[r][s] = theta
			p.Theta[s][r] = theta
		}
	}
	return p
}

// LogLik is the exact log-likelihood of st under params.
func LogLik(f Family, st *Stats, params *Parameters) (float64, int) {
	var ll float64
	clipped := 0
	if f.Kind().DegreeCorrected() {
		ll = st.EdgeTerm
	}
	b := st.NumBlocks()
	for r := 0; r < b; r++ {
		for s := r; s < b; s++ {
			v, c := f.PairLogLik(st.Links[r][s], &st.Blocks[r], &st.Blocks[s], r == s, params.Theta[r][s])
			if c {
				clipped++
			}
			ll += v
		}
	}
	return ll, clipped
}

// EvaluateBIC scores st under params: BIC = k log V - 2 loglik.
func EvaluateBIC(f Family, st *Stats, params *Parameters) BICResult {
	ll, clipped := LogLik(f, st, params)
	k := f.NumParams(st.N, st.NumBlocks())
	return BICResult{
		LogLik:    ll,
		NumParams: k,
		V:         NumDyads(st.N),
		BIC:       float64(k)*LogDyads(st.N) - 2*ll,
		Clipped:   clipped,
	}
}

// PairProfile is the profile log-likelihood of block pair (r, s) of st.
func PairProfile(f Family, st *Stats, r, s int) float64 {
	return Profile(f, st.Links[r][s], &st.Blocks[r], &st.Blocks[s], r == s)
}

// MergedProfile is the profile log-likelihood of every pair touching the
// block formed by merging r and s, read from existing statistics only.
// partners lists the other blocks to visit in ascending order; nil visits
// every block. Unlinked partners contribute nothing and may be left out.
func MergedProfile(f Family, blocks []Block, links [][]graph.Link, partners []int, r, s int) float64 {
	u := MergeBlocks(&blocks[r], &blocks[s])
	self := links[r][r].Add(links[s][s]).Add(links[r][s])
	total := Profile(f, self, &u, &u, true)
	visit := func(x int) {
		if x == r || x == s {
			return
		}
		l := links[r][x].Add(links[s][x])
		if l.IsZero(LinkEps) {
			return
		}
		total += Profile(f, l, &u, &blocks[x], false)
	}
	if partners == nil {
		for x := range blocks {
			visit(x)
		}
		return total
	}
	for _, x := range partners {
		visit(x)
	}
	return total
}

// IsFinite reports whether the score is usable.
func (b BICResult) IsFinite() bool {
	return !math.IsNaN(b.BIC) && !math.IsInf(b.BIC, 0)
}
