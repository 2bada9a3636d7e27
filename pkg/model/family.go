// Package model implements the six block-model families scored by BIC:
// SBM, dcSBM, signedSBM, signedDcSBM, wSBM and wdcSBM.
//
// A Family scores one block pair at a time. Every pair with no links
// contributes exactly zero at its maximum likelihood estimate, so whole
// partition scores only visit linked pairs.
package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/gilchrisn/domino/pkg/graph"
)

// Kind names a model family.
type Kind int

const (
	SBM Kind = iota
	DcSBM
	SignedSBM
	SignedDcSBM
	WSBM
	WdcSBM
)

var kindNames = [...]string{"SBM", "dcSBM", "signedSBM", "signedDcSBM", "wSBM", "wdcSBM"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Kinds lists every family in declaration order.
func Kinds() []Kind {
	return []Kind{SBM, DcSBM, SignedSBM, SignedDcSBM, WSBM, WdcSBM}
}

// ParseKind accepts family names case-insensitively.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown model family %q", s)
}

// KindFor selects the family for a graph mode.
func KindFor(mode graph.Mode, degreeCorrected bool) Kind {
	var k Kind
	switch mode {
	case graph.Signed:
		k = SignedSBM
	case graph.Weighted:
		k = WSBM
	default:
		k = SBM
	}
	if degreeCorrected {
		k++
	}
	return k
}

func (k Kind) Mode() graph.Mode {
	switch k {
	case SignedSBM, SignedDcSBM:
		return graph.Signed
	case WSBM, WdcSBM:
		return graph.Weighted
	}
	return graph.Binary
}

func (k Kind) DegreeCorrected() bool {
	return k == DcSBM || k == SignedDcSBM || k == WdcSBM
}

// Family scores block pairs for one model.
type Family interface {
	Kind() Kind

	// NumParams is the free parameter count for n nodes in b blocks.
	NumParams(n, b int) int

	// MoveTerm is the quality contribution of one block pair while nodes
	// are being moved. diag marks a block paired with itself.
	MoveTerm(l graph.Link, a, b Agg, diag bool) float64

	// Fit returns the maximum likelihood pair parameters. clipped reports
	// a probability kept off 0 or 1, or an affinity that had to be capped.
	Fit(l graph.Link, a, b *Block, diag bool) (theta [2]float64, clipped bool)

	// PairLogLik is the log-likelihood of one block pair under theta,
	// excluding the per-edge factor term of degree-corrected families.
	// clipped reports a probability that had to be floored.
	PairLogLik(l graph.Link, a, b *Block, diag bool, theta [2]float64) (ll float64, clipped bool)
}

// New returns the family implementation for k.
func New(k Kind) (Family, error) {
	switch k {
	case SBM:
		return binarySBM{}, nil
	case DcSBM:
		return binaryDC{}, nil
	case SignedSBM:
		return signedSBM{}, nil
	case SignedDcSBM:
		return signedDC{}, nil
	case WSBM:
		return weightedSBM{}, nil
	case WdcSBM:
		return weightedDC{}, nil
	}
	return nil, fmt.Errorf("unknown model family %v", k)
}

// Profile is the pair log-likelihood at its maximum likelihood parameters.
func Profile(f Family, l graph.Link, a, b *Block, diag bool) float64 {
	if l.IsZero(LinkEps) {
		return 0
	}
	theta, _ := f.Fit(l, a, b, diag)
	ll, _ := f.PairLogLik(l, a, b, diag, theta)
	return ll
}

// Dyads counts the node pairs between two blocks, or inside one when diag.
func Dyads(a, b float64, diag bool) float64 {
	if diag {
		return a * (a - 1) / 2
	}
	return a * b
}

// NumDyads is V = N(N-1)/2, the dyad count of the whole graph.
func NumDyads(n int) float64 {
	return float64(n) * float64(n-1) / 2
}

// LogDyads is log V; zero for graphs with fewer than two nodes.
func LogDyads(n int) float64 {
	if n < 2 {
		return 0
	}
	return math.Log(NumDyads(n))
}

func triangular(b int) int { return b * (b + 1) / 2 }
