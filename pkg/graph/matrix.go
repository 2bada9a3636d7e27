package graph

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotSquare  = errors.New("adjacency matrix is not square")
	ErrTooSmall   = errors.New("graph needs at least two nodes")
	ErrShape      = errors.New("negative matrix shape does not match adjacency")
	ErrNoNegative = errors.New("signed mode needs negative entries or a negative matrix")
	ErrTooLarge   = errors.New("graph exceeds the node limit")
)

// FromMatrix builds a graph from a dense adjacency matrix. The diagonal is
// ignored and the two triangles are combined per mode:
//
//	binary:   edge iff a_ij != 0 or a_ji != 0
//	weighted: w = (|a_ij| + |a_ji|) / 2
//	signed:   sign of (a_ij + a_ji)/2 - (|n_ij| + |n_ji|)/2
//
// neg is only read in signed mode and may be nil.
func FromMatrix(a mat.Matrix, neg mat.Matrix, mode Mode) (*Graph, error) {
	r, c := a.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotSquare, r, c)
	}
	if r < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooSmall, r)
	}
	if neg != nil {
		nr, nc := neg.Dims()
		if nr != r || nc != c {
			return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShape, nr, nc, r, c)
		}
	}

	n := r
	g := New(n, mode)
	if mode == Signed && neg == nil && !anyNegative(a) {
		return nil, ErrNoNegative
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			aij, aji := finite(a.At(i, j)), finite(a.At(j, i))
			var l Link
			switch mode {
			case Binary:
				if aij != 0 || aji != 0 {
					l = Link{1, 0}
				}
			case Weighted:
				l = Link{(math.Abs(aij) + math.Abs(aji)) / 2, 0}
			case Signed:
				net := (aij + aji) / 2
				if neg != nil {
					net -= (math.Abs(finite(neg.At(i, j))) + math.Abs(finite(neg.At(j, i)))) / 2
				}
				switch {
				case net > 0:
					l = Link{1, 0}
				case net < 0:
					l = Link{0, 1}
				}
			default:
				return nil, fmt.Errorf("unknown mode %v", mode)
			}
			if l.Strength() <= 0 {
				continue
			}
			if err := g.AddEdge(i, j, l); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func anyNegative(a mat.Matrix) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if i != j && a.At(i, j) < 0 {
				return true
			}
		}
	}
	return false
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
