// Package compare scores the agreement of two partitions of the same nodes.
package compare

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/gilchrisn/domino/pkg/partition"
)

// ClusterStats summarizes block sizes.
type ClusterStats struct {
	Mean float64 `json:"mean"`
	Max  int     `json:"max"`
	Min  int     `json:"min"`
	Std  float64 `json:"std"`
}

// Metrics is the result of comparing two partitions.
type Metrics struct {
	NMI        float64         `json:"nmi"`
	ARI        float64         `json:"ari"`
	Blocks     [2]int          `json:"blocks"`
	SizeStats  [2]ClusterStats `json:"size_stats"`
	Similarity string          `json:"similarity"`
}

type table struct {
	n     float64
	cells []float64
	rows  []float64
	cols  []float64
}

// contingency counts co-memberships; cells are listed in (row, col) order.
func contingency(a, b partition.Partition) (*table, error) {
	if a.Len() != b.Len() {
		return nil, fmt.Errorf("partitions must cover the same nodes: %d vs %d", a.Len(), b.Len())
	}
	counts := make(map[[2]int]float64)
	t := &table{
		n:    float64(a.Len()),
		rows: make([]float64, a.NumBlocks()),
		cols: make([]float64, b.NumBlocks()),
	}
	for i := 0; i < a.Len(); i++ {
		r, c := a.Label(i), b.Label(i)
		counts[[2]int{r, c}]++
		t.rows[r]++
		t.cols[c]++
	}
	keys := make([][2]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	t.cells = make([]float64, len(keys))
	for i, k := range keys {
		t.cells[i] = counts[k]
	}
	return t, nil
}

func entropy(counts []float64, n float64) float64 {
	var h float64
	for _, c := range counts {
		if c > 0 {
			p := c / n
			h -= p * math.Log2(p)
		}
	}
	return h
}

// NMI is the mutual information of a and b normalized by their average
// entropy. Two single-block partitions score 1.
func NMI(a, b partition.Partition) (float64, error) {
	t, err := contingency(a, b)
	if err != nil || t.n == 0 {
		return 0, err
	}
	joint := entropy(t.cells, t.n)
	ha, hb := entropy(t.rows, t.n), entropy(t.cols, t.n)
	avg := (ha + hb) / 2
	if avg == 0 {
		return 1, nil
	}
	mi := ha + hb - joint
	return math.Max(0, math.Min(1, mi/avg)), nil
}

func pairs(x float64) float64 { return x * (x - 1) / 2 }

// ARI is the adjusted Rand index of a and b.
func ARI(a, b partition.Partition) (float64, error) {
	t, err := contingency(a, b)
	if err != nil || t.n < 2 {
		return 0, err
	}
	var index, sa, sb float64
	for _, c := range t.cells {
		index += pairs(c)
	}
	for _, c := range t.rows {
		sa += pairs(c)
	}
	for _, c := range t.cols {
		sb += pairs(c)
	}
	expected := sa * sb / pairs(t.n)
	maxIndex := (sa + sb) / 2
	if maxIndex == expected {
		return 1, nil
	}
	return (index - expected) / (maxIndex - expected), nil
}

// Compare computes NMI, ARI and block size statistics of both partitions.
func Compare(a, b partition.Partition) (*Metrics, error) {
	nmi, err := NMI(a, b)
	if err != nil {
		return nil, err
	}
	ari, err := ARI(a, b)
	if err != nil {
		return nil, err
	}
	similarity := "Low"
	if nmi > 0.7 {
		similarity = "High"
	} else if nmi > 0.4 {
		similarity = "Moderate"
	}
	return &Metrics{
		NMI:        nmi,
		ARI:        ari,
		Blocks:     [2]int{a.NumBlocks(), b.NumBlocks()},
		SizeStats:  [2]ClusterStats{sizeStats(a.Sizes()), sizeStats(b.Sizes())},
		Similarity: similarity,
	}, nil
}

func sizeStats(sizes []int) ClusterStats {
	if len(sizes) == 0 {
		return ClusterStats{}
	}
	v := make([]float64, len(sizes))
	for i, s := range sizes {
		v[i] = float64(s)
	}
	mean := floats.Sum(v) / float64(len(v))
	floats.AddConst(-mean, v)
	std := math.Sqrt(floats.Dot(v, v) / float64(len(v)))
	lo, hi := sizes[0], sizes[0]
	for _, s := range sizes {
		lo, hi = min(lo, s), max(hi, s)
	}
	return ClusterStats{
		Mean: math.Round(mean*100) / 100,
		Max:  hi,
		Min:  lo,
		Std:  math.Round(std*100) / 100,
	}
}
