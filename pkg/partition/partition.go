package partition

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Partition assigns every node exactly one block. Labels are canonical:
// blocks are numbered 0..B-1 in order of first appearance, so two
// partitions describing the same grouping compare equal label by label.
// A Partition is never mutated after construction.
type Partition struct {
	labels []int
	blocks int
}

// FromLabels normalizes an arbitrary label array.
func FromLabels(labels []int) Partition {
	out := make([]int, len(labels))
	remap := make(map[int]int)
	for i, l := range labels {
		c, ok := remap[l]
		if !ok {
			c = len(remap)
			remap[l] = c
		}
		out[i] = c
	}
	return Partition{labels: out, blocks: len(remap)}
}

// FromSets builds a partition of n nodes from node sets. The sets must be
// disjoint, cover 0..n-1 and be non-empty.
func FromSets(n int, sets [][]int) (Partition, error) {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	for b, set := range sets {
		if len(set) == 0 {
			return Partition{}, fmt.Errorf("block %d is empty", b)
		}
		for _, v := range set {
			if v < 0 || v >= n {
				return Partition{}, fmt.Errorf("node %d out of range [0,%d)", v, n)
			}
			if labels[v] >= 0 {
				return Partition{}, fmt.Errorf("node %d appears in blocks %d and %d", v, labels[v], b)
			}
			labels[v] = b
		}
	}
	for v, l := range labels {
		if l < 0 {
			return Partition{}, fmt.Errorf("node %d is not assigned to any block", v)
		}
	}
	return FromLabels(labels), nil
}

// Identity puts every node in its own block.
func Identity(n int) Partition {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	return Partition{labels: labels, blocks: n}
}

// Single puts all n nodes in one block.
func Single(n int) Partition {
	blocks := 1
	if n == 0 {
		blocks = 0
	}
	return Partition{labels: make([]int, n), blocks: blocks}
}

func (p Partition) Len() int       { return len(p.labels) }
func (p Partition) NumBlocks() int { return p.blocks }
func (p Partition) Label(i int) int {
	return p.labels[i]
}

// Labels returns a copy of the label array.
func (p Partition) Labels() []int {
	return slices.Clone(p.labels)
}

// Sets returns the members of each block in ascending node order.
func (p Partition) Sets() [][]int {
	sets := make([][]int, p.blocks)
	for i, l := range p.labels {
		sets[l] = append(sets[l], i)
	}
	return sets
}

// Sizes returns the number of nodes per block.
func (p Partition) Sizes() []int {
	sizes := make([]int, p.blocks)
	for _, l := range p.labels {
		sizes[l]++
	}
	return sizes
}

// Equal reports whether p and q group the nodes identically.
func (p Partition) Equal(q Partition) bool {
	return p.blocks == q.blocks && slices.Equal(p.labels, q.labels)
}

func (p Partition) MarshalJSON() ([]byte, error) {
	if p.labels == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.labels)
}

func (p *Partition) UnmarshalJSON(data []byte) error {
	var labels []int
	if err := json.Unmarshal(data, &labels); err != nil {
		return err
	}
	*p = FromLabels(labels)
	return nil
}
