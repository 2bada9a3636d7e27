package graph

import (
	"fmt"
	"strings"
)

// Mode selects how edge values are interpreted.
type Mode int

const (
	Binary Mode = iota
	Signed
	Weighted
)

func (m Mode) String() string {
	switch m {
	case Binary:
		return "binary"
	case Signed:
		return "signed"
	case Weighted:
		return "weighted"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode accepts "binary", "signed" or "weighted" (case insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary":
		return Binary, nil
	case "signed":
		return Signed, nil
	case "weighted":
		return Weighted, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Link carries the per-channel value of an edge or an edge total.
// Binary graphs use channel 0 as an edge count. Signed graphs count positive
// edges in channel 0 and negative edges in channel 1. Weighted graphs keep the
// weight in channel 0.
type Link [2]float64

func (l Link) Add(o Link) Link { return Link{l[0] + o[0], l[1] + o[1]} }
func (l Link) Sub(o Link) Link { return Link{l[0] - o[0], l[1] - o[1]} }

// Strength is the total connection mass of the link regardless of sign.
func (l Link) Strength() float64 { return l[0] + l[1] }

// IsZero reports whether every channel is below eps.
func (l Link) IsZero(eps float64) bool { return l[0] <= eps && l[1] <= eps }

// Graph is an undirected graph without self-loops whose edges carry a Link.
// It is built once and only read afterwards.
type Graph struct {
	NumNodes  int      `json:"num_nodes"`
	NumEdges  int      `json:"num_edges"`
	Mode      Mode     `json:"mode"`
	Adjacency [][]int  `json:"-"`
	Links     [][]Link `json:"-"`
	Degrees   []Link   `json:"degrees"`
	Totals    Link     `json:"totals"`
}

// New creates an edgeless graph with n nodes.
func New(n int, mode Mode) *Graph {
	return &Graph{
		NumNodes:  n,
		Mode:      mode,
		Adjacency: make([][]int, n),
		Links:     make([][]Link, n),
		Degrees:   make([]Link, n),
	}
}

// AddEdge adds the undirected edge u-v. Callers must not add the same pair twice.
func (g *Graph) AddEdge(u, v int, l Link) error {
	if u < 0 || u >= g.NumNodes || v < 0 || v >= g.NumNodes {
		return fmt.Errorf("node index out of range: u=%d, v=%d, numNodes=%d", u, v, g.NumNodes)
	}
	if u == v {
		return fmt.Errorf("self-loop on node %d", u)
	}
	if l[0] < 0 || l[1] < 0 || l.Strength() <= 0 {
		return fmt.Errorf("edge %d-%d must carry a positive value: %v", u, v, l)
	}

	g.Adjacency[u] = append(g.Adjacency[u], v)
	g.Links[u] = append(g.Links[u], l)
	g.Adjacency[v] = append(g.Adjacency[v], u)
	g.Links[v] = append(g.Links[v], l)
	g.Degrees[u] = g.Degrees[u].Add(l)
	g.Degrees[v] = g.Degrees[v].Add(l)
	g.Totals = g.Totals.Add(l)
	g.NumEdges++
	return nil
}

// Neighbors returns the neighbors of node and the links to them.
func (g *Graph) Neighbors(node int) ([]int, []Link) {
	if node < 0 || node >= g.NumNodes {
		return nil, nil
	}
	return g.Adjacency[node], g.Links[node]
}

// HasNegative reports whether a signed graph holds at least one negative edge.
func (g *Graph) HasNegative() bool {
	return g.Totals[1] > 0
}
