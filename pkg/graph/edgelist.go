package graph

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ReadEdgeList parses "from to [weight]" lines into a symmetric matrix.
// Blank lines and lines starting with '#' or '%' are skipped. Node labels are
// ordered numerically when every label is an integer, lexicographically
// otherwise; the returned slice maps matrix index to label. Repeated edges
// accumulate and self-loops are dropped.
//
// The result is a dense N x N matrix. When maxNodes is positive, lists naming
// more nodes fail with ErrTooLarge before the matrix is allocated.
func ReadEdgeList(r io.Reader, maxNodes int) (*mat.SymDense, []string, error) {
	type edge struct {
		from, to string
		weight   float64
	}

	var edges []edge
	labels := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "%") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return nil, nil, fmt.Errorf("invalid edge format on line %d: expected 'from to [weight]'", lineNum)
		}
		weight := 1.0
		if len(parts) >= 3 {
			w, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid weight on line %d: %w", lineNum, err)
			}
			weight = w
		}
		labels[parts[0]] = struct{}{}
		labels[parts[1]] = struct{}{}
		edges = append(edges, edge{from: parts[0], to: parts[1], weight: weight})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("error reading edge list: %w", err)
	}
	if len(labels) < 2 {
		return nil, nil, fmt.Errorf("%w: edge list names %d nodes", ErrTooSmall, len(labels))
	}
	if maxNodes > 0 && len(labels) > maxNodes {
		return nil, nil, fmt.Errorf("%w: edge list names %d nodes, limit is %d", ErrTooLarge, len(labels), maxNodes)
	}

	nodeList := sortedLabels(labels)
	index := make(map[string]int, len(nodeList))
	for i, id := range nodeList {
		index[id] = i
	}

	m := mat.NewSymDense(len(nodeList), nil)
	for _, e := range edges {
		i, j := index[e.from], index[e.to]
		if i == j {
			continue
		}
		m.SetSym(i, j, m.At(i, j)+e.weight)
	}
	return m, nodeList, nil
}

// WriteEdgeList writes each edge once as "i j value" using labels when given.
func WriteEdgeList(w io.Writer, g *Graph, labels []string) error {
	bw := bufio.NewWriter(w)
	name := func(i int) string {
		if labels != nil {
			return labels[i]
		}
		return strconv.Itoa(i)
	}
	for i := 0; i < g.NumNodes; i++ {
		for k, j := range g.Adjacency[i] {
			if j < i {
				continue
			}
			l := g.Links[i][k]
			if _, err := fmt.Fprintf(bw, "%s %s %g\n", name(i), name(j), l[0]-l[1]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func sortedLabels(set map[string]struct{}) []string {
	nodeList := make([]string, 0, len(set))
	for id := range set {
		nodeList = append(nodeList, id)
	}
	allIntegers := true
	for _, id := range nodeList {
		if _, err := strconv.Atoi(id); err != nil {
			allIntegers = false
			break
		}
	}
	if allIntegers {
		sort.Slice(nodeList, func(i, j int) bool {
			a, _ := strconv.Atoi(nodeList[i])
			b, _ := strconv.Atoi(nodeList[j])
			return a < b
		})
	} else {
		sort.Strings(nodeList)
	}
	return nodeList
}
