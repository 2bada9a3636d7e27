package partition

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteLabels writes one "node block" line per node. names, when non-nil,
// replaces node indices.
func WriteLabels(w io.Writer, p Partition, names []string) error {
	if names != nil && len(names) != p.Len() {
		return fmt.Errorf("got %d names for %d nodes", len(names), p.Len())
	}
	bw := bufio.NewWriter(w)
	for i, l := range p.labels {
		name := strconv.Itoa(i)
		if names != nil {
			name = names[i]
		}
		if _, err := fmt.Fprintf(bw, "%s %d\n", name, l); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadLabels reads "node block" lines. index maps node names to positions;
// when nil, node names must be integers 0..n-1.
func ReadLabels(r io.Reader, n int, index map[string]int) (Partition, error) {
	labels := make([]int, n)
	seen := make([]bool, n)
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return Partition{}, fmt.Errorf("line %d: expected 'node block'", lineNum)
		}
		var node int
		if index != nil {
			v, ok := index[parts[0]]
			if !ok {
				return Partition{}, fmt.Errorf("line %d: unknown node %q", lineNum, parts[0])
			}
			node = v
		} else {
			v, err := strconv.Atoi(parts[0])
			if err != nil {
				return Partition{}, fmt.Errorf("line %d: %w", lineNum, err)
			}
			node = v
		}
		if node < 0 || node >= n {
			return Partition{}, fmt.Errorf("line %d: node %d out of range", lineNum, node)
		}
		block, err := strconv.Atoi(parts[1])
		if err != nil {
			return Partition{}, fmt.Errorf("line %d: %w", lineNum, err)
		}
		labels[node] = block
		seen[node] = true
	}
	if err := scanner.Err(); err != nil {
		return Partition{}, err
	}
	for i, ok := range seen {
		if !ok {
			return Partition{}, fmt.Errorf("node %d has no label", i)
		}
	}
	return FromLabels(labels), nil
}
