package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// assertSymmetric checks that every stored edge appears once in each
// direction with the same link.
func assertSymmetric(t *testing.T, g *Graph) {
	t.Helper()
	seen := make(map[[2]int]Link)
	for i := 0; i < g.NumNodes; i++ {
		require.Len(t, g.Links[i], len(g.Adjacency[i]))
		for k, j := range g.Adjacency[i] {
			require.NotEqual(t, i, j)
			key := [2]int{min(i, j), max(i, j)}
			if prev, ok := seen[key]; ok {
				assert.Equal(t, prev, g.Links[i][k], "edge %v", key)
				delete(seen, key)
				continue
			}
			seen[key] = g.Links[i][k]
		}
	}
	assert.Empty(t, seen, "edges stored in one direction only")
}

func TestFromMatrixBinary(t *testing.T) {
	a := mat.NewDense(4, 4, []float64{
		5, 1, 0, 0,
		0, 0, 2, 0,
		0, 0, 0, 0,
		0, 0, -1, 0,
	})
	g, err := FromMatrix(a, nil, Binary)
	require.NoError(t, err)
	assertSymmetric(t, g)

	assert.Equal(t, 3, g.NumEdges)
	assert.Equal(t, Link{3, 0}, g.Totals)
	assert.Equal(t, Link{1, 0}, g.Degrees[0], "diagonal must be ignored")
	assert.Equal(t, Link{2, 0}, g.Degrees[2])
}

func TestFromMatrixWeightedUsesAbsoluteValues(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{
		0, -4, 0,
		2, 0, 1,
		0, 1, 0,
	})
	g, err := FromMatrix(a, nil, Weighted)
	require.NoError(t, err)

	nbs, links := g.Neighbors(0)
	require.Equal(t, []int{1}, nbs)
	assert.InDelta(t, 3.0, links[0][0], 1e-12)
	assert.InDelta(t, 4.0, g.Totals[0], 1e-12)
}

func TestFromMatrixSigned(t *testing.T) {
	t.Run("NoNegatives", func(t *testing.T) {
		a := mat.NewDense(3, 3, []float64{0, 1, 0, 1, 0, 1, 0, 1, 0})
		_, err := FromMatrix(a, nil, Signed)
		assert.ErrorIs(t, err, ErrNoNegative)
	})

	t.Run("InlineNegatives", func(t *testing.T) {
		a := mat.NewDense(3, 3, []float64{0, 1, -1, 1, 0, 0, -1, 0, 0})
		g, err := FromMatrix(a, nil, Signed)
		require.NoError(t, err)
		assert.True(t, g.HasNegative())
		assert.Equal(t, Link{1, 1}, g.Totals)
	})

	t.Run("NegativeMatrix", func(t *testing.T) {
		a := mat.NewDense(3, 3, []float64{0, 1, 0, 1, 0, 0, 0, 0, 0})
		neg := mat.NewDense(3, 3, []float64{0, 0, 1, 0, 0, 0, 1, 0, 0})
		g, err := FromMatrix(a, neg, Signed)
		require.NoError(t, err)
		assert.Equal(t, Link{1, 1}, g.Totals)
		assert.Equal(t, Link{0, 1}, g.Degrees[2])
	})
}

func TestFromMatrixRejectsBadShapes(t *testing.T) {
	_, err := FromMatrix(mat.NewDense(2, 3, nil), nil, Binary)
	assert.ErrorIs(t, err, ErrNotSquare)

	_, err = FromMatrix(mat.NewDense(1, 1, nil), nil, Binary)
	assert.ErrorIs(t, err, ErrTooSmall)

	_, err = FromMatrix(mat.NewDense(3, 3, nil), mat.NewDense(2, 2, nil), Signed)
	assert.ErrorIs(t, err, ErrShape)
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{Binary, Signed, Weighted} {
		got, err := ParseMode(strings.ToUpper(m.String()))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("directed")
	assert.Error(t, err)
}

func TestReadEdgeList(t *testing.T) {
	input := `# comment
10 2 1.5
2 3
3 10 -2
2 2 9
`
	m, labels, err := ReadEdgeList(strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "10"}, labels)
	assert.Equal(t, 1.5, m.At(0, 2))
	assert.Equal(t, 1.0, m.At(0, 1))
	assert.Equal(t, -2.0, m.At(1, 2))
	assert.Equal(t, 0.0, m.At(0, 0))

	g, err := FromMatrix(m, nil, Signed)
	require.NoError(t, err)
	assert.Equal(t, Link{2, 1}, g.Totals)

	var sb strings.Builder
	require.NoError(t, WriteEdgeList(&sb, g, labels))
	assert.Equal(t, "2 3 1\n2 10 1\n3 10 -1\n", sb.String())
}

func TestReadEdgeListErrors(t *testing.T) {
	_, _, err := ReadEdgeList(strings.NewReader("1\n"), 0)
	assert.Error(t, err)

	_, _, err = ReadEdgeList(strings.NewReader("1 2 abc\n"), 0)
	assert.Error(t, err)
}

func TestReadEdgeListNodeLimit(t *testing.T) {
	input := "a b\nb c\nc d\n"
	_, _, err := ReadEdgeList(strings.NewReader(input), 3)
	assert.ErrorIs(t, err, ErrTooLarge)

	m, labels, err := ReadEdgeList(strings.NewReader(input), 4)
	require.NoError(t, err)
	assert.Len(t, labels, 4)
	r, _ := m.Dims()
	assert.Equal(t, 4, r)
}

func TestToGonum(t *testing.T) {
	a := mat.NewDense(4, 4, []float64{
		0, 2, 0, 0,
		2, 0, -1, 0,
		0, -1, 0, 0,
		0, 0, 0, 0,
	})
	g, err := FromMatrix(a, nil, Signed)
	require.NoError(t, err)

	gn := g.ToGonum(nil)
	assert.Equal(t, 4, gn.Nodes().Len(), "isolated nodes are kept")
	w, ok := gn.Weight(0, 1)
	require.True(t, ok)
	assert.Equal(t, 1.0, w)
	assert.True(t, gn.HasEdgeBetween(1, 2))

	pos := g.ToGonum(func(l Link) float64 { return l[0] })
	assert.True(t, pos.HasEdgeBetween(0, 1))
	assert.False(t, pos.HasEdgeBetween(1, 2), "negative edges are dropped")
}
