package partition

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromLabelsCanonical(t *testing.T) {
	p := FromLabels([]int{7, 7, -3, 9, -3})
	assert.Equal(t, []int{0, 0, 1, 2, 1}, p.Labels())
	assert.Equal(t, 3, p.NumBlocks())
	assert.Equal(t, []int{2, 2, 1}, p.Sizes())
	assert.Equal(t, [][]int{{0, 1}, {2, 4}, {3}}, p.Sets())

	q := FromLabels([]int{1, 1, 0, 5, 0})
	assert.True(t, p.Equal(q))
	assert.False(t, p.Equal(Identity(5)))
}

func TestFromSets(t *testing.T) {
	p, err := FromSets(5, [][]int{{3}, {4, 0}, {1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1, 2, 0}, p.Labels())

	_, err = FromSets(3, [][]int{{0, 1}, {1, 2}})
	assert.Error(t, err, "overlapping sets")

	_, err = FromSets(3, [][]int{{0, 1}})
	assert.Error(t, err, "missing node")

	_, err = FromSets(3, [][]int{{0, 1, 2}, {}})
	assert.Error(t, err, "empty block")

	_, err = FromSets(3, [][]int{{0, 1, 3}})
	assert.Error(t, err, "out of range")
}

func TestSingleAndIdentity(t *testing.T) {
	assert.Equal(t, 1, Single(4).NumBlocks())
	assert.Equal(t, []int{0, 0, 0, 0}, Single(4).Labels())
	assert.Equal(t, 4, Identity(4).NumBlocks())
}

func TestJSON(t *testing.T) {
	p := FromLabels([]int{4, 4, 2})
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `[0,0,1]`, string(data))

	var back Partition
	require.NoError(t, json.Unmarshal([]byte(`[3,1,3]`), &back))
	assert.Equal(t, []int{0, 1, 0}, back.Labels())
}

func TestLabelsIO(t *testing.T) {
	p := FromLabels([]int{0, 1, 1})
	var sb strings.Builder
	require.NoError(t, WriteLabels(&sb, p, []string{"a", "b", "c"}))
	assert.Equal(t, "a 0\nb 1\nc 1\n", sb.String())

	back, err := ReadLabels(strings.NewReader(sb.String()), 3, map[string]int{"a": 0, "b": 1, "c": 2})
	require.NoError(t, err)
	assert.True(t, p.Equal(back))

	_, err = ReadLabels(strings.NewReader("0 1\n"), 2, nil)
	assert.Error(t, err)
}
