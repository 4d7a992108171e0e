package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatData(t *testing.T) {
	rng := NewRNG(1)
	data := rng.FloatData(10, 4)
	require.Len(t, data, 40)
	for _, v := range data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(42)
	a := rng.FloatData(3, 3)
	rng.Reset()
	b := rng.FloatData(3, 3)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(42), rng.Seed())
}

func TestDatasets(t *testing.T) {
	rng := NewRNG(7)
	ds := rng.FloatDataset(5, 8)
	assert.Equal(t, 5, ds.Rows())
	assert.Equal(t, 8, ds.Dim())

	bin := rng.BinaryDataset(5, 64)
	assert.Equal(t, 8, bin.CodeSize())
	assert.Len(t, bin.Binary(), 40)

	clustered := rng.ClusteredData(20, 4, 2, 0.01)
	assert.Len(t, clustered, 80)
}

func TestBruteForceL2(t *testing.T) {
	data := []float32{0, 0, 1, 1, 5, 5}
	ids := BruteForceL2(data, 2, []float32{0.9, 0.9}, 2)
	assert.Equal(t, []int64{1, 0}, ids)
}

func TestComputeRecall(t *testing.T) {
	assert.Equal(t, 1.0, ComputeRecall(nil, nil))
	assert.Equal(t, 0.0, ComputeRecall([]int64{1}, nil))
	assert.InDelta(t, 0.5, ComputeRecall([]int64{1, 2}, []int64{2, 3}), 1e-9)
}
