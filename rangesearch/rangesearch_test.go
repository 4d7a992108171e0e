package rangesearch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dispatch"
	"github.com/hupe1980/annexec/resource"
	"github.com/hupe1980/annexec/testutil"
)

func TestMerge(t *testing.T) {
	res := Merge([]Hits{
		{IDs: []int64{1, 2}, Distances: []float32{0.1, 0.2}},
		{},
		{IDs: []int64{9}, Distances: []float32{0.9}},
	})
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, []int{0, 2, 2, 3}, res.Offsets)
	assert.Equal(t, []int64{1, 2, 9}, res.IDs)
	assert.Equal(t, []float32{0.1, 0.2, 0.9}, res.Distances)
	assert.Equal(t, 3, res.Total())

	ids, _ := res.Row(1)
	assert.Empty(t, ids)
}

func TestMerge_Empty(t *testing.T) {
	res := Merge(nil)
	assert.Equal(t, []int{0}, res.Offsets)
	assert.Zero(t, res.Total())
}

func TestFilter(t *testing.T) {
	h := Hits{IDs: []int64{1, 2, 3, 4}, Distances: []float32{0.3, 0.5, 0.7, 0.9}}

	t.Run("similarity", func(t *testing.T) {
		// radius 0.2 already applied; keep (0.2, 0.7].
		got := Filter(h, backend.MetricIP, 0.7)
		assert.Equal(t, []int64{1, 2, 3}, got.IDs)
	})

	t.Run("distance", func(t *testing.T) {
		// radius 1.0 already applied; keep [0.5, 1.0).
		got := Filter(h, backend.MetricL2, 0.5)
		assert.Equal(t, []int64{2, 3, 4}, got.IDs)
		assert.Equal(t, []float32{0.5, 0.7, 0.9}, got.Distances)
	})

	assert.Len(t, h.IDs, 4, "input untouched")
}

func TestAggregate_FilterAndOffsets(t *testing.T) {
	// Scenario: similarity metric, radius 0.2, range filter 0.8.
	scores := [][]float32{
		{0.9, 0.5, 0.3},
		{0.3, 0.85},
		{},
	}
	cfg := config.Default().WithRangeFilter(0.8)
	cfg.MetricType = string(config.MetricIP)
	cfg.Radius = 0.2

	d := dispatch.New(nil, nil, nil)
	res, err := Aggregate(t.Context(), d, len(scores), backend.MetricIP, cfg, func(_ context.Context, i int) (Hits, error) {
		h := Hits{}
		for j, s := range scores[i] {
			if s > cfg.Radius {
				h.IDs = append(h.IDs, int64(i*10+j))
				h.Distances = append(h.Distances, s)
			}
		}
		return h, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3, 3}, res.Offsets)
	assert.Equal(t, []int64{1, 2, 10}, res.IDs)
	for _, s := range res.Distances {
		assert.Greater(t, s, cfg.Radius)
		assert.LessOrEqual(t, s, *cfg.RangeFilter)
	}
}

func TestAggregate_Error(t *testing.T) {
	d := dispatch.New(nil, nil, nil)
	boom := errors.New("boom")
	res, err := Aggregate(t.Context(), d, 4, backend.MetricL2, config.Default(), func(_ context.Context, i int) (Hits, error) {
		if i == 2 {
			return Hits{}, boom
		}
		return Hits{IDs: []int64{int64(i)}, Distances: []float32{0}}, nil
	})
	assert.ErrorIs(t, err, dispatch.ErrBackendInner)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res)
}

func TestAggregate_ReservesMergedResult(t *testing.T) {
	hitsPerQuery := func(_ context.Context, i int) (Hits, error) {
		h := Hits{IDs: make([]int64, 100), Distances: make([]float32, 100)}
		for j := range h.IDs {
			h.IDs[j] = int64(i*100 + j)
		}
		return h, nil
	}

	// 4 queries x 100 hits need 4800 bytes plus offsets.
	mem := resource.NewController(resource.Config{MemoryLimitBytes: 1024})
	d := dispatch.New(nil, mem, nil)
	res, err := Aggregate(t.Context(), d, 4, backend.MetricL2, config.Default(), hitsPerQuery)
	require.ErrorIs(t, err, dispatch.ErrAllocationFailure)
	assert.Nil(t, res)
	assert.Equal(t, int64(0), mem.MemoryUsage())

	mem = resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	d = dispatch.New(nil, mem, nil)
	res, err = Aggregate(t.Context(), d, 4, backend.MetricL2, config.Default(), hitsPerQuery)
	require.NoError(t, err)
	assert.Len(t, res.IDs, 400)
	assert.Equal(t, int64(0), mem.MemoryUsage(), "reservation is returned after merging")
}

func TestSearch_MatchesBackend(t *testing.T) {
	rng := testutil.NewRNG(11)
	data := rng.FloatData(300, 4)
	flat, err := backend.NewFlat(4, backend.MetricL2)
	require.NoError(t, err)
	require.NoError(t, flat.Add(t.Context(), 300, data))

	q := rng.FloatDataset(9, 4)
	cfg := config.Default()
	cfg.Radius = 0.15

	res, err := Search(t.Context(), dispatch.New(nil, nil, nil), flat, q, cfg, nil)
	require.NoError(t, err)

	want, err := flat.RangeSearch(t.Context(), 9, q.Float32(), cfg.Radius, nil)
	require.NoError(t, err)
	assert.Equal(t, want.Lims, res.Offsets)
	assert.Equal(t, want.Labels, res.IDs)

	for i := 1; i < len(res.Offsets); i++ {
		assert.LessOrEqual(t, res.Offsets[i-1], res.Offsets[i])
	}
}

func TestSearchBinary_RangeFilter(t *testing.T) {
	rng := testutil.NewRNG(5)
	bf, err := backend.NewBinaryFlat(32, backend.MetricHamming)
	require.NoError(t, err)
	require.NoError(t, bf.Add(t.Context(), 100, rng.BinaryData(100, 32)))

	cfg := config.Default().WithRangeFilter(12)
	cfg.MetricType = string(config.MetricHamming)
	cfg.Radius = 16

	res, err := SearchBinary(t.Context(), dispatch.New(nil, nil, nil), bf, rng.BinaryDataset(4, 32), cfg, nil)
	require.NoError(t, err)
	for _, d := range res.Distances {
		assert.GreaterOrEqual(t, d, float32(12))
		assert.Less(t, d, float32(16))
	}
	assert.Len(t, res.Offsets, 5)
}
