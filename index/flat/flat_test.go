package flat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/index"
	"github.com/hupe1980/annexec/resource"
	"github.com/hupe1980/annexec/testutil"
	"github.com/hupe1980/annexec/workerpool"
)

func testObject() index.Object {
	return index.Object{Pool: workerpool.New(4)}
}

func l2Config(k int) config.Config {
	cfg := config.Default()
	cfg.MetricType = string(config.MetricL2)
	cfg.K = k
	return cfg
}

func buildFlat(t *testing.T, rows, dim int, cfg config.Config) (*Flat, *dataset.Dataset) {
	t.Helper()
	ds := testutil.NewRNG(42).FloatDataset(rows, dim)
	f := New(testObject())
	require.NoError(t, f.Build(t.Context(), ds, cfg))
	return f, ds
}

func TestFlat(t *testing.T) {
	t.Run("SearchShapeAndOrder", func(t *testing.T) {
		f, ds := buildFlat(t, 1000, 8, l2Config(5))
		assert.Equal(t, int64(1000), f.Count())
		assert.Equal(t, int64(8), f.Dim())
		assert.Positive(t, f.Size())

		q := testutil.MustFloat(10, 8, ds.Float32()[:80])
		res, err := f.Search(t.Context(), q, l2Config(5), nil)
		require.NoError(t, err)
		assert.Len(t, res.IDs, 50)
		assert.Len(t, res.Distances, 50)

		for i := 0; i < 10; i++ {
			ids, dists := res.Row(i)
			assert.Equal(t, int64(i), ids[0], "a stored vector is its own nearest neighbor")
			for j := 1; j < len(dists); j++ {
				assert.LessOrEqual(t, dists[j-1], dists[j])
			}
			want := testutil.BruteForceL2(ds.Float32(), 8, q.Row(i), 5)
			assert.Equal(t, 1.0, testutil.ComputeRecall(want, ids))
		}
	})

	t.Run("InnerProductDescending", func(t *testing.T) {
		cfg := l2Config(4)
		cfg.MetricType = string(config.MetricIP)
		f, ds := buildFlat(t, 200, 16, cfg)

		res, err := f.Search(t.Context(), testutil.MustFloat(3, 16, ds.Float32()[:48]), cfg, nil)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, dists := res.Row(i)
			for j := 1; j < len(dists); j++ {
				assert.GreaterOrEqual(t, dists[j-1], dists[j])
			}
		}
	})

	t.Run("PaddingWhenFewerThanK", func(t *testing.T) {
		f, ds := buildFlat(t, 3, 4, l2Config(5))
		res, err := f.Search(t.Context(), testutil.MustFloat(1, 4, ds.Row(0)), l2Config(5), nil)
		require.NoError(t, err)
		ids, dists := res.Row(0)
		assert.Equal(t, int64(-1), ids[3])
		assert.Equal(t, int64(-1), ids[4])
		assert.True(t, math.IsInf(float64(dists[4]), 1))
	})

	t.Run("Filter", func(t *testing.T) {
		f, ds := buildFlat(t, 100, 8, l2Config(3))
		filter := dataset.NewRoaringBitset(0, 1)
		res, err := f.Search(t.Context(), testutil.MustFloat(1, 8, ds.Row(0)), l2Config(3), filter)
		require.NoError(t, err)
		for _, id := range res.IDs {
			assert.NotEqual(t, int64(0), id)
			assert.NotEqual(t, int64(1), id)
		}
	})

	t.Run("RangeSearchOffsets", func(t *testing.T) {
		cfg := l2Config(1)
		cfg.Radius = 1.0
		f, ds := buildFlat(t, 100, 8, cfg)

		res, err := f.RangeSearch(t.Context(), ds, cfg, nil)
		require.NoError(t, err)
		require.Len(t, res.Offsets, 101)
		assert.Equal(t, 0, res.Offsets[0])

		var sum int
		for i := 0; i < 100; i++ {
			assert.LessOrEqual(t, res.Offsets[i], res.Offsets[i+1])
			ids, dists := res.Row(i)
			sum += len(ids)
			assert.Contains(t, ids, int64(i))
			for _, d := range dists {
				assert.Less(t, d, float32(1.0))
			}
		}
		assert.Equal(t, sum, res.Offsets[100])
		assert.Equal(t, sum, res.Total())
	})

	t.Run("RangeFilter", func(t *testing.T) {
		cfg := l2Config(1).WithRangeFilter(0.5)
		cfg.Radius = 1.0
		f, ds := buildFlat(t, 100, 8, cfg)

		res, err := f.RangeSearch(t.Context(), ds, cfg, nil)
		require.NoError(t, err)
		for _, d := range res.Distances {
			assert.GreaterOrEqual(t, d, float32(0.5))
			assert.Less(t, d, float32(1.0))
		}
	})

	t.Run("GetVectorByIds", func(t *testing.T) {
		f, ds := buildFlat(t, 10, 4, l2Config(1))
		got, err := f.GetVectorByIds(t.Context(), dataset.FromIDs([]int64{7, 2}), l2Config(1))
		require.NoError(t, err)
		assert.Equal(t, 2, got.Rows())
		assert.Equal(t, ds.Row(7), got.Row(0))
		assert.Equal(t, ds.Row(2), got.Row(1))

		_, err = f.GetVectorByIds(t.Context(), dataset.FromIDs([]int64{10}), l2Config(1))
		assert.ErrorIs(t, err, index.ErrInvalidArgs)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		f, _ := buildFlat(t, 10, 4, l2Config(1))
		q := testutil.NewRNG(1).FloatDataset(1, 3)

		_, err := f.Search(t.Context(), q, l2Config(1), nil)
		var dm *index.DimensionMismatchError
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 4, dm.Expected)
		assert.Equal(t, 3, dm.Actual)

		assert.ErrorIs(t, f.Add(t.Context(), q, l2Config(1)), index.ErrInvalidArgs)
		assert.Equal(t, int64(10), f.Count(), "failed add leaves the index intact")
	})

	t.Run("InvalidK", func(t *testing.T) {
		f, ds := buildFlat(t, 10, 4, l2Config(1))
		_, err := f.Search(t.Context(), testutil.MustFloat(1, 4, ds.Row(0)), l2Config(0), nil)
		assert.ErrorIs(t, err, index.ErrInvalidArgs)
	})

	t.Run("InvalidMetric", func(t *testing.T) {
		cfg := l2Config(1)
		cfg.MetricType = "MANHATTAN"
		f := New(testObject())
		err := f.Train(t.Context(), testutil.NewRNG(1).FloatDataset(4, 4), cfg)
		assert.ErrorIs(t, err, index.ErrInvalidMetric)
		assert.Equal(t, int64(0), f.Dim())
	})

	t.Run("TrainTwiceIsNoop", func(t *testing.T) {
		f, ds := buildFlat(t, 10, 4, l2Config(1))
		require.NoError(t, f.Train(t.Context(), ds, l2Config(1)))
		assert.Equal(t, int64(10), f.Count())
	})

	t.Run("Close", func(t *testing.T) {
		f, ds := buildFlat(t, 10, 4, l2Config(1))
		require.NoError(t, f.Close())
		assert.Equal(t, int64(0), f.Count())
		_, err := f.Search(t.Context(), testutil.MustFloat(1, 4, ds.Row(0)), l2Config(1), nil)
		assert.ErrorIs(t, err, index.ErrEmptyIndex)
	})
}

func TestFlat_EmptyIndex(t *testing.T) {
	mem := resource.NewController(resource.Config{})
	f := New(index.Object{Pool: workerpool.New(2), Memory: mem})
	q := testutil.NewRNG(1).FloatDataset(4, 8)

	_, err := f.Search(t.Context(), q, l2Config(5), nil)
	assert.ErrorIs(t, err, index.ErrEmptyIndex)
	assert.Equal(t, index.StatusEmptyIndex, index.StatusOf(err))
	assert.Zero(t, mem.MemoryUsage())

	_, err = f.RangeSearch(t.Context(), q, l2Config(5), nil)
	assert.ErrorIs(t, err, index.ErrEmptyIndex)
	_, err = f.GetVectorByIds(t.Context(), dataset.FromIDs([]int64{0}), l2Config(5))
	assert.ErrorIs(t, err, index.ErrEmptyIndex)
	assert.ErrorIs(t, f.Serialize(t.Context(), binaryset.New()), index.ErrEmptyIndex)
	assert.ErrorIs(t, f.Add(t.Context(), q, l2Config(5)), index.ErrEmptyIndex)

	assert.Zero(t, f.Dim())
	assert.Zero(t, f.Count())
	assert.Zero(t, f.Size())
}

func TestFlat_OversizedK(t *testing.T) {
	f, ds := buildFlat(t, 4, 4, l2Config(1))
	q := testutil.MustFloat(1, 4, ds.Row(0))

	_, err := f.Search(t.Context(), q, l2Config(1<<50), nil)
	assert.ErrorIs(t, err, index.ErrAllocationFailure)
	assert.Equal(t, index.StatusAllocationFailure, index.StatusOf(err))

	res, err := f.Search(t.Context(), q, l2Config(8), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), res.IDs[7], "rows are padded past the stored count")
}

func TestFlat_SerializeRoundTrip(t *testing.T) {
	f, ds := buildFlat(t, 500, 8, l2Config(5))

	set := binaryset.New()
	require.NoError(t, f.Serialize(t.Context(), set))
	assert.Equal(t, []string{KeyFlat}, set.Names())

	restored := New(testObject())
	require.NoError(t, restored.Deserialize(t.Context(), set))
	assert.Equal(t, f.Count(), restored.Count())
	assert.Equal(t, f.Dim(), restored.Dim())

	q := testutil.MustFloat(5, 8, ds.Float32()[:40])
	want, err := f.Search(t.Context(), q, l2Config(5), nil)
	require.NoError(t, err)
	got, err := restored.Search(t.Context(), q, l2Config(5), nil)
	require.NoError(t, err)
	assert.Equal(t, want.IDs, got.IDs)
	assert.InDeltaSlice(t, want.Distances, got.Distances, 1e-6)

	t.Run("MissingKey", func(t *testing.T) {
		err := New(testObject()).Deserialize(t.Context(), binaryset.New())
		assert.ErrorIs(t, err, index.ErrNotFound)
	})

	t.Run("Corrupt", func(t *testing.T) {
		b, err := set.GetByName(KeyFlat)
		require.NoError(t, err)
		truncated := binaryset.New()
		require.NoError(t, truncated.Append(KeyFlat, b.Data[:len(b.Data)/2]))

		err = restored.Deserialize(t.Context(), truncated)
		assert.ErrorIs(t, err, index.ErrBackendInner)
		assert.Equal(t, int64(500), restored.Count(), "failed deserialize keeps the previous state")
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		assert.ErrorIs(t, f.Serialize(t.Context(), set), index.ErrInvalidArgs)
	})
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{TypeFlat, TypeBinFlat, TypeBinFlatV2} {
		idx, err := index.Create(name, testObject())
		require.NoError(t, err, name)
		assert.Equal(t, name, idx.Type())
	}
}
