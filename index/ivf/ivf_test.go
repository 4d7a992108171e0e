package ivf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/index"
	"github.com/hupe1980/annexec/testutil"
	"github.com/hupe1980/annexec/workerpool"
)

const (
	testRows = 1000
	testDim  = 8
)

func testObject() index.Object {
	return index.Object{Pool: workerpool.New(4)}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.K = 5
	cfg.Nlist = 16
	cfg.Nprobe = 16
	cfg.M = 4
	cfg.Nbits = 8
	return cfg
}

func testData() *dataset.Dataset {
	rng := testutil.NewRNG(3)
	return testutil.MustFloat(testRows, testDim, rng.ClusteredData(testRows, testDim, 16, 0.05))
}

func build(t *testing.T, name string, enc backend.IVFEncoding) (*IVF, *dataset.Dataset) {
	t.Helper()
	ds := testData()
	x := New(testObject(), name, enc)
	require.NoError(t, x.Build(t.Context(), ds, testConfig()))
	return x, ds
}

func TestIVF_Variants(t *testing.T) {
	tests := []struct {
		name      string
		enc       backend.IVFEncoding
		minRecall float64
	}{
		{TypeIVFFlat, backend.IVFFlatEncoding, 1.0},
		{TypeIVFSQ8, backend.IVFSQ8Encoding, 0.6},
		{TypeIVFPQ, backend.IVFPQEncoding, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, ds := build(t, tt.name, tt.enc)
			assert.Equal(t, tt.name, x.Type())
			assert.Equal(t, int64(testRows), x.Count())
			assert.Equal(t, int64(testDim), x.Dim())
			assert.Positive(t, x.Size())

			q := testutil.MustFloat(10, testDim, ds.Float32()[:10*testDim])
			res, err := x.Search(t.Context(), q, testConfig(), nil)
			require.NoError(t, err)
			require.Len(t, res.IDs, 50)

			var recall float64
			for i := 0; i < 10; i++ {
				ids, dists := res.Row(i)
				for j := 1; j < len(dists); j++ {
					assert.LessOrEqual(t, dists[j-1], dists[j])
				}
				want := testutil.BruteForceL2(ds.Float32(), testDim, q.Row(i), 5)
				recall += testutil.ComputeRecall(want, ids)
			}
			assert.GreaterOrEqual(t, recall/10, tt.minRecall)
		})
	}
}

func TestIVF_TrainTwice(t *testing.T) {
	x, ds := build(t, TypeIVFFlat, backend.IVFFlatEncoding)

	err := x.Train(t.Context(), ds, testConfig())
	assert.ErrorIs(t, err, index.ErrAlreadyTrained)
	assert.Equal(t, index.StatusAlreadyTrained, index.StatusOf(err))

	res, err := x.Search(t.Context(), testutil.MustFloat(1, testDim, ds.Row(0)), testConfig(), nil)
	require.NoError(t, err, "the first trained state stays searchable")
	assert.Equal(t, int64(0), res.IDs[0])
}

func TestIVF_Lifecycle(t *testing.T) {
	ds := testData()
	cfg := testConfig()

	t.Run("AddBeforeTrain", func(t *testing.T) {
		x := New(testObject(), TypeIVFFlat, backend.IVFFlatEncoding)
		assert.ErrorIs(t, x.Add(t.Context(), ds, cfg), index.ErrNotTrained)
	})

	t.Run("SearchBeforeBuild", func(t *testing.T) {
		x := New(testObject(), TypeIVFSQ8, backend.IVFSQ8Encoding)
		_, err := x.Search(t.Context(), ds, cfg, nil)
		assert.ErrorIs(t, err, index.ErrEmptyIndex)

		require.NoError(t, x.Train(t.Context(), ds, cfg))
		_, err = x.Search(t.Context(), ds, cfg, nil)
		assert.ErrorIs(t, err, index.ErrEmptyIndex, "trained but unpopulated")
	})

	t.Run("FailedTrainKeepsEmpty", func(t *testing.T) {
		x := New(testObject(), TypeIVFFlat, backend.IVFFlatEncoding)
		small := testutil.NewRNG(1).FloatDataset(4, testDim)
		err := x.Train(t.Context(), small, cfg)
		assert.ErrorIs(t, err, index.ErrBackendInner)
		assert.Zero(t, x.Dim())

		require.NoError(t, x.Train(t.Context(), ds, cfg))
	})

	t.Run("InvalidPQParams", func(t *testing.T) {
		bad := cfg
		bad.M = 3
		x := New(testObject(), TypeIVFPQ, backend.IVFPQEncoding)
		assert.ErrorIs(t, x.Train(t.Context(), ds, bad), index.ErrInvalidArgs)
	})

	t.Run("Nprobe", func(t *testing.T) {
		x, _ := build(t, TypeIVFFlat, backend.IVFFlatEncoding)
		narrow := cfg
		narrow.Nprobe = 1
		res, err := x.Search(t.Context(), testutil.MustFloat(1, testDim, ds.Row(5)), narrow, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), res.IDs[0], "the query's own list is always probed")
	})
}

func TestIVF_RangeSearch(t *testing.T) {
	x, ds := build(t, TypeIVFFlat, backend.IVFFlatEncoding)
	cfg := testConfig()
	cfg.Radius = 0.05

	q := testutil.MustFloat(20, testDim, ds.Float32()[:20*testDim])
	res, err := x.RangeSearch(t.Context(), q, cfg, dataset.NewRoaringBitset(3))
	require.NoError(t, err)
	require.Len(t, res.Offsets, 21)
	var sum int
	for i := 0; i < 20; i++ {
		ids, dists := res.Row(i)
		sum += len(ids)
		assert.NotContains(t, ids, int64(3))
		for _, d := range dists {
			assert.Less(t, d, cfg.Radius)
		}
	}
	assert.Equal(t, sum, res.Offsets[20])
}

func TestIVF_GetVectorByIds(t *testing.T) {
	x, ds := build(t, TypeIVFFlat, backend.IVFFlatEncoding)
	got, err := x.GetVectorByIds(t.Context(), dataset.FromIDs([]int64{0, 999}), testConfig())
	require.NoError(t, err)
	assert.Equal(t, ds.Row(0), got.Row(0))
	assert.Equal(t, ds.Row(999), got.Row(1))

	pq, _ := build(t, TypeIVFPQ, backend.IVFPQEncoding)
	_, err = pq.GetVectorByIds(t.Context(), dataset.FromIDs([]int64{0}), testConfig())
	assert.ErrorIs(t, err, index.ErrNotImplemented)
}

func TestIVF_SerializeRoundTrip(t *testing.T) {
	variants := []struct {
		name string
		enc  backend.IVFEncoding
	}{
		{TypeIVFFlat, backend.IVFFlatEncoding},
		{TypeIVFPQ, backend.IVFPQEncoding},
		{TypeIVFSQ8, backend.IVFSQ8Encoding},
	}
	for _, v := range variants {
		enc := v.enc
		t.Run(v.name, func(t *testing.T) {
			x, ds := build(t, v.name, enc)
			set := binaryset.New()
			require.NoError(t, x.Serialize(t.Context(), set))
			assert.Equal(t, []string{Key}, set.Names())

			restored := New(testObject(), x.Type(), enc)
			require.NoError(t, restored.Deserialize(t.Context(), set))
			assert.Equal(t, x.Count(), restored.Count())
			assert.Equal(t, x.Dim(), restored.Dim())

			q := testutil.MustFloat(8, testDim, ds.Float32()[:8*testDim])
			want, err := x.Search(t.Context(), q, testConfig(), nil)
			require.NoError(t, err)
			got, err := restored.Search(t.Context(), q, testConfig(), nil)
			require.NoError(t, err)
			assert.Equal(t, want.IDs, got.IDs)
			assert.InDeltaSlice(t, want.Distances, got.Distances, 1e-5)
		})
	}

	t.Run("EncodingMismatch", func(t *testing.T) {
		x, _ := build(t, TypeIVFFlat, backend.IVFFlatEncoding)
		set := binaryset.New()
		require.NoError(t, x.Serialize(t.Context(), set))

		pq := New(testObject(), TypeIVFPQ, backend.IVFPQEncoding)
		assert.ErrorIs(t, pq.Deserialize(t.Context(), set), index.ErrInvalidArgs)
		assert.Zero(t, pq.Count())
	})
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{TypeIVFFlat, TypeIVFPQ, TypeIVFSQ8} {
		idx, err := index.Create(name, testObject())
		require.NoError(t, err)
		assert.Equal(t, name, idx.Type())
	}
}
