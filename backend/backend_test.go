package backend

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/testutil"
)

func TestMetricFromConfig(t *testing.T) {
	m, err := MetricFromConfig(config.MetricCosine)
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)
	assert.True(t, m.HigherIsCloser())

	m, err = MetricFromConfig(config.MetricHamming)
	require.NoError(t, err)
	assert.True(t, m.Binary())
	assert.True(t, m.IntegerDistance())

	_, err = MetricFromConfig("BOGUS")
	assert.ErrorIs(t, err, config.ErrInvalidMetric)
}

func TestThreads(t *testing.T) {
	ctx := t.Context()
	assert.Positive(t, Threads(ctx))
	assert.Equal(t, 1, Threads(WithThreads(ctx, 1)))
	assert.Equal(t, 3, Threads(WithThreads(ctx, 3)))
}

func TestTopKOrderingAndPadding(t *testing.T) {
	top := newTopK(3, MetricL2)
	top.push(7, 2)
	top.push(3, 0.5)
	top.push(9, 4)
	top.push(1, 1)

	labels := make([]int64, 3)
	scores := make([]float32, 3)
	top.drain(labels, scores)
	assert.Equal(t, []int64{3, 1, 7}, labels)
	assert.Equal(t, []float32{0.5, 1, 2}, scores)

	top = newTopK(4, MetricIP)
	top.push(1, 0.2)
	top.push(2, 0.9)
	labels = make([]int64, 4)
	scores = make([]float32, 4)
	top.drain(labels, scores)
	assert.Equal(t, []int64{2, 1, -1, -1}, labels)
	assert.True(t, math.IsInf(float64(scores[3]), -1))
}

func TestFlatSearch(t *testing.T) {
	ctx := t.Context()
	rng := testutil.NewRNG(1)
	const n, dim, k = 200, 8, 5
	data := rng.FloatData(n, dim)

	f, err := NewFlat(dim, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Add(ctx, n, data))
	assert.Equal(t, int64(n), f.Ntotal())
	assert.True(t, f.IsTrained())

	queries := data[:3*dim]
	labels := make([]int64, 3*k)
	dists := make([]float32, 3*k)
	require.NoError(t, f.Search(ctx, 3, queries, k, dists, labels, nil))

	for q := 0; q < 3; q++ {
		want := testutil.BruteForceL2(data, dim, queries[q*dim:(q+1)*dim], k)
		assert.Equal(t, want, labels[q*k:(q+1)*k])
		assert.Equal(t, int64(q), labels[q*k])
		assert.InDelta(t, 0, dists[q*k], 1e-6)
		for j := 1; j < k; j++ {
			assert.LessOrEqual(t, dists[q*k+j-1], dists[q*k+j])
		}
	}
}

func TestFlatSearchFilterAndPadding(t *testing.T) {
	ctx := t.Context()
	f, err := NewFlat(1, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Add(ctx, 3, []float32{0, 1, 2}))

	labels := make([]int64, 5)
	dists := make([]float32, 5)
	filter := dataset.NewRoaringBitset(0)
	require.NoError(t, f.Search(ctx, 1, []float32{0}, 5, dists, labels, &SearchParams{Filter: filter}))
	assert.Equal(t, []int64{1, 2, -1, -1, -1}, labels)
	assert.True(t, math.IsInf(float64(dists[4]), 1))
}

func TestFlatInnerProductAndCosine(t *testing.T) {
	ctx := t.Context()
	data := []float32{
		1, 0,
		10, 0,
		0, 1,
	}

	ip, err := NewFlat(2, MetricIP)
	require.NoError(t, err)
	require.NoError(t, ip.Add(ctx, 3, data))
	labels := make([]int64, 3)
	dists := make([]float32, 3)
	require.NoError(t, ip.Search(ctx, 1, []float32{1, 0}, 3, dists, labels, nil))
	assert.Equal(t, []int64{1, 0, 2}, labels)
	assert.Equal(t, []float32{10, 1, 0}, dists)

	cos, err := NewFlat(2, MetricCosine)
	require.NoError(t, err)
	require.NoError(t, cos.Add(ctx, 3, data))
	require.NoError(t, cos.Search(ctx, 1, []float32{3, 0}, 3, dists, labels, nil))
	assert.Equal(t, []int64{0, 1, 2}, labels)
	assert.InDelta(t, 1, dists[0], 1e-6)
	assert.InDelta(t, 1, dists[1], 1e-6)

	// The caller's slice is not normalized in place.
	assert.Equal(t, float32(10), data[2])
}

func TestFlatRangeSearch(t *testing.T) {
	ctx := t.Context()
	f, err := NewFlat(1, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Add(ctx, 4, []float32{0, 1, 2, 3}))

	res, err := f.RangeSearch(ctx, 2, []float32{0, 3}, 1.5, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, res.Lims)
	assert.Equal(t, []int64{0, 1, 2, 3}, res.Labels)
	assert.Equal(t, []float32{0, 1, 1, 0}, res.Distances)
}

func TestFlatReconstruct(t *testing.T) {
	ctx := t.Context()
	f, err := NewFlat(2, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Add(ctx, 2, []float32{1, 2, 3, 4}))

	out := make([]float32, 2)
	require.NoError(t, f.Reconstruct(1, out))
	assert.Equal(t, []float32{3, 4}, out)
	assert.ErrorIs(t, f.Reconstruct(2, out), ErrInvalidArgument)
}

func TestFlatRejectsBinaryMetric(t *testing.T) {
	_, err := NewFlat(8, MetricHamming)
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
	_, err = NewBinaryFlat(8, MetricL2)
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
	_, err = NewBinaryFlat(12, MetricHamming)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBinaryFlatHamming(t *testing.T) {
	ctx := t.Context()
	b, err := NewBinaryFlat(16, MetricHamming)
	require.NoError(t, err)
	require.NoError(t, b.Add(ctx, 3, []byte{
		0x00, 0x00,
		0xff, 0x00,
		0x0f, 0x00,
	}))

	labels := make([]int64, 4)
	dists := Distances{Int: make([]int32, 4)}
	require.NoError(t, b.Search(ctx, 1, []byte{0x01, 0x00}, 4, dists, labels, nil))
	assert.Equal(t, []int64{0, 2, 1, -1}, labels)
	assert.Equal(t, []int32{1, 3, 7, math.MaxInt32}, dists.Int)

	res, err := b.RangeSearch(ctx, 1, []byte{0x00, 0x00}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2}, res.Labels)
	assert.Equal(t, []float32{0, 4}, res.Distances)
}

func TestBinaryFlatJaccard(t *testing.T) {
	ctx := t.Context()
	b, err := NewBinaryFlat(8, MetricJaccard)
	require.NoError(t, err)
	require.NoError(t, b.Add(ctx, 2, []byte{0x0f, 0xf0}))

	labels := make([]int64, 2)
	dists := Distances{Float: make([]float32, 2)}
	require.NoError(t, b.Search(ctx, 1, []byte{0x0f}, 2, dists, labels, nil))
	assert.Equal(t, []int64{0, 1}, labels)
	assert.Equal(t, []float32{0, 1}, dists.Float)
}

func TestIVFLifecycle(t *testing.T) {
	ctx := t.Context()
	rng := testutil.NewRNG(3)
	const n, dim, nlist = 500, 8, 8
	data := rng.ClusteredData(n, dim, nlist, 0.05)

	ivf, err := NewIVF(dim, MetricL2, IVFParams{Nlist: nlist})
	require.NoError(t, err)
	assert.False(t, ivf.IsTrained())
	assert.ErrorIs(t, ivf.Add(ctx, n, data), ErrNotTrained)

	require.NoError(t, ivf.Train(ctx, n, data))
	assert.True(t, ivf.IsTrained())
	assert.ErrorIs(t, ivf.Train(ctx, n, data), ErrAlreadyTrained)
	require.NoError(t, ivf.Add(ctx, n, data))
	assert.Equal(t, int64(n), ivf.Ntotal())

	// Probing every list is exhaustive, so results are exact.
	const k = 10
	labels := make([]int64, k)
	dists := make([]float32, k)
	q := data[:dim]
	require.NoError(t, ivf.Search(ctx, 1, q, k, dists, labels, &SearchParams{Nprobe: nlist}))
	assert.Equal(t, testutil.BruteForceL2(data, dim, q, k), labels)

	out := make([]float32, dim)
	require.NoError(t, ivf.Reconstruct(42, out))
	assert.Equal(t, data[42*dim:43*dim], out)
}

func TestIVFTrainNeedsEnoughPoints(t *testing.T) {
	ivf, err := NewIVF(2, MetricL2, IVFParams{Nlist: 4})
	require.NoError(t, err)
	err = ivf.Train(t.Context(), 2, []float32{0, 0, 1, 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, ivf.IsTrained())
}

func TestIVFQuantizedRecall(t *testing.T) {
	ctx := t.Context()
	rng := testutil.NewRNG(5)
	const n, dim, nlist, k = 600, 16, 4, 10
	data := rng.ClusteredData(n, dim, nlist, 0.1)

	for _, p := range []IVFParams{
		{Nlist: nlist, Encoding: IVFPQEncoding, M: 4, Nbits: 8},
		{Nlist: nlist, Encoding: IVFSQ8Encoding},
	} {
		t.Run(p.Encoding.String(), func(t *testing.T) {
			ivf, err := NewIVF(dim, MetricL2, p)
			require.NoError(t, err)
			require.NoError(t, ivf.Train(ctx, n, data))
			require.NoError(t, ivf.Add(ctx, n, data))

			var recall float64
			const queries = 20
			labels := make([]int64, k)
			dists := make([]float32, k)
			for i := 0; i < queries; i++ {
				q := data[i*dim : (i+1)*dim]
				require.NoError(t, ivf.Search(ctx, 1, q, k, dists, labels, &SearchParams{Nprobe: nlist}))
				recall += testutil.ComputeRecall(testutil.BruteForceL2(data, dim, q, k), labels)
			}
			assert.Greater(t, recall/queries, 0.3)
			assert.ErrorIs(t, ivf.Reconstruct(0, make([]float32, dim)), ErrReconstructNotSupported)
		})
	}
}

func TestIVFPQRejectsBadM(t *testing.T) {
	_, err := NewIVF(10, MetricL2, IVFParams{Nlist: 2, Encoding: IVFPQEncoding, M: 3, Nbits: 8})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := t.Context()
	rng := testutil.NewRNG(9)
	const n, dim, k = 300, 8, 5
	data := rng.ClusteredData(n, dim, 4, 0.1)

	flat, err := NewFlat(dim, MetricL2)
	require.NoError(t, err)
	require.NoError(t, flat.Add(ctx, n, data))

	ivfFlat, err := NewIVF(dim, MetricIP, IVFParams{Nlist: 4})
	require.NoError(t, err)
	require.NoError(t, ivfFlat.Train(ctx, n, data))
	require.NoError(t, ivfFlat.Add(ctx, n, data))

	ivfPQ, err := NewIVF(dim, MetricL2, IVFParams{Nlist: 4, Encoding: IVFPQEncoding, M: 2, Nbits: 4})
	require.NoError(t, err)
	require.NoError(t, ivfPQ.Train(ctx, n, data))
	require.NoError(t, ivfPQ.Add(ctx, n, data))

	ivfSQ, err := NewIVF(dim, MetricL2, IVFParams{Nlist: 4, Encoding: IVFSQ8Encoding})
	require.NoError(t, err)
	require.NoError(t, ivfSQ.Train(ctx, n, data))
	require.NoError(t, ivfSQ.Add(ctx, n, data))

	for name, idx := range map[string]Index{"flat": flat, "ivf_flat": ivfFlat, "ivf_pq": ivfPQ, "ivf_sq8": ivfSQ} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, idx))
			got, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, idx.Ntotal(), got.Ntotal())
			assert.Equal(t, idx.Dim(), got.Dim())
			assert.Equal(t, idx.Metric(), got.Metric())

			params := &SearchParams{Nprobe: 2}
			wantL, gotL := make([]int64, k), make([]int64, k)
			wantD, gotD := make([]float32, k), make([]float32, k)
			require.NoError(t, idx.Search(ctx, 1, data[:dim], k, wantD, wantL, params))
			require.NoError(t, got.Search(ctx, 1, data[:dim], k, gotD, gotL, params))
			assert.Equal(t, wantL, gotL)
			assert.Equal(t, wantD, gotD)
		})
	}
}

func TestWriteReadUntrainedIVF(t *testing.T) {
	ivf, err := NewIVF(4, MetricL2, IVFParams{Nlist: 2})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, ivf))
	got, err := Read(&buf)
	require.NoError(t, err)
	assert.False(t, got.IsTrained())
}

func TestReadCorrupt(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("nope")))
	assert.ErrorIs(t, err, ErrCorrupt)

	f, err := NewFlat(2, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Add(t.Context(), 1, []float32{1, 2}))
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f))
	truncated := buf.Bytes()[:buf.Len()-3]
	_, err = Read(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReadCorruptIVFLists(t *testing.T) {
	ctx := t.Context()
	data := testutil.NewRNG(4).ClusteredData(200, 4, 4, 0.1)
	build := func(t *testing.T, params IVFParams) *IVF {
		t.Helper()
		ivf, err := NewIVF(4, MetricL2, params)
		require.NoError(t, err)
		require.NoError(t, ivf.Train(ctx, 200, data))
		require.NoError(t, ivf.Add(ctx, 200, data))
		return ivf
	}
	longest := func(ivf *IVF) *invList {
		l := &ivf.lists[0]
		for i := range ivf.lists {
			if len(ivf.lists[i].ids) > len(l.ids) {
				l = &ivf.lists[i]
			}
		}
		return l
	}
	reread := func(t *testing.T, ivf *IVF) error {
		t.Helper()
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, ivf))
		_, err := Read(&buf)
		return err
	}

	t.Run("TruncatedVectors", func(t *testing.T) {
		ivf := build(t, IVFParams{Nlist: 4})
		for i := range ivf.lists {
			ivf.lists[i].vecs = ivf.lists[i].vecs[:0]
		}
		assert.ErrorIs(t, reread(t, ivf), ErrCorrupt)
	})

	t.Run("TruncatedCodes", func(t *testing.T) {
		ivf := build(t, IVFParams{Nlist: 4, Encoding: IVFPQEncoding, M: 2, Nbits: 4})
		l := longest(ivf)
		l.codes = l.codes[:len(l.codes)-1]
		assert.ErrorIs(t, reread(t, ivf), ErrCorrupt)
	})

	t.Run("VectorsInQuantizedList", func(t *testing.T) {
		ivf := build(t, IVFParams{Nlist: 4, Encoding: IVFSQ8Encoding})
		l := longest(ivf)
		l.vecs = make([]float32, len(l.ids)*4)
		assert.ErrorIs(t, reread(t, ivf), ErrCorrupt)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		ivf := build(t, IVFParams{Nlist: 4})
		l := longest(ivf)
		require.GreaterOrEqual(t, len(l.ids), 2)
		l.ids[1] = l.ids[0]
		assert.ErrorIs(t, reread(t, ivf), ErrCorrupt)
	})

	t.Run("Intact", func(t *testing.T) {
		ivf := build(t, IVFParams{Nlist: 4})
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, ivf))
		got, err := Read(&buf)
		require.NoError(t, err)
		out := make([]float32, 4)
		for id := int64(0); id < got.Ntotal(); id++ {
			require.NoError(t, got.Reconstruct(id, out))
			assert.Equal(t, data[id*4:(id+1)*4], out)
		}
	})
}

func TestBinaryWriteRead(t *testing.T) {
	b, err := NewBinaryFlat(16, MetricHamming)
	require.NoError(t, err)
	require.NoError(t, b.Add(t.Context(), 2, []byte{1, 2, 3, 4}))

	var buf bytes.Buffer
	require.NoError(t, WriteBinary(&buf, b))
	got, err := ReadBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Ntotal())
	out := make([]byte, 2)
	require.NoError(t, got.Reconstruct(1, out))
	assert.Equal(t, []byte{3, 4}, out)
}

func TestSimulatedAccelerator(t *testing.T) {
	ctx := t.Context()
	host, err := NewFlat(4, MetricL2)
	require.NoError(t, err)
	require.NoError(t, host.Add(ctx, 2, make([]float32, 8)))

	acc := NewSimulatedAccelerator(0, 1<<20)
	dev, err := acc.Upload(ctx, host)
	require.NoError(t, err)
	assert.Positive(t, acc.MemoryUsage())

	require.NoError(t, dev.Add(ctx, 1, []float32{1, 1, 1, 1}))
	assert.Equal(t, int64(3), dev.Ntotal())
	assert.Equal(t, int64(2), host.Ntotal(), "device copy is independent")

	back, err := dev.Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), back.Ntotal())

	dev.Free()
	dev.Free()
	assert.Equal(t, int64(0), acc.MemoryUsage())
}

func TestSimulatedAcceleratorCapacity(t *testing.T) {
	ctx := t.Context()
	host, err := NewFlat(4, MetricL2)
	require.NoError(t, err)
	require.NoError(t, host.Add(ctx, 100, make([]float32, 400)))

	acc := NewSimulatedAccelerator(1, 16)
	_, err = acc.Upload(ctx, host)
	assert.ErrorIs(t, err, ErrDeviceMemoryExhausted)
	assert.Equal(t, int64(0), acc.MemoryUsage())
}

func TestSimulatedAcceleratorAddCapacity(t *testing.T) {
	ctx := t.Context()
	host, err := NewFlat(4, MetricL2)
	require.NoError(t, err)
	require.NoError(t, host.Add(ctx, 2, make([]float32, 8)))

	hostSize := host.MemoryUsage()
	acc := NewSimulatedAccelerator(2, hostSize+64)
	dev, err := acc.Upload(ctx, host)
	require.NoError(t, err)
	before := acc.MemoryUsage()

	err = dev.Add(ctx, 100, make([]float32, 400))
	require.ErrorIs(t, err, ErrDeviceMemoryExhausted)
	assert.Equal(t, int64(2), dev.Ntotal(), "rejected add leaves the device unchanged")
	assert.Equal(t, before, acc.MemoryUsage())

	require.NoError(t, dev.Add(ctx, 1, []float32{1, 1, 1, 1}))
	assert.Equal(t, int64(3), dev.Ntotal())
	assert.LessOrEqual(t, acc.MemoryUsage(), hostSize+64)

	// A failing engine add returns its reservation.
	used := acc.MemoryUsage()
	assert.Error(t, dev.Add(ctx, 1, []float32{1, 1}))
	assert.Equal(t, used, acc.MemoryUsage())

	dev.Free()
	assert.Equal(t, int64(0), acc.MemoryUsage())
}

func TestParallelForFirstError(t *testing.T) {
	ctx := WithThreads(context.Background(), 4)
	err := parallelFor(ctx, 10, func(i int) error {
		if i == 5 {
			return ErrInvalidArgument
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
