package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloat32(t *testing.T) {
	ds, err := FromFloat32(2, 3, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Rows())
	assert.Equal(t, 3, ds.Dim())
	assert.Equal(t, Float32, ds.Encoding())
	assert.Equal(t, []float32{4, 5, 6}, ds.Row(1))

	_, err = FromFloat32(2, 3, []float32{1, 2})
	assert.ErrorIs(t, err, ErrInvalidDataset)
	_, err = FromFloat32(1, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestFromBinary(t *testing.T) {
	ds, err := FromBinary(2, 16, []byte{0xff, 0x00, 0x0f, 0xf0})
	require.NoError(t, err)
	assert.Equal(t, Binary, ds.Encoding())
	assert.Equal(t, 2, ds.CodeSize())
	assert.Equal(t, []byte{0x0f, 0xf0}, ds.BinaryRow(1))

	_, err = FromBinary(1, 12, []byte{0, 0})
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestWithIDs(t *testing.T) {
	ds, err := FromFloat32(2, 1, []float32{1, 2})
	require.NoError(t, err)

	withIDs, err := ds.WithIDs([]int64{10, 20})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, withIDs.IDs())
	assert.Nil(t, ds.IDs())

	_, err = ds.WithIDs([]int64{1})
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestResultRows(t *testing.T) {
	r := NewResult(2, 3)
	ids, dist := r.Row(1)
	ids[0] = 7
	dist[2] = 1.5
	assert.Equal(t, int64(7), r.IDs[3])
	assert.Equal(t, float32(1.5), r.Distances[5])

	rr := &RangeResult{
		Rows:      3,
		IDs:       []int64{1, 2, 3},
		Distances: []float32{0.1, 0.2, 0.3},
		Offsets:   []int{0, 0, 2, 3},
	}
	ids, _ = rr.Row(0)
	assert.Empty(t, ids)
	ids, dist = rr.Row(1)
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Equal(t, []float32{0.1, 0.2}, dist)
	assert.Equal(t, 3, rr.Total())
}

func TestBitsets(t *testing.T) {
	var nilView BitsetView
	assert.False(t, Filtered(nilView, 1))

	rb := NewRoaringBitset(1, 5, -3)
	rb.Add(9)
	assert.True(t, rb.Test(5))
	assert.True(t, Filtered(rb, 9))
	assert.False(t, rb.Test(2))
	assert.False(t, rb.Test(-3))
	assert.Equal(t, 3, rb.Count())

	db := NewDenseBitset(10)
	db.Set(3)
	db.Set(42) // out of range, ignored
	assert.True(t, db.Test(3))
	assert.False(t, db.Test(42))
	assert.False(t, db.Test(-1))
	assert.Equal(t, 1, db.Count())
}
