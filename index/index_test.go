package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/resource"
)

// stubIndex implements Index for registry tests.
type stubIndex struct {
	Index
	name string
}

func (s *stubIndex) Type() string { return s.name }

func TestRegistry(t *testing.T) {
	var calls atomic.Int32
	Register("TEST_STUB", func(Object) (Index, error) {
		calls.Add(1)
		return &stubIndex{name: "TEST_STUB"}, nil
	})

	t.Run("Create", func(t *testing.T) {
		idx, err := Create("TEST_STUB", Object{})
		require.NoError(t, err)
		assert.Equal(t, "TEST_STUB", idx.Type())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Unknown", func(t *testing.T) {
		idx, err := Create("DOES_NOT_EXIST", Object{})
		assert.ErrorIs(t, err, ErrUnknownIndexType)
		assert.Nil(t, idx)
		assert.Equal(t, StatusUnknownIndexType, StatusOf(err))
		assert.Equal(t, int32(1), calls.Load(), "no constructor may run for an unknown name")
	})

	t.Run("Duplicate", func(t *testing.T) {
		assert.Panics(t, func() {
			Register("TEST_STUB", func(Object) (Index, error) { return nil, nil })
		})
		assert.Panics(t, func() { Register("TEST_NIL", nil) })
	})

	t.Run("Names", func(t *testing.T) {
		assert.Contains(t, Names(), "TEST_STUB")
		assert.True(t, Registered("TEST_STUB"))
		assert.False(t, Registered("TEST_NIL"))
	})

	t.Run("ConcurrentCreate", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := Create("TEST_STUB", Object{})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"unknown type", fmt.Errorf("%w: x", ErrUnknownIndexType), StatusUnknownIndexType},
		{"empty", ErrEmptyIndex, StatusEmptyIndex},
		{"not trained", backend.ErrNotTrained, StatusNotTrained},
		{"already trained", fmt.Errorf("train: %w", ErrAlreadyTrained), StatusAlreadyTrained},
		{"not implemented", ErrNotImplemented, StatusNotImplemented},
		{"invalid metric", config.ErrInvalidMetric, StatusInvalidMetric},
		{"memory", resource.ErrMemoryLimitExceeded, StatusAllocationFailure},
		{"allocation", fmt.Errorf("%w: %w", ErrAllocationFailure, resource.ErrMemoryLimitExceeded), StatusAllocationFailure},
		{"backend inner wins", fmt.Errorf("%w: %w", ErrBackendInner, backend.ErrNotTrained), StatusBackendInnerError},
		{"not found", binaryset.ErrNotFound, StatusNotFound},
		{"no resource", fmt.Errorf("%w: %w", resource.ErrNoResourceAvailable, context.DeadlineExceeded), StatusNoResourceAvailable},
		{"dimension", &DimensionMismatchError{Expected: 4, Actual: 3}, StatusInvalidArgs},
		{"dataset", dataset.ErrInvalidDataset, StatusInvalidArgs},
		{"canceled", context.Canceled, StatusCanceled},
		{"other", errors.New("boom"), StatusUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}

	assert.Equal(t, "backend_inner_error", StatusBackendInnerError.String())
	assert.Equal(t, "no_resource_available", StatusNoResourceAvailable.String())
	assert.Equal(t, "Status(200)", Status(200).String())
}

func TestDimensionMismatchError(t *testing.T) {
	var err error = &DimensionMismatchError{Expected: 8, Actual: 4}
	assert.ErrorIs(t, err, ErrInvalidArgs)
	assert.EqualError(t, err, "dimension mismatch: expected 8, got 4")

	var dm *DimensionMismatchError
	require.ErrorAs(t, fmt.Errorf("add: %w", err), &dm)
	assert.Equal(t, 8, dm.Expected)
}

func TestCheckDataset(t *testing.T) {
	ds, err := dataset.FromFloat32(2, 2, []float32{1, 2, 3, 4})
	require.NoError(t, err)

	assert.NoError(t, CheckDataset(ds, dataset.Float32, 2))
	assert.NoError(t, CheckDataset(ds, dataset.Float32, 0))
	assert.ErrorIs(t, CheckDataset(nil, dataset.Float32, 2), ErrInvalidArgs)
	assert.ErrorIs(t, CheckDataset(ds, dataset.Binary, 2), ErrInvalidArgs)

	var dm *DimensionMismatchError
	assert.ErrorAs(t, CheckDataset(ds, dataset.Float32, 3), &dm)
}

func TestCheckIDs(t *testing.T) {
	ids, err := CheckIDs(dataset.FromIDs([]int64{0, 4}), 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 4}, ids)

	_, err = CheckIDs(dataset.FromIDs([]int64{5}), 5)
	assert.ErrorIs(t, err, ErrInvalidArgs)
	_, err = CheckIDs(dataset.FromIDs([]int64{-1}), 5)
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestMetric(t *testing.T) {
	cfg := config.Default()
	cfg.MetricType = "ip"
	m, err := Metric(cfg)
	require.NoError(t, err)
	assert.Equal(t, backend.MetricIP, m)

	cfg.MetricType = "MANHATTAN"
	_, err = Metric(cfg)
	assert.ErrorIs(t, err, ErrInvalidMetric)
}

func TestSegments(t *testing.T) {
	set := binaryset.New()
	err := WriteSegment(set, "KEY", 4, func(w io.Writer) error {
		_, err := w.Write([]byte("payload"))
		return err
	})
	require.NoError(t, err)

	r, err := ReadSegment(set, "KEY")
	require.NoError(t, err)
	assert.Equal(t, 7, r.Remaining())

	_, err = ReadSegment(set, "MISSING")
	assert.ErrorIs(t, err, ErrNotFound)

	err = WriteSegment(set, "FAIL", 0, func(io.Writer) error { return errors.New("disk on fire") })
	assert.ErrorIs(t, err, ErrBackendInner)
	assert.False(t, set.Contains("FAIL"))

	assert.ErrorIs(t, WriteSegment(nil, "KEY", 0, nil), ErrInvalidArgs)
}

func TestObjectDefaults(t *testing.T) {
	var obj Object
	assert.Equal(t, "native", obj.Factory().Name())
	assert.NotNil(t, obj.Log())
	assert.NotNil(t, obj.Dispatcher())
}
