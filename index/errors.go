package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/dispatch"
	"github.com/hupe1980/annexec/resource"
)

var (
	// ErrUnknownIndexType is returned by Create for an unregistered name.
	ErrUnknownIndexType = errors.New("unknown index type")
	// ErrEmptyIndex is returned when an operation needs a built index.
	ErrEmptyIndex = errors.New("empty index")
	// ErrNotImplemented is returned for operations a variant does not support.
	ErrNotImplemented = errors.New("not implemented")
	// ErrInvalidArgs is returned for malformed datasets or parameters.
	ErrInvalidArgs = errors.New("invalid args")

	// ErrNotTrained is returned by Add on a clustering variant before Train.
	ErrNotTrained = backend.ErrNotTrained
	// ErrAlreadyTrained is returned by a second Train on a clustering variant.
	ErrAlreadyTrained = backend.ErrAlreadyTrained
	// ErrInvalidMetric is returned when metric_type names no supported metric.
	ErrInvalidMetric = config.ErrInvalidMetric
	// ErrAllocationFailure is returned when result buffers exceed the memory budget.
	ErrAllocationFailure = dispatch.ErrAllocationFailure
	// ErrBackendInner is returned when the backend fails during an operation.
	ErrBackendInner = dispatch.ErrBackendInner
	// ErrNotFound is returned by Deserialize when the variant's segment is missing.
	ErrNotFound = binaryset.ErrNotFound
	// ErrNoResourceAvailable is returned when no accelerator can be leased.
	ErrNoResourceAvailable = resource.ErrNoResourceAvailable
)

// DimensionMismatchError reports a dataset whose dimension differs from the
// index's.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Unwrap makes the error match ErrInvalidArgs.
func (e *DimensionMismatchError) Unwrap() error { return ErrInvalidArgs }

// Status is a stable code for an error kind.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusUnknownIndexType
	StatusEmptyIndex
	StatusNotTrained
	StatusAlreadyTrained
	StatusNotImplemented
	StatusInvalidMetric
	StatusAllocationFailure
	StatusBackendInnerError
	StatusNotFound
	StatusNoResourceAvailable
	StatusInvalidArgs
	StatusCanceled
	StatusUnexpected
)

var statusNames = [...]string{
	StatusSuccess:             "success",
	StatusUnknownIndexType:    "unknown_index_type",
	StatusEmptyIndex:          "empty_index",
	StatusNotTrained:          "not_trained",
	StatusAlreadyTrained:      "already_trained",
	StatusNotImplemented:      "not_implemented",
	StatusInvalidMetric:       "invalid_metric",
	StatusAllocationFailure:   "allocation_failure",
	StatusBackendInnerError:   "backend_inner_error",
	StatusNotFound:            "not_found",
	StatusNoResourceAvailable: "no_resource_available",
	StatusInvalidArgs:         "invalid_args",
	StatusCanceled:            "canceled",
	StatusUnexpected:          "unexpected_error",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

// statusOrder lists sentinels in match order. Wrapping kinds come first so
// that a fan-out failure caused by, say, ErrNotTrained reports as a backend
// fault.
var statusOrder = []struct {
	err    error
	status Status
}{
	{ErrBackendInner, StatusBackendInnerError},
	{ErrAllocationFailure, StatusAllocationFailure},
	{resource.ErrMemoryLimitExceeded, StatusAllocationFailure},
	{backend.ErrDeviceMemoryExhausted, StatusAllocationFailure},
	{ErrNoResourceAvailable, StatusNoResourceAvailable},
	{resource.ErrLeaseConflict, StatusNoResourceAvailable},
	{ErrUnknownIndexType, StatusUnknownIndexType},
	{ErrEmptyIndex, StatusEmptyIndex},
	{ErrNotTrained, StatusNotTrained},
	{ErrAlreadyTrained, StatusAlreadyTrained},
	{ErrNotImplemented, StatusNotImplemented},
	{backend.ErrReconstructNotSupported, StatusNotImplemented},
	{ErrInvalidMetric, StatusInvalidMetric},
	{backend.ErrUnsupportedMetric, StatusInvalidMetric},
	{ErrNotFound, StatusNotFound},
	{ErrInvalidArgs, StatusInvalidArgs},
	{backend.ErrInvalidArgument, StatusInvalidArgs},
	{config.ErrInvalidConfig, StatusInvalidArgs},
	{dataset.ErrInvalidDataset, StatusInvalidArgs},
	{binaryset.ErrDuplicateName, StatusInvalidArgs},
	{context.Canceled, StatusCanceled},
	{context.DeadlineExceeded, StatusCanceled},
}

// StatusOf maps err onto its Status. Nil maps to StatusSuccess and errors
// outside the taxonomy to StatusUnexpected.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	for _, s := range statusOrder {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return StatusUnexpected
}
