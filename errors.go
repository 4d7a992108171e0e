package annexec

import (
	"errors"
	"fmt"

	"github.com/hupe1980/annexec/blobstore"
	"github.com/hupe1980/annexec/index"
	"github.com/hupe1980/annexec/persistence"
)

// Sentinel errors. Every error returned by an index matches one of them
// through errors.Is.
var (
	ErrUnknownIndexType    = index.ErrUnknownIndexType
	ErrEmptyIndex          = index.ErrEmptyIndex
	ErrNotTrained          = index.ErrNotTrained
	ErrAlreadyTrained      = index.ErrAlreadyTrained
	ErrNotImplemented      = index.ErrNotImplemented
	ErrInvalidMetric       = index.ErrInvalidMetric
	ErrAllocationFailure   = index.ErrAllocationFailure
	ErrBackendInner        = index.ErrBackendInner
	ErrNotFound            = index.ErrNotFound
	ErrNoResourceAvailable = index.ErrNoResourceAvailable
	ErrInvalidArgs         = index.ErrInvalidArgs
)

var (
	// ErrNoStore is returned by Save and Load on a runtime without a blob
	// store.
	ErrNoStore = errors.New("no blob store configured")

	// ErrCorrupt is returned by Load when a persisted container fails its
	// integrity checks.
	ErrCorrupt = persistence.ErrCorrupt
)

// DimensionMismatchError indicates a vector/query dimensionality mismatch.
type DimensionMismatchError = index.DimensionMismatchError

// Status is a stable result code for an error.
type Status = index.Status

// StatusOf maps err to its status code. Nil maps to success.
func StatusOf(err error) Status { return index.StatusOf(err) }

// translateError folds persistence and blob store failures into the index
// taxonomy.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, persistence.ErrCorrupt),
		errors.Is(err, persistence.ErrInvalidMagic),
		errors.Is(err, persistence.ErrInvalidVersion):
		return fmt.Errorf("%w: %w", ErrBackendInner, err)
	}
	return err
}
