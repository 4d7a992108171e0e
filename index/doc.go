// Package index defines the execution contract shared by every nearest-neighbor
// index variant, the error taxonomy they report, and the type registry used to
// create them by name.
//
// # Variants
//
// Concrete variants live in sub-packages and register themselves from init():
//
//   - FLAT, BIN_FLAT (alias BINFLAT): exact scan (package index/flat)
//   - IVF_FLAT, IVF_PQ, IVF_SQ8: inverted file (package index/ivf)
//   - GPU_IVF_FLAT, GPU_IVF_PQ, GPU_IVF_SQ8: accelerator-resident inverted
//     file (package index/gpuivf)
//
// Import index/all to register every variant.
//
// # Lifecycle
//
// An index starts Empty. Train moves it to Trained, Add populates it, and
// Build does both. Search, RangeSearch, GetVectorByIds and Serialize on an
// Empty index fail with ErrEmptyIndex. Deserialize replaces the current state
// only after the new state was reconstructed successfully.
//
// # Errors
//
// Every operation returns nil or an error matching one of the sentinels in
// this package via errors.Is. StatusOf maps an error onto a stable Status.
package index
