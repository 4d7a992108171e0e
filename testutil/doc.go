// Package testutil provides testing utilities for annexec.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating seeded random vectors and datasets,
// computing exact nearest neighbors, and verifying search recall.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	ds := rng.FloatDataset(1000, 32)         // uniform [0, 1)
//	bin := rng.BinaryDataset(1000, 256)      // packed bits
//	clustered := rng.ClusteredData(1000, 32, 16, 0.05)
//
// # Exact Search (Ground Truth)
//
//	ids := testutil.BruteForceL2(data, dim, query, k)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(exactIDs, approxIDs)
package testutil
