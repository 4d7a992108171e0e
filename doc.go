// Package annexec provides a uniform execution layer over nearest-neighbor
// search backends.
//
// Every index type (exact scan, inverted file, accelerator-resident inverted
// file) is exposed through the same contract: build, train, add, top-k
// search, range search, fetch by id, serialize and deserialize. The layer
// fans independent query rows out over a shared bounded worker pool,
// aggregates variable-length range results, leases accelerators from a
// pool, and maps backend failures onto one error taxonomy.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt := annexec.New(annexec.WithWorkers(8))
//
//	idx, _ := rt.Create("IVF_FLAT")
//	cfg := config.Default()
//	cfg.K = 10
//	cfg.Nlist = 256
//	_ = idx.Build(ctx, base, cfg)
//
//	res, _ := idx.Search(ctx, queries, cfg, nil)
//	for i := 0; i < queries.Rows(); i++ {
//	    ids, dists := res.Row(i)
//	    fmt.Println(ids, dists)
//	}
//
// # Index Types
//
//   - FLAT: exact scan over float vectors (L2, IP, COSINE)
//   - BIN_FLAT, BINFLAT: exact scan over bit vectors (HAMMING, JACCARD)
//   - IVF_FLAT, IVF_PQ, IVF_SQ8: inverted file with raw, product-quantized
//     or 8-bit scalar-quantized lists
//   - GPU_IVF_FLAT, GPU_IVF_PQ, GPU_IVF_SQ8: inverted file resident on an
//     accelerator registered with WithDevices
//
// # Persistence
//
// Serialize writes an index into a binaryset.BinarySet. With WithStore,
// Runtime.Save and Runtime.Load move those sets through a blob store
// (local directory, memory, SQLite, MinIO or S3) as checksummed, optionally
// compressed containers:
//
//	rt := annexec.New(annexec.WithStore(blobstore.NewLocalStore("./data"), persistence.CompressionLZ4))
//	_ = rt.Save(ctx, "products", idx)
//	idx, _ = rt.Load(ctx, "products", "IVF_FLAT")
//
// # Errors
//
// Every operation returns nil or an error matching one of the Err* sentinels
// via errors.Is. StatusOf maps any error onto a stable status code.
package annexec
