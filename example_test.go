package annexec_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hupe1980/annexec"
	"github.com/hupe1980/annexec/blobstore"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/persistence"
)

func exampleData() *dataset.Dataset {
	ds, err := dataset.FromFloat32(4, 2, []float32{
		0, 0,
		1, 0,
		0, 1,
		5, 5,
	})
	if err != nil {
		log.Fatal(err)
	}
	return ds
}

// Example_flatSearch demonstrates an exact top-k search.
func Example_flatSearch() {
	ctx := context.Background()
	rt := annexec.New()

	idx, err := rt.Create("FLAT")
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	cfg := config.Default()
	cfg.K = 2
	if err := idx.Build(ctx, exampleData(), cfg); err != nil {
		log.Fatal(err)
	}

	q, _ := dataset.FromFloat32(1, 2, []float32{0.9, 0.1})
	res, err := idx.Search(ctx, q, cfg, nil)
	if err != nil {
		log.Fatal(err)
	}
	ids, _ := res.Row(0)
	fmt.Println(ids)
	// Output: [1 0]
}

// Example_filter demonstrates excluding ids with a visibility filter.
func Example_filter() {
	ctx := context.Background()
	rt := annexec.New()
	idx, _ := rt.Create("FLAT")

	cfg := config.Default()
	cfg.K = 2
	_ = idx.Build(ctx, exampleData(), cfg)

	q, _ := dataset.FromFloat32(1, 2, []float32{0.9, 0.1})
	res, _ := idx.Search(ctx, q, cfg, dataset.NewRoaringBitset(1))
	ids, _ := res.Row(0)
	fmt.Println(ids)
	// Output: [0 2]
}

// Example_rangeSearch demonstrates collecting every neighbor within a radius.
func Example_rangeSearch() {
	ctx := context.Background()
	rt := annexec.New()
	idx, _ := rt.Create("FLAT")

	cfg := config.Default()
	_ = idx.Build(ctx, exampleData(), cfg)

	cfg.Radius = 1.5
	q, _ := dataset.FromFloat32(1, 2, []float32{0, 0})
	res, _ := idx.RangeSearch(ctx, q, cfg, nil)
	fmt.Println(res.Offsets, res.Total())
	// Output: [0 3] 3
}

// Example_emptyIndex demonstrates the status code of a failed call.
func Example_emptyIndex() {
	ctx := context.Background()
	rt := annexec.New()
	idx, _ := rt.Create("IVF_FLAT")

	q, _ := dataset.FromFloat32(1, 2, []float32{0, 0})
	_, err := idx.Search(ctx, q, config.Default(), nil)
	fmt.Println(errors.Is(err, annexec.ErrEmptyIndex), annexec.StatusOf(err))
	// Output: true empty_index
}

// Example_persistence demonstrates saving an index to a blob store and
// loading it back.
func Example_persistence() {
	ctx := context.Background()
	rt := annexec.New(annexec.WithStore(blobstore.NewMemoryStore(), persistence.CompressionZSTD))

	idx, _ := rt.Create("FLAT")
	cfg := config.Default()
	_ = idx.Build(ctx, exampleData(), cfg)

	if err := rt.Save(ctx, "points", idx); err != nil {
		log.Fatal(err)
	}
	loaded, err := rt.Load(ctx, "points", "FLAT")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(loaded.Type(), loaded.Count(), loaded.Dim())
	// Output: FLAT 4 2
}
