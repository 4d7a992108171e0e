package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/annexec"
	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/blobstore"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/persistence"
	"github.com/hupe1980/annexec/testutil"
)

// BenchFile describes one benchmark run.
type BenchFile struct {
	Index    string        `yaml:"index"`
	Rows     int           `yaml:"rows"`
	Dim      int           `yaml:"dim"`
	Queries  int           `yaml:"queries"`
	Clusters int           `yaml:"clusters"`
	Seed     int64         `yaml:"seed"`
	Config   config.Config `yaml:"config"`

	Devices     DeviceConfig `yaml:"devices"`
	MemoryLimit int64        `yaml:"memory_limit"`

	Store       StoreConfig `yaml:"store"`
	Compression string      `yaml:"compression"`
	// Split saves one container per segment.
	Split bool `yaml:"split"`
	// Keep leaves the persisted index in the store.
	Keep bool `yaml:"keep"`
}

// DeviceConfig registers simulated accelerators.
type DeviceConfig struct {
	Count    int   `yaml:"count"`
	Capacity int64 `yaml:"capacity"`
	Leases   int   `yaml:"leases"`
}

func defaultBenchFile() BenchFile {
	return BenchFile{
		Index:    "IVF_FLAT",
		Rows:     10000,
		Dim:      64,
		Queries:  100,
		Clusters: 32,
		Seed:     42,
		Config:   config.Default(),
		Store:    StoreConfig{Kind: "memory"},
	}
}

// parseBenchFile decodes data on top of the defaults.
func parseBenchFile(data []byte) (BenchFile, error) {
	bf := defaultBenchFile()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil && err != io.EOF {
		return BenchFile{}, fmt.Errorf("decode bench file: %w", err)
	}
	if err := bf.Validate(); err != nil {
		return BenchFile{}, err
	}
	return bf, nil
}

// Validate checks the shape parameters and the embedded index config.
func (bf BenchFile) Validate() error {
	if bf.Rows <= 0 || bf.Dim <= 0 {
		return fmt.Errorf("bench: rows and dim must be positive")
	}
	if bf.Queries <= 0 || bf.Queries > bf.Rows {
		return fmt.Errorf("bench: queries must be in [1, rows]")
	}
	if err := bf.Config.Validate(); err != nil {
		return err
	}
	if bf.binary() && bf.Dim%8 != 0 {
		return fmt.Errorf("bench: binary dim must be a multiple of 8, got %d", bf.Dim)
	}
	if _, err := persistence.ParseCompression(bf.Compression); err != nil {
		return err
	}
	return nil
}

func (bf BenchFile) binary() bool {
	m, err := bf.Config.Metric()
	return err == nil && m.IsBinary()
}

func (bf BenchFile) data() (base, queries *dataset.Dataset, err error) {
	rng := testutil.NewRNG(bf.Seed)
	if bf.binary() {
		base = rng.BinaryDataset(bf.Rows, bf.Dim)
		queries, err = dataset.FromBinary(bf.Queries, bf.Dim, base.Binary()[:bf.Queries*base.CodeSize()])
		return base, queries, err
	}

	var raw []float32
	if bf.Clusters > 0 {
		raw = rng.ClusteredData(bf.Rows, bf.Dim, bf.Clusters, 0.05)
	} else {
		raw = rng.FloatData(bf.Rows, bf.Dim)
	}
	if base, err = dataset.FromFloat32(bf.Rows, bf.Dim, raw); err != nil {
		return nil, nil, err
	}
	queries, err = dataset.FromFloat32(bf.Queries, bf.Dim, raw[:bf.Queries*bf.Dim])
	return base, queries, err
}

// BenchReport is the outcome of a benchmark run.
type BenchReport struct {
	Index       string        `json:"index"`
	Backend     string        `json:"backend"`
	Rows        int           `json:"rows"`
	Dim         int           `json:"dim"`
	Queries     int           `json:"queries"`
	K           int           `json:"k"`
	Build       time.Duration `json:"build_ns"`
	Search      time.Duration `json:"search_ns"`
	QPS         float64       `json:"qps"`
	Recall      float64       `json:"recall"`
	IndexBytes  int64         `json:"index_bytes"`
	Blob        string        `json:"blob"`
	Compression string        `json:"compression"`
	Save        time.Duration `json:"save_ns"`
	Load        time.Duration `json:"load_ns"`
	RoundTrip   bool          `json:"round_trip"`
}

// runBench builds, queries, persists and reloads one index.
func runBench(ctx context.Context, bf BenchFile, opts []annexec.Option) (*BenchReport, error) {
	store, closeStore, err := openStore(ctx, bf.Store)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeStore() }()

	compression, err := persistence.ParseCompression(bf.Compression)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		annexec.WithStore(store, compression),
		annexec.WithMemoryLimit(bf.MemoryLimit),
	)
	for i := 0; i < bf.Devices.Count; i++ {
		opts = append(opts, annexec.WithDevices(backend.NewSimulatedAccelerator(i, bf.Devices.Capacity)))
	}
	if bf.Devices.Leases > 0 {
		opts = append(opts, annexec.WithLeasesPerDevice(bf.Devices.Leases))
	}
	rt := annexec.New(opts...)

	base, queries, err := bf.data()
	if err != nil {
		return nil, err
	}

	idx, err := rt.Create(bf.Index)
	if err != nil {
		return nil, err
	}
	defer func() { _ = idx.Close() }()

	rep := &BenchReport{
		Index:       bf.Index,
		Backend:     rt.Backend(),
		Rows:        bf.Rows,
		Dim:         bf.Dim,
		Queries:     bf.Queries,
		K:           bf.Config.K,
		Compression: compression.String(),
	}

	start := time.Now()
	if err := idx.Build(ctx, base, bf.Config); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	rep.Build = time.Since(start)
	rep.IndexBytes = idx.Size()

	start = time.Now()
	res, err := idx.Search(ctx, queries, bf.Config, nil)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	rep.Search = time.Since(start)
	if secs := rep.Search.Seconds(); secs > 0 {
		rep.QPS = float64(bf.Queries) / secs
	}
	rep.Recall = recall(bf, base, queries, res)

	rep.Blob = path.Join("bench", uuid.NewString())
	start = time.Now()
	if bf.Split {
		err = rt.SaveSegments(ctx, rep.Blob, idx)
	} else {
		err = rt.Save(ctx, rep.Blob, idx)
	}
	if err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	rep.Save = time.Since(start)
	if !bf.Keep {
		defer func() { _ = deleteBlob(context.WithoutCancel(ctx), store, rep.Blob, bf.Split) }()
	}

	start = time.Now()
	var loaded *annexec.Index
	if bf.Split {
		loaded, err = rt.LoadSegments(ctx, rep.Blob, bf.Index)
	} else {
		loaded, err = rt.Load(ctx, rep.Blob, bf.Index)
	}
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	defer func() { _ = loaded.Close() }()
	rep.Load = time.Since(start)

	again, err := loaded.Search(ctx, queries, bf.Config, nil)
	if err != nil {
		return nil, fmt.Errorf("search after load: %w", err)
	}
	rep.RoundTrip = slices.Equal(res.IDs, again.IDs)
	return rep, nil
}

// recall is the mean top-k recall against an exact L2 scan. It is only
// computed for float L2 data and reports -1 otherwise.
func recall(bf BenchFile, base, queries *dataset.Dataset, res *dataset.Result) float64 {
	m, err := bf.Config.Metric()
	if err != nil || m != config.MetricL2 {
		return -1
	}
	var sum float64
	for i := 0; i < queries.Rows(); i++ {
		want := testutil.BruteForceL2(base.Float32(), base.Dim(), queries.Row(i), bf.Config.K)
		got, _ := res.Row(i)
		sum += testutil.ComputeRecall(want, got)
	}
	return sum / float64(queries.Rows())
}

func deleteBlob(ctx context.Context, store blobstore.BlobStore, name string, split bool) error {
	if !split {
		return store.Delete(ctx, name)
	}
	names, err := store.List(ctx, name+"/")
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := store.Delete(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func printReport(w io.Writer, rep *BenchReport) {
	fmt.Fprintf(w, "Index:       %s (%s backend)\n", rep.Index, rep.Backend)
	fmt.Fprintf(w, "Data:        %s vectors x %d dims, %s queries, k=%d\n",
		humanize.Comma(int64(rep.Rows)), rep.Dim, humanize.Comma(int64(rep.Queries)), rep.K)
	fmt.Fprintf(w, "Build:       %v\n", rep.Build.Round(time.Millisecond))
	fmt.Fprintf(w, "Search:      %v (%s QPS)\n", rep.Search.Round(time.Microsecond), humanize.CommafWithDigits(rep.QPS, 0))
	if rep.Recall >= 0 {
		fmt.Fprintf(w, "Recall@%d:    %.4f\n", rep.K, rep.Recall)
	}
	fmt.Fprintf(w, "Index size:  %s\n", humanize.IBytes(uint64(max(rep.IndexBytes, 0))))
	fmt.Fprintf(w, "Blob:        %s (%s)\n", rep.Blob, rep.Compression)
	fmt.Fprintf(w, "Save/Load:   %v / %v\n", rep.Save.Round(time.Microsecond), rep.Load.Round(time.Microsecond))
	fmt.Fprintf(w, "Round trip:  %t\n", rep.RoundTrip)
}

var (
	benchFile string
	benchJSON bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark an index type on synthetic data",
	Long: `Build an index on seeded synthetic data, run a batch of queries, persist
the index to a blob store under a random name, reload it and verify that the
reloaded index returns the same neighbors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bf := defaultBenchFile()
		if benchFile != "" {
			data, err := os.ReadFile(benchFile)
			if err != nil {
				return err
			}
			if bf, err = parseBenchFile(data); err != nil {
				return err
			}
		}

		opts, err := runtimeOptions()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
		defer cancel()

		rep, err := runBench(ctx, bf, opts)
		if err != nil {
			return fmt.Errorf("bench %s: %w (status %s)", bf.Index, err, annexec.StatusOf(err))
		}
		if benchJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(rep)
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVarP(&benchFile, "file", "f", "", "bench file (YAML)")
	benchCmd.Flags().BoolVar(&benchJSON, "json", false, "output as JSON")
}
