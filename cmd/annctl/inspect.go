package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/annexec"
	"github.com/hupe1980/annexec/blobstore"
	"github.com/hupe1980/annexec/persistence"
)

// SegmentInfo describes one segment of a persisted index.
type SegmentInfo struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// InspectReport describes a persisted index.
type InspectReport struct {
	Blob     string        `json:"blob"`
	Segments []SegmentInfo `json:"segments"`
	Type     string        `json:"type,omitempty"`
	Dim      int64         `json:"dim,omitempty"`
	Count    int64         `json:"count,omitempty"`
	Size     int64         `json:"size,omitempty"`
}

// inspect decodes the container(s) under name and, when indexType is set,
// reconstructs the index to report its shape.
func inspect(ctx context.Context, store blobstore.BlobStore, name, indexType string, split bool, opts []annexec.Option) (*InspectReport, error) {
	m := persistence.NewManager(store, persistence.ManagerOptions{})
	load := m.Load
	if split {
		load = m.LoadSplit
	}
	set, err := load(ctx, name)
	if err != nil {
		return nil, err
	}

	rep := &InspectReport{Blob: name}
	for _, n := range set.Names() {
		b, err := set.GetByName(n)
		if err != nil {
			return nil, err
		}
		rep.Segments = append(rep.Segments, SegmentInfo{Name: n, Bytes: b.Size()})
	}
	if indexType == "" {
		return rep, nil
	}

	rt := annexec.New(opts...)
	idx, err := rt.Create(indexType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = idx.Close() }()
	if err := idx.Deserialize(ctx, set); err != nil {
		return nil, err
	}
	rep.Type = idx.Type()
	rep.Dim = idx.Dim()
	rep.Count = idx.Count()
	rep.Size = idx.Size()
	return rep, nil
}

func printInspect(w io.Writer, rep *InspectReport) {
	fmt.Fprintf(w, "Blob: %s\n", rep.Blob)
	for _, s := range rep.Segments {
		fmt.Fprintf(w, "  %-12s %s\n", s.Name, humanize.IBytes(uint64(s.Bytes)))
	}
	if rep.Type != "" {
		fmt.Fprintf(w, "Type:  %s\n", rep.Type)
		fmt.Fprintf(w, "Dim:   %d\n", rep.Dim)
		fmt.Fprintf(w, "Count: %s\n", humanize.Comma(rep.Count))
		fmt.Fprintf(w, "Size:  %s\n", humanize.IBytes(uint64(max(rep.Size, 0))))
	}
}

var (
	inspectStore StoreConfig
	inspectType  string
	inspectSplit bool
	inspectJSON  bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <name>",
	Short: "Show the segments of a persisted index",
	Long: `Decode a persisted index from a blob store, verify its checksums and list
its segments. With --type the index is reconstructed and its shape reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runtimeOptions()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		store, closeStore, err := openStore(ctx, inspectStore)
		if err != nil {
			return err
		}
		defer func() { _ = closeStore() }()

		rep, err := inspect(ctx, store, args[0], inspectType, inspectSplit, opts)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", args[0], err)
		}
		if inspectJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(rep)
		}
		printInspect(cmd.OutOrStdout(), rep)
		return nil
	},
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectStore.Kind, "store", "local", "store kind: local, sqlite, minio or s3")
	f.StringVar(&inspectStore.Path, "path", ".", "directory (local) or database file (sqlite)")
	f.StringVar(&inspectStore.Bucket, "bucket", "", "bucket (minio, s3)")
	f.StringVar(&inspectStore.Prefix, "prefix", "", "key prefix (minio, s3)")
	f.StringVar(&inspectStore.Endpoint, "endpoint", "", "endpoint (minio, s3-compatible)")
	f.StringVar(&inspectStore.Region, "region", "", "region (s3)")
	f.BoolVar(&inspectStore.UseSSL, "ssl", false, "use TLS (minio)")
	f.StringVar(&inspectType, "type", "", "index type to reconstruct")
	f.BoolVar(&inspectSplit, "split", false, "read one container per segment")
	f.BoolVar(&inspectJSON, "json", false, "output as JSON")
}
