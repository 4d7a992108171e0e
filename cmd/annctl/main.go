// Command annctl inspects and benchmarks annexec indexes.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hupe1980/annexec"
	"github.com/hupe1980/annexec/backend"
)

var (
	verbose     bool
	jsonLogs    bool
	workers     int
	backendName string
)

// backends maps --backend values to engine factories. Optional factories
// add themselves from build-tagged files.
var backends = map[string]backend.Factory{
	"native": backend.Native,
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "annctl",
	Short: "annctl - nearest-neighbor execution layer tooling",
	Long: `annctl lists the registered index types, benchmarks an index type
against synthetic data and inspects persisted indexes in a blob store.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "worker pool size (0 = GOMAXPROCS)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "native", "engine factory")

	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(inspectCmd)
}

func logger() *annexec.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	if jsonLogs {
		return annexec.NewJSONLogger(level)
	}
	return annexec.NewTextLogger(level)
}

// runtimeOptions returns the options shared by every command.
func runtimeOptions() ([]annexec.Option, error) {
	f, ok := backends[backendName]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", backendName, backendNames())
	}
	return []annexec.Option{
		annexec.WithWorkers(workers),
		annexec.WithBackend(f),
		annexec.WithLogger(logger()),
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
