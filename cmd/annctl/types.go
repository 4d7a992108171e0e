package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/annexec"
)

var typesJSON bool

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the registered index types",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runtimeOptions()
		if err != nil {
			return err
		}
		rt := annexec.New(opts...)

		out := cmd.OutOrStdout()
		if typesJSON {
			return json.NewEncoder(out).Encode(map[string]any{
				"backend": rt.Backend(),
				"types":   rt.Types(),
			})
		}
		fmt.Fprintf(out, "Backend: %s\n", rt.Backend())
		for _, name := range rt.Types() {
			fmt.Fprintln(out, name)
		}
		return nil
	},
}

func init() {
	typesCmd.Flags().BoolVar(&typesJSON, "json", false, "output as JSON")
}
