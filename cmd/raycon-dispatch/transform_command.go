package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roboricindustries/raycon-dispatch/pkg/transform"
)

func newTransformCommand() *cobra.Command {
	var mappingPath, sourcePath string
	var fallback bool

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Apply a mapping document to a source document",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(mappingPath)
			if err != nil {
				return err
			}
			var source map[string]any
			if err := readJSONC(sourcePath, &source); err != nil {
				return err
			}

			t := transform.New(nil)
			var out map[string]any
			cfg, err := transform.ParseMapping(raw)
			if err == nil {
				out, err = t.Transform(source, cfg)
			}
			if err != nil {
				if !fallback {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; using default payload\n", err)
				out = transform.DefaultPayload(source)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&mappingPath, "mapping", "m", "", "Mapping document (JSON or JSONC)")
	cmd.Flags().StringVarP(&sourcePath, "source", "s", "", "Source document (JSON)")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "Print the default payload instead of failing on a bad mapping")
	_ = cmd.MarkFlagRequired("mapping")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
