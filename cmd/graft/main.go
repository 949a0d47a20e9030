// Package main provides the Graft model converter CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graft-ml/graft/convert"
	"github.com/graft-ml/graft/internal/graph"
)

const version = "v0.1.0-dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "graft",
		Short:         "Graph transformation stage for model conversion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(convertCmd(), versionCmd())
	return root
}

func convertCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "convert <input.json> <output.json>",
		Short: "Optimize and quantize a model graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := convert.Flags{}
			if configPath != "" {
				var err error
				flags, err = convert.LoadFlags(configPath)
				if err != nil {
					return err
				}
			}

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() {
				_ = in.Close()
			}()

			g, err := graph.Decode(in)
			if err != nil {
				return err
			}

			pipeline, err := convert.New(flags)
			if err != nil {
				return err
			}
			if err := pipeline.SetGraph(g); err != nil {
				return err
			}
			if err := pipeline.Run(); err != nil {
				return err
			}
			out, err := pipeline.Output()
			if err != nil {
				return err
			}

			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := out.Encode(f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "conversion config file (yaml)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("graft %s\n", version)
		},
	}
}
