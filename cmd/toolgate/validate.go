package main

import (
	"fmt"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/kit"
	"github.com/toolgate/toolgate/pkg/output"
	"github.com/toolgate/toolgate/pkg/store"

	"github.com/spf13/cobra"
)

var validateKit bool

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a store or kit file without starting anything",
	Long: `Parses and validates a store file (or a kit file with --kit) and
reports the first problem found. Exits non-zero on invalid input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args[0])
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateKit, "kit", false, "Treat the file as a kit instead of a store")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string) error {
	printer := output.New()

	if validateKit {
		k, err := kit.ParseFile(path)
		if err != nil {
			return fmt.Errorf("kit %s: %w", path, err)
		}
		printer.Info("kit is valid", "name", k.Name, "version", k.Version, "backends", len(k.Backends))
		return nil
	}

	st := store.NewFileStore(path)
	backends, err := st.ReadAll()
	if err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	for i := range backends {
		backends[i].SetDefaults()
	}
	if err := config.ValidateSet(backends); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	printer.Info("store is valid", "backends", len(backends))
	return nil
}
