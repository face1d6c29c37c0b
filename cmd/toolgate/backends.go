package main

import (
	"fmt"

	"github.com/toolgate/toolgate/pkg/output"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/store"

	"github.com/spf13/cobra"
)

var backendsStore string

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List backends configured in the store file",
	Long: `Reads the store file and prints the configured backends.

This inspects the file directly; it does not reflect live connection
state of a running gateway. Use the gate.status tool for that.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackends()
	},
}

func init() {
	backendsCmd.Flags().StringVarP(&backendsStore, "store", "s", "toolgate.yaml", "Path to the backend store file")
	rootCmd.AddCommand(backendsCmd)
}

func runBackends() error {
	printer := output.New()

	st := store.NewFileStore(backendsStore)
	reg := registry.New(st)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("loading store %s: %w", backendsStore, err)
	}

	var summaries []output.BackendSummary
	for _, b := range reg.List() {
		state := "enabled"
		if !b.Enabled {
			state = "disabled"
		}
		transport := "http"
		if b.Spec.IsStdio() {
			transport = "stdio"
		}
		summaries = append(summaries, output.BackendSummary{
			Name:      b.Name,
			Prefix:    b.Prefix,
			Transport: transport,
			State:     state,
			Notes:     b.Notes,
		})
	}

	printer.Backends(summaries)
	return nil
}
