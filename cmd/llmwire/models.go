package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/martinemde/llmwire/unifiedllm"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known models and the wire protocol each one uses",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().String("wire", "", "Only list models for this wire protocol")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	var wire unifiedllm.WireAPI
	if w, _ := cmd.Flags().GetString("wire"); w != "" {
		parsed, err := unifiedllm.ParseWireAPI(w)
		if err != nil {
			return err
		}
		wire = parsed
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWIRE\tCONTEXT\tREASONING\tALIASES")
	for _, m := range unifiedllm.ListModels(wire) {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", m.ID, m.WireAPI, m.ContextWindow, m.SupportsReasoning, strings.Join(m.Aliases, ", "))
	}
	return tw.Flush()
}
