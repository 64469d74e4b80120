package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/enrich"
)

var (
	enrichBypass bool
	enrichModel  string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <listing-url>",
	Short: "Enrich one listing URL and print the merged record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		listing, err := e.Orchestrator.Enrich(cmd.Context(), args[0], enrich.Options{
			StationCount: cfg.Proximity.StationCount,
			SummaryModel: enrichModel,
			Bypass:       enrichBypass,
		})
		if err != nil {
			return err
		}

		zap.L().Info("enrichment complete", zap.String("id", listing.ID))
		out := json.NewEncoder(os.Stdout)
		out.SetIndent("", "  ")
		return out.Encode(listing)
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichBypass, "bypass-cache", false, "recompute, busting this listing's cache entries")
	enrichCmd.Flags().StringVar(&enrichModel, "summary-model", "", "summarizer model id (unrecognized ids fall back to the default)")
	rootCmd.AddCommand(enrichCmd)
}
