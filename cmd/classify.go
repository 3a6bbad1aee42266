package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/query-router/internal/classify"
	"github.com/sells-group/query-router/internal/model"
)

var classifyHasFiles bool

var classifyCmd = &cobra.Command{
	Use:   "classify [question]",
	Short: "Show the routing decision for a question without answering it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := classify.NewFromConfig(cfg)
		if err != nil {
			return err
		}

		d := c.Classify(cmd.Context(), strings.Join(args, " "), classifyHasFiles)
		out := struct {
			model.RoutingDecision
			Handlers []model.Origin `json:"handlers"`
		}{d, d.Route.Handlers()}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyHasFiles, "has-files", false, "classify as if files were attached")
	rootCmd.AddCommand(classifyCmd)
}
