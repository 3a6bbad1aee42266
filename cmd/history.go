package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/query-router/internal/reqlog"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent requests from the jsonl or sqlite request log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sink, err := reqlog.NewFromConfig(ctx, cfg.ReqLog)
		if err != nil {
			return err
		}
		defer sink.Close() //nolint:errcheck

		r, ok := sink.(reqlog.Reader)
		if !ok {
			return eris.Errorf("history: reqlog.sink %q cannot be read back", cfg.ReqLog.Sink)
		}
		entries, err := r.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max entries to show")
	rootCmd.AddCommand(historyCmd)
}
