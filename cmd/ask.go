package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/pipeline"
)

var (
	askFiles   []string
	askType    string
	askVerbose bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question, optionally about attached files",
	Example: `  query-router ask "What is the capital of France?"
  query-router ask "Summarize the candidate's experience" --file resume.pdf
  query-router ask "Compare this report with the latest news" -f report.pdf -v`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var opts []pipeline.Option
		if askVerbose {
			opts = append(opts, pipeline.WithObserver(func(_ string, t model.Transition) {
				fmt.Fprintf(os.Stderr, "%-26s -> %-26s search=%d retrieve=%d %s\n",
					t.From, t.To, t.SearchCount, t.RetrieveCount, t.Elapsed)
			}))
		}

		p, err := initPipeline(ctx, opts...)
		if err != nil {
			return err
		}
		defer p.Close() //nolint:errcheck

		resp, err := p.Run(ctx, model.Query{
			Text:  strings.Join(args, " "),
			Files: fileRefs(askFiles, askType),
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	askCmd.Flags().StringSliceVarP(&askFiles, "file", "f", nil, "file to analyze (repeatable)")
	askCmd.Flags().StringVar(&askType, "type", "", "declared type for the attached files (extension, MIME type or format)")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "print workflow transitions to stderr")
	rootCmd.AddCommand(askCmd)
}
