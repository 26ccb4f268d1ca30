package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/gompi/datarecording"
	"github.com/sarchlab/gompi/tracing"
)

var traceCmd = &cobra.Command{
	Use:   "trace file.sqlite3",
	Short: "Summarize the requests recorded in a trace database.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failedOnly, _ := cmd.Flags().GetBool("failed")

		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		return summarizeTrace(cmd.Context(), reader, cmd.OutOrStdout(), failedOnly)
	},
}

func init() {
	traceCmd.Flags().Bool("failed", false, "List the failed requests.")

	rootCmd.AddCommand(traceCmd)
}

type traceSummary struct {
	count  int
	failed int
	bytes  int
	total  float64
}

func summarizeTrace(
	ctx context.Context,
	reader datarecording.DataReader,
	out io.Writer,
	failedOnly bool,
) error {
	reader.MapTable(tracing.RequestTable, tracing.TaskTableEntry{})

	params := datarecording.QueryParams{OrderBy: "StartTime"}
	if failedOnly {
		params.Where = "Err != ?"
		params.Args = []any{""}
	}

	entries, _, err := reader.Query(ctx, tracing.RequestTable, params)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	if failedOnly {
		fmt.Fprintln(w, "ID\tLOCATION\tKIND\tWHAT\tTAG\tERROR")
		for _, e := range entries {
			entry := e.(*tracing.TaskTableEntry)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				entry.ID, entry.Location, entry.Kind, entry.What,
				entry.Tag, entry.Err)
		}

		return w.Flush()
	}

	summaries := make(map[string]*traceSummary)
	for _, e := range entries {
		entry := e.(*tracing.TaskTableEntry)

		key := entry.Location + "\t" + entry.Kind
		s, ok := summaries[key]
		if !ok {
			s = &traceSummary{}
			summaries[key] = s
		}

		s.count++
		s.bytes += entry.Bytes
		s.total += entry.EndTime - entry.StartTime

		if entry.Err != "" {
			s.failed++
		}
	}

	keys := make([]string, 0, len(summaries))
	for k := range summaries {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	fmt.Fprintln(w, "LOCATION\tKIND\tCOUNT\tFAILED\tBYTES\tAVG LATENCY (s)")
	for _, k := range keys {
		s := summaries[k]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.6f\n",
			k, s.count, s.failed, s.bytes, s.total/float64(s.count))
	}

	return w.Flush()
}
