package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stevecastle/dicomalbum/history"
)

func init() {
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			s, _, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer s.Close()
			return runHistory(cmd.Context(), history.New(s, log), limit, os.Stdout)
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "l", history.DefaultLimit, "Number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, h *history.Log, limit int, out io.Writer) error {
	entries, err := h.Recent(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTED\tRESULTS\tQUERY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", e.ExecutedDate.Local().Format("2006-01-02 15:04:05"), e.ResultCount, e.Query)
	}
	return tw.Flush()
}
