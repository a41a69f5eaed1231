package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stevecastle/dicomalbum/dicomscan"
	"github.com/stevecastle/dicomalbum/history"
	"github.com/stevecastle/dicomalbum/metadata"
	"github.com/stevecastle/dicomalbum/query"
)

// directoryScanner builds a table from a directory tree.
type directoryScanner interface {
	ScanDirectory(ctx context.Context, root string) (*metadata.Table, error)
}

func init() {
	scanCmd := &cobra.Command{
		Use:   "scan DIR",
		Short: "Scan a directory and print a metadata preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, _ := cmd.Flags().GetInt("rows")
			return runScan(cmd.Context(), dicomscan.New(newLogger()), args[0], rows, os.Stdout)
		},
	}
	scanCmd.Flags().IntP("rows", "n", 10, "Number of records to preview")
	rootCmd.AddCommand(scanCmd)

	var (
		limit     int
		noHistory bool
	)
	queryCmd := &cobra.Command{
		Use:   "query DIR QUERY",
		Short: `Scan a directory and run a query such as "Modality = CT AND PatientAge > 040Y"`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			var hist *history.Log
			if !noHistory {
				s, _, err := openStore(cmd.Context(), log)
				if err != nil {
					return err
				}
				defer s.Close()
				hist = history.New(s, log)
			}
			return runQuery(cmd.Context(), dicomscan.New(log), hist, args[0], args[1], limit, os.Stdout)
		},
	}
	queryCmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum number of records to print")
	queryCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the query in the history log")
	rootCmd.AddCommand(queryCmd)
}

func runScan(ctx context.Context, sc directoryScanner, dir string, rows int, out io.Writer) error {
	t, err := sc.ScanDirectory(ctx, dir)
	if err != nil {
		return err
	}
	if t.Len() == 0 {
		return errors.Errorf("no DICOM files found in %s", dir)
	}
	fmt.Fprintf(out, "Found %d DICOM files\n", t.Len())
	return printJSON(out, map[string]interface{}{
		"metadata_sample":  t.Head(rows),
		"total_files":      t.Len(),
		"available_fields": t.Fields(),
	})
}

// runQuery evaluates text over the files below dir. hist may be nil.
func runQuery(ctx context.Context, sc directoryScanner, hist *history.Log, dir, text string, limit int, out io.Writer) error {
	q, err := query.Parse(text)
	if err != nil {
		return errors.Wrap(err, "parse query")
	}
	if len(q.Conditions) == 0 {
		return errors.New("no query conditions provided")
	}
	t, err := sc.ScanDirectory(ctx, dir)
	if err != nil {
		return err
	}
	view := query.Evaluate(t, q)
	summary := query.GenerateSummary(q.Conditions, q.Join)
	if hist != nil {
		if _, err := hist.Record(ctx, summary, view.Len()); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%s: %d of %d files\n", summary, view.Len(), t.Len())
	return printJSON(out, view.Head(limit))
}
