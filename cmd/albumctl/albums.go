package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stevecastle/dicomalbum/album"
	"github.com/stevecastle/dicomalbum/dicomscan"
	"github.com/stevecastle/dicomalbum/history"
	"github.com/stevecastle/dicomalbum/query"
	"github.com/stevecastle/dicomalbum/store"
)

func init() {
	albumsCmd := &cobra.Command{Use: "albums", Short: "Album operations"}

	// list
	var publicOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List albums, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd.Context(), newLogger())
			if err != nil {
				return err
			}
			defer s.Close()
			return runListAlbums(cmd.Context(), s, store.AlbumFilter{PublicOnly: publicOnly}, os.Stdout)
		},
	}
	listCmd.Flags().BoolVar(&publicOnly, "public", false, "Only list public albums")
	albumsCmd.AddCommand(listCmd)

	// create
	var req album.CreateRequest
	var queryText string
	createCmd := &cobra.Command{
		Use:   "create NAME DIR",
		Short: "Create an album from the files below DIR that match --query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			s, cfg, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer s.Close()
			ex := dicomscan.New(log)
			m := album.New(s, ex, cfg.AlbumsDir, log, album.Options{})
			req.Name = args[0]
			id, err := runCreateAlbum(cmd.Context(), m, ex, history.New(s, log), args[1], queryText, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, id)
			return nil
		},
	}
	createCmd.Flags().StringVarP(&queryText, "query", "q", "", "Query selecting the files (all files when empty)")
	createCmd.Flags().StringVarP(&req.Description, "description", "d", "", "Album description")
	createCmd.Flags().StringVarP(&req.Creator, "creator", "c", "Anonymous", "Album creator")
	createCmd.Flags().BoolVar(&req.IsPublic, "public", false, "Make the album public")
	albumsCmd.AddCommand(createCmd)

	// delete
	deleteCmd := &cobra.Command{
		Use:   "delete ALBUM_ID",
		Short: "Delete an album and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			s, cfg, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer s.Close()
			m := album.New(s, dicomscan.New(log), cfg.AlbumsDir, log, album.Options{})
			found, err := m.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return errors.Errorf("album %s not found", args[0])
			}
			fmt.Fprintf(os.Stdout, "Deleted album %s\n", args[0])
			return nil
		},
	}
	albumsCmd.AddCommand(deleteCmd)

	rootCmd.AddCommand(albumsCmd)

	// export
	var onConflict string
	exportCmd := &cobra.Command{
		Use:   "export ALBUM_ID DEST_DB",
		Short: "Copy an album and its file records into another database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd.Context(), newLogger())
			if err != nil {
				return err
			}
			defer s.Close()
			return runExport(cmd.Context(), s, args[0], args[1], onConflict, os.Stdout)
		},
	}
	exportCmd.Flags().StringVar(&onConflict, "on-conflict", "ignore", "Conflict behavior: ignore | abort | replace | rollback | fail")
	rootCmd.AddCommand(exportCmd)
}

func runListAlbums(ctx context.Context, s *store.Store, f store.AlbumFilter, out io.Writer) error {
	albums, err := s.ListAlbums(ctx, f)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tFILES\tPUBLIC\tCREATED")
	for _, a := range albums {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", a.ID, a.Name, a.FileCount, a.IsPublic, a.CreatedDate.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// runCreateAlbum scans dir, selects files with queryText (every file when
// empty) and materializes them. The query is recorded in hist.
func runCreateAlbum(ctx context.Context, m *album.Materializer, sc directoryScanner, hist *history.Log, dir, queryText string, req album.CreateRequest) (string, error) {
	t, err := sc.ScanDirectory(ctx, dir)
	if err != nil {
		return "", err
	}
	if t.Len() == 0 {
		return "", errors.Errorf("no DICOM files found in %s", dir)
	}
	view := t.All()
	if strings.TrimSpace(queryText) != "" {
		q, err := query.Parse(queryText)
		if err != nil {
			return "", errors.Wrap(err, "parse query")
		}
		view = query.Evaluate(t, q)
		if hist != nil {
			hist.Record(ctx, query.GenerateSummary(q.Conditions, q.Join), view.Len())
		}
	}
	if view.Len() == 0 {
		return "", errors.New("no files selected for album")
	}
	req.Results = &view
	return m.Create(ctx, req)
}

func runExport(ctx context.Context, s *store.Store, albumID, dest, onConflict string, out io.Writer) error {
	res, err := s.ExportAlbum(ctx, albumID, dest, onConflict)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d album(s) and %d file record(s) to %s\n", res.Albums, res.Files, dest)
	return nil
}
