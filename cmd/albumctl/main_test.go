package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevecastle/dicomalbum/album"
	"github.com/stevecastle/dicomalbum/history"
	"github.com/stevecastle/dicomalbum/metadata"
	"github.com/stevecastle/dicomalbum/store"
)

// fakeScanner returns records for the files named in modalities, resolved
// below the scanned root.
type fakeScanner struct {
	modalities map[string]string
}

func (f fakeScanner) ScanDirectory(ctx context.Context, root string) (*metadata.Table, error) {
	var recs []metadata.Record
	for _, name := range []string{"a.dcm", "b.dcm", "c.dcm"} {
		mod, ok := f.modalities[name]
		if !ok {
			continue
		}
		recs = append(recs, metadata.Record{
			"Modality":        metadata.String(mod),
			metadata.FilePath: metadata.String(filepath.Join(root, name)),
		})
	}
	return metadata.NewTable(recs), nil
}

func (f fakeScanner) Extract(path string) (metadata.Record, error) {
	return metadata.Record{"Modality": metadata.String(f.modalities[filepath.Base(path)[2:]])}, nil
}

func setup(t *testing.T) (*store.Store, string, fakeScanner) {
	t.Helper()
	root := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(root, "albums.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	data := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(data, 0755))
	sc := fakeScanner{modalities: map[string]string{"a.dcm": "CT", "b.dcm": "MR", "c.dcm": "CT"}}
	for name := range sc.modalities {
		require.NoError(t, os.WriteFile(filepath.Join(data, name), []byte(name), 0644))
	}
	return s, data, sc
}

func TestRunScan(t *testing.T) {
	_, data, sc := setup(t)

	var out bytes.Buffer
	require.NoError(t, runScan(context.Background(), sc, data, 2, &out))
	assert.Contains(t, out.String(), "Found 3 DICOM files")
	assert.Contains(t, out.String(), `"total_files": 3`)

	err := runScan(context.Background(), fakeScanner{}, data, 2, &out)
	assert.Error(t, err)
}

func TestRunQueryRecordsHistory(t *testing.T) {
	s, data, sc := setup(t)
	ctx := context.Background()
	h := history.New(s, zerolog.Nop())

	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{"match", "Modality = CT", "Modality equals 'CT': 2 of 3 files", false},
		{"no match", "Modality = US", "Modality equals 'US': 0 of 3 files", false},
		{"grouping", "(Modality = CT)", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runQuery(ctx, sc, h, data, tt.text, 10, &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.want)
		})
	}

	var out bytes.Buffer
	require.NoError(t, runHistory(ctx, h, 10, &out))
	assert.Contains(t, out.String(), "Modality equals 'US'")
	assert.Contains(t, out.String(), "Modality equals 'CT'")
}

func TestRunCreateAndExport(t *testing.T) {
	s, data, sc := setup(t)
	ctx := context.Background()
	m := album.New(s, sc, filepath.Join(t.TempDir(), "albums"), zerolog.Nop(), album.Options{})

	id, err := runCreateAlbum(ctx, m, sc, nil, data, "Modality = CT", album.CreateRequest{Name: "CTs", Creator: "cli"})
	require.NoError(t, err)
	a, err := s.GetAlbum(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, a.FileCount)

	_, err = runCreateAlbum(ctx, m, sc, nil, data, "Modality = US", album.CreateRequest{Name: "none"})
	assert.Error(t, err)

	var out bytes.Buffer
	require.NoError(t, runListAlbums(ctx, s, store.AlbumFilter{}, &out))
	assert.Contains(t, out.String(), id)

	dest := filepath.Join(t.TempDir(), "export.db")
	out.Reset()
	require.NoError(t, runExport(ctx, s, id, dest, "ignore", &out))
	assert.Contains(t, out.String(), "Exported 1 album(s) and 2 file record(s)")

	exported, err := store.Open(ctx, dest, zerolog.Nop())
	require.NoError(t, err)
	defer exported.Close()
	files, err := exported.AlbumFiles(ctx, id)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	assert.Error(t, runExport(ctx, s, id, dest, "explode", &out))
}
