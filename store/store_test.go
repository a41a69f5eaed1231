package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevecastle/dicomalbum/metadata"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAlbum(id string, created time.Time) (Album, []AlbumFile) {
	a := Album{
		ID:          id,
		Name:        "Chest CTs",
		Description: "follow-up",
		Creator:     "Dr. Who",
		CreatedDate: created,
		FileCount:   2,
		ShareURL:    "/album/" + id,
	}
	files := []AlbumFile{
		{
			Position:     0,
			FilePath:     "/albums/" + id + "/dicom/1_a.dcm",
			OriginalPath: "/data/a.dcm",
			Metadata: metadata.Record{
				"PatientID":     metadata.String("P001"),
				"Modality":      metadata.String("CT"),
				"SliceLocation": metadata.Number(-12.5),
				"ImageType":     metadata.List("ORIGINAL", "PRIMARY"),
				"StudyDate":     metadata.Null(),

				metadata.AlbumFilePath:    metadata.String("ignored"),
				metadata.FilePath:         metadata.String("ignored"),
				metadata.OriginalFilePath: metadata.String("ignored"),
			},
		},
		{
			Position:     1,
			FilePath:     "/albums/" + id + "/dicom/2_b.dcm",
			OriginalPath: "/data/b.dcm",
			Metadata:     metadata.Record{"PatientID": metadata.String("P002")},
		},
	}
	return a, files
}

func TestSaveAndGetAlbum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a, files := sampleAlbum("a1", created)

	require.NoError(t, s.SaveAlbum(ctx, a, files))

	got, err := s.GetAlbum(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Chest CTs", got.Name)
	assert.Equal(t, "Dr. Who", got.Creator)
	assert.Equal(t, 2, got.FileCount)
	assert.False(t, got.IsPublic)
	assert.Nil(t, got.OwnerID)
	assert.True(t, created.Equal(got.CreatedDate))

	stored, err := s.AlbumFiles(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "/data/a.dcm", stored[0].OriginalPath)
	assert.Equal(t, "CT", stored[0].Metadata.Get("Modality").Text())
	assert.True(t, metadata.Number(-12.5).Equal(stored[0].Metadata.Get("SliceLocation")))
	assert.Equal(t, metadata.KindList, stored[0].Metadata.Get("ImageType").Kind())
	assert.True(t, stored[0].Metadata.Get("StudyDate").IsNull())
	_, hasPath := stored[0].Metadata[metadata.FilePath]
	assert.False(t, hasPath, "path keys are not stored in the metadata blob")

	rec := stored[0].Record()
	assert.Equal(t, files[0].FilePath, rec.Get(metadata.AlbumFilePath).Text())
	assert.Equal(t, "/data/a.dcm", rec.Get(metadata.OriginalFilePath).Text())
}

func TestGetAlbumNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetAlbum(context.Background(), "missing")
	assert.Equal(t, ErrNotFound, err)

	files, err := s.AlbumFiles(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAlbumFileByIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, files := sampleAlbum("a1", time.Now())
	require.NoError(t, s.SaveAlbum(ctx, a, files))

	tests := []struct {
		name    string
		album   string
		index   int
		want    string
		wantErr error
	}{
		{"first", "a1", 0, files[0].FilePath, nil},
		{"second", "a1", 1, files[1].FilePath, nil},
		{"out of range", "a1", 2, "", ErrNotFound},
		{"negative", "a1", -1, "", ErrNotFound},
		{"unknown album", "zz", 0, "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := s.AlbumFile(ctx, tt.album, tt.index)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.FilePath)
		})
	}
}

func TestListAlbumsFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := int64(7)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		a, files := sampleAlbum(id, base.Add(time.Duration(i)*time.Hour))
		if id != "old" {
			a.OwnerID = &owner
		}
		require.NoError(t, s.SaveAlbum(ctx, a, files))
	}
	found, public, err := s.TogglePublic(ctx, "mid")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, public)

	ids := func(albums []Album) []string {
		out := make([]string, len(albums))
		for i, a := range albums {
			out[i] = a.ID
		}
		return out
	}

	all, err := s.ListAlbums(ctx, AlbumFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, ids(all))

	mine, err := s.ListAlbums(ctx, AlbumFilter{OwnerID: &owner})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid"}, ids(mine))

	pub, err := s.ListAlbums(ctx, AlbumFilter{PublicOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"mid"}, ids(pub))
}

func TestToggleShareDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, files := sampleAlbum("a1", time.Now())
	require.NoError(t, s.SaveAlbum(ctx, a, files))

	found, public, err := s.TogglePublic(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, public)

	found, public, err = s.TogglePublic(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, public)

	found, _, err = s.TogglePublic(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := s.Share(ctx, "a1", "/album/a1")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := s.GetAlbum(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.IsPublic)

	deleted, err := s.DeleteAlbum(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteAlbum(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, deleted)

	remaining, err := s.AlbumFiles(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestQueryHistoryOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.RecordQuery(ctx, "Modality = CT", 3, base)
	require.NoError(t, err)
	_, err = s.RecordQuery(ctx, "PatientAge > 40", 1, base.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.RecordQuery(ctx, "same instant", 0, base.Add(time.Minute))
	require.NoError(t, err)

	entries, err := s.RecentQueries(ctx, 20)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "same instant", entries[0].Query)
	assert.Equal(t, "PatientAge > 40", entries[1].Query)
	assert.Equal(t, "Modality = CT", entries[2].Query)
	assert.Equal(t, 3, entries[2].ResultCount)
	assert.True(t, base.Equal(entries[2].ExecutedDate))

	limited, err := s.RecentQueries(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestExportAlbum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, files := sampleAlbum("a1", time.Now())
	require.NoError(t, s.SaveAlbum(ctx, a, files))
	other, otherFiles := sampleAlbum("a2", time.Now())
	require.NoError(t, s.SaveAlbum(ctx, other, otherFiles))

	dest := filepath.Join(t.TempDir(), "export", "out.db")
	res, err := s.ExportAlbum(ctx, "a1", dest, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Albums)
	assert.Equal(t, int64(2), res.Files)

	again, err := s.ExportAlbum(ctx, "a1", dest, "ignore")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Albums)

	out, err := Open(ctx, dest, zerolog.Nop())
	require.NoError(t, err)
	defer out.Close()
	got, err := out.GetAlbum(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Chest CTs", got.Name)
	_, err = out.GetAlbum(ctx, "a2")
	assert.Equal(t, ErrNotFound, err)
	exported, err := out.AlbumFiles(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, exported, 2)

	_, err = s.ExportAlbum(ctx, "a1", dest, "explode")
	assert.Error(t, err)
	_, err = s.ExportAlbum(ctx, "missing", dest, "")
	assert.Equal(t, ErrNotFound, err)
}
