package ingest

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"scan.dcm", "scan.dcm"},
		{"../../etc/passwd", "passwd"},
		{`C:\images\CT 01.dcm`, "CT_01.dcm"},
		{"my file (1).dcm", "my_file_1.dcm"},
		{".hidden.dcm", "hidden.dcm"},
		{"..", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SecureFilename(tt.in))
		})
	}
}

func TestSavePlainFile(t *testing.T) {
	dir := t.TempDir()
	in := New(Options{Dir: dir}, zerolog.Nop())

	paths, err := in.Save("../CT 1.DCM", strings.NewReader("data"))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "CT_1.DCM", filepath.Base(paths[0]))
	assert.Equal(t, dir, filepath.Dir(filepath.Dir(paths[0])), "saved into a batch directory below Dir")
	b, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
}

func TestSaveRejects(t *testing.T) {
	dir := t.TempDir()
	in := New(Options{Dir: dir, MaxBytes: 4}, zerolog.Nop())

	_, err := in.Save("notes.txt", strings.NewReader("x"))
	assert.True(t, errors.Is(err, ErrNotAllowed))

	_, err = in.Save("bundle.zip", strings.NewReader("x"))
	assert.True(t, errors.Is(err, ErrNotAllowed), "archives are off unless enabled")

	_, err = in.Save("big.dcm", strings.NewReader("12345"))
	assert.True(t, errors.Is(err, ErrTooLarge))
	leftovers, globErr := filepath.Glob(filepath.Join(dir, "*", "big.dcm"))
	require.NoError(t, globErr)
	assert.Empty(t, leftovers, "oversized upload must be removed")

	paths, err := in.Save("ok.dcm", strings.NewReader("1234"))
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSaveZipArchive(t *testing.T) {
	dir := t.TempDir()
	in := New(Options{Dir: dir, Archives: true}, zerolog.Nop())

	data := buildZip(t, map[string]string{
		"study/a.dcm":      "a",
		"study/b.DCM":      "b",
		"study/readme.txt": "skip",
	})
	paths, err := in.Save("study.zip", bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, paths, 2)
	sort.Strings(paths)
	assert.Equal(t, "a.dcm", filepath.Base(paths[0]))
	assert.Equal(t, "b.DCM", filepath.Base(paths[1]))
	for _, p := range paths {
		assert.True(t, strings.HasPrefix(p, dir))
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, ".upload-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp archive is removed")
}

func TestExtractZipRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(archive, buildZip(t, map[string]string{"../../evil.dcm": "x"}), 0644))

	_, err := ExtractZip(archive, filepath.Join(dir, "out"), nil, Limits{})
	assert.Error(t, err)
}

func TestExtract7zRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bad.7z")
	require.NoError(t, os.WriteFile(archive, []byte("not an archive"), 0644))

	_, err := Extract7z(archive, filepath.Join(dir, "out"), nil, Limits{})
	assert.Error(t, err)
}

func TestSameNameUploadsKeepBothFiles(t *testing.T) {
	dir := t.TempDir()
	in := New(Options{Dir: dir}, zerolog.Nop())

	first, err := in.Save("scan.dcm", strings.NewReader("first"))
	require.NoError(t, err)
	second, err := in.Save("scan.dcm", strings.NewReader("second"))
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0], second[0])

	for path, want := range map[string]string{first[0]: "first", second[0]: "second"} {
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}
}

func TestSaveArchiveStagesInStagingDir(t *testing.T) {
	dir := t.TempDir()
	staging := filepath.Join(t.TempDir(), "staging")
	in := New(Options{Dir: dir, StagingDir: staging, Archives: true}, zerolog.Nop())

	paths, err := in.Save("study.zip", bytes.NewReader(buildZip(t, map[string]string{"a.dcm": "a"})))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.True(t, strings.HasPrefix(paths[0], dir))

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged archive is removed after extraction")
}

func TestSaveArchiveLimits(t *testing.T) {
	big := strings.Repeat("x", 1<<20)
	tests := []struct {
		name    string
		opts    Options
		entries map[string]string
	}{
		{
			name:    "entry larger than MaxBytes",
			opts:    Options{Archives: true, MaxBytes: 64 << 10},
			entries: map[string]string{"big.dcm": big},
		},
		{
			name: "total larger than MaxExtractBytes",
			opts: Options{Archives: true, MaxBytes: 1 << 20, MaxExtractBytes: 3 << 19},
			entries: map[string]string{
				"a.dcm": big,
				"b.dcm": big,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.opts.Dir = dir
			in := New(tt.opts, zerolog.Nop())

			data := buildZip(t, tt.entries)
			require.Less(t, len(data), 64<<10, "compressed archive fits the upload limit")

			paths, err := in.Save("bomb.zip", bytes.NewReader(data))
			assert.True(t, errors.Is(err, ErrTooLarge), "got %v", err)
			assert.Empty(t, paths)

			extracted, globErr := filepath.Glob(filepath.Join(dir, "bomb-*", "*.dcm"))
			require.NoError(t, globErr)
			assert.Empty(t, extracted, "partial extraction is removed")
		})
	}
}

func TestExtractZipWithinLimits(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "ok.zip")
	require.NoError(t, os.WriteFile(archive, buildZip(t, map[string]string{"a.dcm": "1234", "b.dcm": "5678"}), 0644))

	paths, err := ExtractZip(archive, filepath.Join(dir, "out"), nil, Limits{EntryBytes: 4, TotalBytes: 8})
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}
