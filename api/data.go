package api

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/stevecastle/dicomalbum/dicomscan"
	"github.com/stevecastle/dicomalbum/ingest"
	"github.com/stevecastle/dicomalbum/renderer"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

func uploadHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.MaxUploadBytes > 0 {
			// room for multipart framing around a maximal file
			r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+1<<20)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				renderer.WriteError(w, http.StatusRequestEntityTooLarge, "Upload exceeds size limit")
				return
			}
			renderer.WriteError(w, http.StatusBadRequest, "No files uploaded")
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers, ok := r.MultipartForm.File["files[]"]
		if !ok {
			renderer.WriteError(w, http.StatusBadRequest, "No files uploaded")
			return
		}
		if len(headers) == 0 || headers[0].Filename == "" {
			renderer.WriteError(w, http.StatusBadRequest, "No files selected")
			return
		}

		var saved []string
		for _, fh := range headers {
			if !deps.Ingester.Accepts(ingest.SecureFilename(fh.Filename)) {
				deps.Log.Debug().Str("file", fh.Filename).Msg("rejected upload with disallowed extension")
				continue
			}
			f, err := fh.Open()
			if err != nil {
				deps.Log.Warn().Err(err).Str("file", fh.Filename).Msg("failed to open upload")
				continue
			}
			paths, err := deps.Ingester.Save(fh.Filename, f)
			f.Close()
			if errors.Is(err, ingest.ErrTooLarge) {
				renderer.WriteError(w, http.StatusRequestEntityTooLarge, "Upload exceeds size limit")
				return
			}
			if err != nil {
				deps.Log.Warn().Err(err).Str("file", fh.Filename).Msg("failed to save upload")
				continue
			}
			saved = append(saved, paths...)
		}
		if len(saved) == 0 {
			renderer.WriteError(w, http.StatusBadRequest, "No valid DICOM files uploaded")
			return
		}

		recs, err := deps.Scanner.ExtractFiles(r.Context(), saved)
		if err != nil {
			renderer.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(recs) == 0 {
			renderer.WriteError(w, http.StatusBadRequest, "Could not process uploaded files")
			return
		}
		replaceSession(deps, dicomscan.Table(recs))
		if deps.Metrics != nil {
			deps.Metrics.ScanFilesProcessed.Add(float64(len(recs)))
		}

		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"message":    fmt.Sprintf("Successfully uploaded %d files", len(saved)),
			"file_count": len(saved),
		})
	}
}

func scanHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dir := strings.TrimSpace(r.FormValue("directory"))
		if dir == "" {
			renderer.WriteError(w, http.StatusBadRequest, "Invalid directory path")
			return
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			renderer.WriteError(w, http.StatusBadRequest, "Invalid directory path")
			return
		}

		t, err := deps.Scanner.ScanDirectory(r.Context(), dir)
		if err != nil {
			deps.Log.Error().Err(err).Str("directory", dir).Msg("scan failed")
			renderer.WriteError(w, http.StatusInternalServerError, "Failed to scan directory")
			return
		}
		// The session is replaced even when empty so stale results are not
		// queried after a failed scan.
		replaceSession(deps, t)
		if deps.Metrics != nil {
			deps.Metrics.ScanFilesProcessed.Add(float64(t.Len()))
		}
		if t.Len() == 0 {
			renderer.WriteError(w, http.StatusNotFound, "No DICOM files found in directory")
			return
		}

		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"message":    fmt.Sprintf("Found %d DICOM files", t.Len()),
			"file_count": t.Len(),
		})
	}
}

func metadataHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := currentTable(w, deps)
		if !ok {
			return
		}
		fields := t.Fields()
		if fields == nil {
			fields = []string{}
		}
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"metadata_sample":  t.Head(previewRows),
			"total_files":      t.Len(),
			"available_fields": fields,
		})
	}
}
