package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/stevecastle/dicomalbum/album"
	"github.com/stevecastle/dicomalbum/auth"
	"github.com/stevecastle/dicomalbum/cloudstore"
	"github.com/stevecastle/dicomalbum/imaging"
	"github.com/stevecastle/dicomalbum/metadata"
	"github.com/stevecastle/dicomalbum/query"
	"github.com/stevecastle/dicomalbum/renderer"
	"github.com/stevecastle/dicomalbum/store"
	"github.com/stevecastle/dicomalbum/stream"
)

func createAlbumHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := currentTable(w, deps)
		if !ok {
			return
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			renderer.WriteError(w, http.StatusBadRequest, "Invalid form data")
			return
		}

		req := album.CreateRequest{
			Name:        strings.TrimSpace(r.FormValue("name")),
			Description: r.FormValue("description"),
			Creator:     r.FormValue("creator"),
			IsPublic:    formBool(r.FormValue("is_public")),
		}
		if req.Name == "" {
			renderer.WriteError(w, http.StatusBadRequest, "Album name is required")
			return
		}
		if claims, ok := auth.FromContext(r.Context()); ok {
			uid := claims.UserID
			req.OwnerID = &uid
			if req.Creator == "" {
				req.Creator = claims.Username
			}
		}
		if req.Creator == "" {
			req.Creator = "Anonymous"
		}

		if selected := r.Form["selected_files"]; len(selected) > 0 {
			req.Files = sessionPaths(t, selected)
			if len(req.Files) == 0 {
				renderer.WriteError(w, http.StatusBadRequest, "Selected files are not part of the loaded data")
				return
			}
		} else if raw := r.FormValue("query_json"); raw != "" {
			var q query.Query
			if err := json.Unmarshal([]byte(raw), &q); err != nil {
				renderer.WriteError(w, http.StatusBadRequest, "Error creating album: "+err.Error())
				return
			}
			view := query.Evaluate(t, q)
			req.Results = &view
		} else {
			renderer.WriteError(w, http.StatusBadRequest, "No files selected for album")
			return
		}

		id, err := deps.Albums.Create(r.Context(), req)
		if err != nil {
			deps.Log.Error().Stack().Err(err).Str("name", req.Name).Msg("album creation failed")
			renderer.WriteError(w, http.StatusInternalServerError, "Error creating album: "+err.Error())
			return
		}
		deps.Events.Publish(stream.Event{Type: stream.EventAlbumCreated, AlbumID: id, Message: req.Name})
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"album_id": id,
			"redirect": album.ShareURL(id),
		})
	}
}

// sessionPaths keeps the selected paths that belong to the loaded table, so
// a client cannot copy arbitrary server files into an album.
func sessionPaths(t *metadata.Table, selected []string) []string {
	known := make(map[string]struct{}, t.Len())
	for _, p := range t.All().FilePaths() {
		known[p] = struct{}{}
	}
	out := make([]string, 0, len(selected))
	for _, p := range selected {
		if _, ok := known[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func formBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// canView reports whether the request may read a. Without accounts every
// album is readable; otherwise private owned albums are limited to their
// owner.
func canView(r *http.Request, deps *Dependencies, a *store.Album) bool {
	if deps.Auth == nil || a.IsPublic || a.OwnerID == nil {
		return true
	}
	claims, ok := auth.FromContext(r.Context())
	return ok && claims.UserID == *a.OwnerID
}

// canModify reports whether the request may change a. Albums without an owner
// can be changed by any authenticated user.
func canModify(r *http.Request, deps *Dependencies, a *store.Album) bool {
	if deps.Auth == nil || a.OwnerID == nil {
		return true
	}
	claims, ok := auth.FromContext(r.Context())
	return ok && claims.UserID == *a.OwnerID
}

// loadAlbum fetches the album named by the route and writes 404/403 or 500
// responses itself.
func loadAlbum(w http.ResponseWriter, r *http.Request, deps *Dependencies, modify bool) (*store.Album, bool) {
	id := mux.Vars(r)["id"]
	a, err := deps.Albums.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		renderer.WriteError(w, http.StatusNotFound, "Album not found")
		return nil, false
	}
	if err != nil {
		deps.Log.Error().Err(err).Str("album", id).Msg("failed to load album")
		renderer.WriteError(w, http.StatusInternalServerError, "Failed to load album")
		return nil, false
	}
	allowed := canView(r, deps, a)
	if modify {
		allowed = canModify(r, deps, a)
	}
	if !allowed {
		renderer.WriteError(w, http.StatusForbidden, "Not allowed to access this album")
		return nil, false
	}
	return a, true
}

func albumHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := loadAlbum(w, r, deps, false)
		if !ok {
			return
		}
		files, err := deps.Albums.Files(r.Context(), a.ID)
		if err != nil {
			renderer.WriteError(w, http.StatusInternalServerError, "Failed to load album files")
			return
		}
		recs := make([]metadata.Record, len(files))
		for i, f := range files {
			recs[i] = f.Record()
		}
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"album":   a,
			"files":   recs,
		})
	}
}

func listAlbumsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			albums []store.Album
			err    error
		)
		claims, authed := auth.FromContext(r.Context())
		switch scope := r.URL.Query().Get("scope"); {
		case scope == "public":
			albums, err = deps.Albums.ListPublic(r.Context())
		case deps.Auth == nil:
			albums, err = deps.Albums.List(r.Context())
		case authed:
			albums, err = deps.Albums.ListByOwner(r.Context(), claims.UserID)
		default:
			albums, err = deps.Albums.ListPublic(r.Context())
		}
		if err != nil {
			deps.Log.Error().Err(err).Msg("failed to list albums")
			renderer.WriteError(w, http.StatusInternalServerError, "Failed to list albums")
			return
		}
		if albums == nil {
			albums = []store.Album{}
		}
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"albums":  albums,
		})
	}
}

func deleteAlbumHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := loadAlbum(w, r, deps, true)
		if !ok {
			return
		}
		found, err := deps.Albums.Delete(r.Context(), a.ID)
		if err != nil {
			deps.Log.Error().Stack().Err(err).Str("album", a.ID).Msg("album deletion failed")
			renderer.WriteError(w, http.StatusInternalServerError, "Failed to delete album")
			return
		}
		if !found {
			renderer.WriteError(w, http.StatusNotFound, "Album not found")
			return
		}
		deps.Events.Publish(stream.Event{Type: stream.EventAlbumDeleted, AlbumID: a.ID})
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"redirect": "/",
		})
	}
}

func togglePublicHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := loadAlbum(w, r, deps, true)
		if !ok {
			return
		}
		found, err := deps.Albums.TogglePublic(r.Context(), a.ID)
		if err != nil || !found {
			renderer.WriteError(w, http.StatusInternalServerError, "Failed to update album")
			return
		}
		updated, err := deps.Albums.Get(r.Context(), a.ID)
		if err != nil {
			renderer.WriteError(w, http.StatusInternalServerError, "Failed to update album")
			return
		}
		deps.Events.Publish(stream.Event{Type: stream.EventAlbumUpdated, AlbumID: a.ID})
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"is_public": updated.IsPublic,
		})
	}
}

func shareAlbumHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := loadAlbum(w, r, deps, true)
		if !ok {
			return
		}
		url, found, err := deps.Albums.ShareLink(r.Context(), a.ID)
		if err != nil || !found {
			renderer.WriteError(w, http.StatusInternalServerError, "Failed to share album")
			return
		}
		deps.Events.Publish(stream.Event{Type: stream.EventAlbumUpdated, AlbumID: a.ID})
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"share_url": url,
		})
	}
}

// albumFile resolves the {id}/{index} route to an album file the caller may
// read.
func albumFile(w http.ResponseWriter, r *http.Request, deps *Dependencies) (*store.AlbumFile, bool) {
	a, ok := loadAlbum(w, r, deps, false)
	if !ok {
		return nil, false
	}
	f, err := deps.Albums.File(r.Context(), a.ID, pathIndex(r))
	if errors.Is(err, store.ErrNotFound) {
		renderer.WriteError(w, http.StatusNotFound, "File not found")
		return nil, false
	}
	if err != nil {
		renderer.WriteError(w, http.StatusInternalServerError, "Failed to load file")
		return nil, false
	}
	return f, true
}

func optionalFloat(r *http.Request, name string) (*float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Errorf("%s must be a number", name)
	}
	return &f, nil
}

func albumImageHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		center, err := optionalFloat(r, "windowCenter")
		if err != nil {
			renderer.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		width, err := optionalFloat(r, "windowWidth")
		if err != nil {
			renderer.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		f, ok := albumFile(w, r, deps)
		if !ok {
			return
		}
		png, err := deps.Images.Render(f.FilePath, center, width)
		if err != nil {
			deps.Log.Warn().Err(err).Str("file", f.FilePath).Msg("image conversion failed")
			renderer.WriteError(w, http.StatusInternalServerError, "Could not convert image")
			return
		}
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"image_data": imaging.DataURL(png),
		})
	}
}

func albumThumbnailHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := albumFile(w, r, deps)
		if !ok {
			return
		}
		width := deps.ThumbnailWidth
		if s := r.URL.Query().Get("width"); s != "" {
			if n, err := strconv.ParseUint(s, 10, 32); err == nil && n > 0 {
				width = uint(n)
			}
		}
		png, err := deps.Images.Thumbnail(f.FilePath, width)
		if err != nil {
			deps.Log.Warn().Err(err).Str("file", f.FilePath).Msg("thumbnail failed")
			renderer.WriteError(w, http.StatusInternalServerError, "Could not convert image")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Write(png)
	}
}

func downloadFileHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := albumFile(w, r, deps)
		if !ok {
			return
		}
		file, err := os.Open(f.FilePath)
		if err != nil {
			renderer.WriteError(w, http.StatusNotFound, "File not found on disk")
			return
		}
		defer file.Close()
		info, err := file.Stat()
		if err != nil {
			renderer.WriteError(w, http.StatusNotFound, "File not found on disk")
			return
		}
		name := filepath.Base(f.FilePath)
		w.Header().Set("Content-Type", "application/dicom")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		http.ServeContent(w, r, name, info.ModTime(), file)
	}
}

func presignFileHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := loadAlbum(w, r, deps, false)
		if !ok {
			return
		}
		ttl := deps.PresignTTL
		if ttl <= 0 {
			ttl = cloudstore.DefaultPresignTTL
		}
		url, err := deps.Albums.Presign(r.Context(), a.ID, pathIndex(r), ttl)
		switch {
		case errors.Is(err, album.ErrNoMirror):
			renderer.WriteError(w, http.StatusNotImplemented, "Cloud storage is not configured")
			return
		case errors.Is(err, store.ErrNotFound):
			renderer.WriteError(w, http.StatusNotFound, "File not found")
			return
		case err != nil:
			deps.Log.Error().Err(err).Str("album", a.ID).Msg("presign failed")
			renderer.WriteError(w, http.StatusBadGateway, "Failed to create download link")
			return
		}
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"url":        url,
			"expires_in": int(ttl.Seconds()),
		})
	}
}
