// Package api exposes the session table, queries, albums and users over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stevecastle/dicomalbum/album"
	"github.com/stevecastle/dicomalbum/auth"
	"github.com/stevecastle/dicomalbum/history"
	"github.com/stevecastle/dicomalbum/imaging"
	"github.com/stevecastle/dicomalbum/ingest"
	"github.com/stevecastle/dicomalbum/metadata"
	"github.com/stevecastle/dicomalbum/metrics"
	"github.com/stevecastle/dicomalbum/renderer"
	"github.com/stevecastle/dicomalbum/stream"
)

const (
	defaultResultLimit = 100
	previewRows        = 10
)

// Scanner turns files on disk into session records.
type Scanner interface {
	ExtractFiles(ctx context.Context, paths []string) ([]metadata.Record, error)
	ScanDirectory(ctx context.Context, root string) (*metadata.Table, error)
}

// Dependencies are the collaborators shared by the handlers. Auth is nil when
// user accounts are disabled; Events is nil when nobody subscribes.
type Dependencies struct {
	Session  *metadata.Session
	Scanner  Scanner
	Ingester *ingest.Ingester
	Albums   *album.Materializer
	History  *history.Log
	Images   *imaging.Renderer
	Auth     *auth.AuthService
	Events   *stream.Hub
	Metrics  *metrics.Metrics
	Log      zerolog.Logger

	ResultLimit    int
	HistoryLimit   int
	ThumbnailWidth uint
	PresignTTL     time.Duration
	MaxUploadBytes int64
}

func (d *Dependencies) resultLimit() int {
	if d.ResultLimit <= 0 {
		return defaultResultLimit
	}
	return d.ResultLimit
}

// NewRouter registers every route.
func NewRouter(deps *Dependencies) *mux.Router {
	if deps.Session == nil {
		deps.Session = &metadata.Session{}
	}
	r := mux.NewRouter()
	chain := renderer.Chain{Log: deps.Log, Metrics: deps.Metrics}
	if deps.Auth != nil {
		chain.Auth = deps.Auth.Middleware
	}

	handle := func(path string, h http.HandlerFunc, role renderer.AuthRole, methods ...string) {
		if role == renderer.RolePublic && deps.Auth != nil {
			h = deps.Auth.Optional(h).ServeHTTP
		}
		r.Handle(path, chain.Apply(path, h, role)).Methods(append(methods, http.MethodOptions)...)
	}

	handle("/upload", uploadHandler(deps), renderer.RolePublic, http.MethodPost)
	handle("/scan", scanHandler(deps), renderer.RolePublic, http.MethodPost)
	handle("/metadata", metadataHandler(deps), renderer.RolePublic, http.MethodGet)

	handle("/query/simple", simpleQueryHandler(deps), renderer.RolePublic, http.MethodPost)
	handle("/query/advanced", advancedQueryHandler(deps), renderer.RolePublic, http.MethodPost)
	handle("/query/parse", parsedQueryHandler(deps), renderer.RolePublic, http.MethodPost)
	handle("/query_history", historyHandler(deps), renderer.RolePublic, http.MethodGet)

	handle("/create_album", createAlbumHandler(deps), renderer.RoleUser, http.MethodPost)
	handle("/albums", listAlbumsHandler(deps), renderer.RolePublic, http.MethodGet)
	handle("/album/{id}", albumHandler(deps), renderer.RolePublic, http.MethodGet)
	handle("/album/{id}", deleteAlbumHandler(deps), renderer.RoleUser, http.MethodDelete)
	handle("/album/{id}/delete", deleteAlbumHandler(deps), renderer.RoleUser, http.MethodPost)
	handle("/album/{id}/toggle_public", togglePublicHandler(deps), renderer.RoleUser, http.MethodPost)
	handle("/album/{id}/share", shareAlbumHandler(deps), renderer.RoleUser, http.MethodPost)
	handle("/album/{id}/image/{index:[0-9]+}", albumImageHandler(deps), renderer.RolePublic, http.MethodGet)
	handle("/album/{id}/thumbnail/{index:[0-9]+}", albumThumbnailHandler(deps), renderer.RolePublic, http.MethodGet)
	handle("/album/{id}/file/{index:[0-9]+}/download", downloadFileHandler(deps), renderer.RolePublic, http.MethodGet)
	handle("/album/{id}/file/{index:[0-9]+}/presign", presignFileHandler(deps), renderer.RolePublic, http.MethodGet)

	if deps.Events != nil {
		handle("/events", deps.Events.ServeHTTP, renderer.RolePublic, http.MethodGet)
	}

	if deps.Auth != nil {
		handle("/auth/register", registerHandler(deps), renderer.RolePublic, http.MethodPost)
		handle("/auth/login", loginHandler(deps), renderer.RolePublic, http.MethodPost)
	}

	r.Handle("/health", healthHandler(deps)).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// pathIndex parses the {index} route variable.
func pathIndex(r *http.Request) int {
	i, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		return -1
	}
	return i
}

// currentTable returns the loaded session table or writes a 404.
func currentTable(w http.ResponseWriter, deps *Dependencies) (*metadata.Table, bool) {
	t := deps.Session.Current()
	if t.Len() == 0 {
		renderer.WriteError(w, http.StatusNotFound, "No DICOM data loaded")
		return nil, false
	}
	return t, true
}

// replaceSession installs t, updates the session gauge and notifies event
// subscribers.
func replaceSession(deps *Dependencies, t *metadata.Table) {
	deps.Session.Replace(t)
	if deps.Metrics != nil {
		deps.Metrics.SessionRecords.Set(float64(t.Len()))
	}
	deps.Events.Publish(stream.Event{Type: stream.EventSessionLoaded, Count: t.Len()})
}

func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":         "ok",
			"session_loaded": deps.Session.Loaded(),
			"session_files":  deps.Session.Current().Len(),
			"auth_enabled":   deps.Auth != nil,
		}
		if deps.Events != nil {
			body["events"] = deps.Events.Stats()
		}
		renderer.WriteJSON(w, http.StatusOK, body)
	}
}
