package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stevecastle/dicomalbum/metadata"
	"github.com/stevecastle/dicomalbum/query"
	"github.com/stevecastle/dicomalbum/renderer"
	"github.com/stevecastle/dicomalbum/store"
)

// queryResponse is the body returned by every query endpoint. Results holds
// at most the configured result limit; ResultCount is the full match count.
type queryResponse struct {
	Success     bool              `json:"success"`
	ResultCount int               `json:"result_count"`
	Results     []metadata.Record `json:"results"`
	Query       string            `json:"query"`
	Parsed      *query.Query      `json:"parsed,omitempty"`
}

// respondQuery records the query in the history log and builds the capped
// result set.
func respondQuery(r *http.Request, deps *Dependencies, kind, text string, view metadata.View, started time.Time) queryResponse {
	deps.Metrics.ObserveQuery(kind, "ok", view.Len(), time.Since(started))
	if deps.History != nil {
		// History is best effort; the log already carries the failure.
		deps.History.Record(r.Context(), text, view.Len())
	}
	results := view.Head(deps.resultLimit())
	if results == nil {
		results = []metadata.Record{}
	}
	return queryResponse{
		Success:     true,
		ResultCount: view.Len(),
		Results:     results,
		Query:       text,
	}
}

func simpleQueryHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := currentTable(w, deps)
		if !ok {
			return
		}
		r.ParseForm()
		field := r.PostForm.Get("field")
		values, hasValue := r.PostForm["value"]
		if field == "" || !hasValue {
			deps.Metrics.ObserveQuery("simple", "invalid", 0, 0)
			renderer.WriteError(w, http.StatusBadRequest, "Field and value are required")
			return
		}
		op := query.Operator(r.PostForm.Get("operator"))
		if op == "" {
			op = query.OpEqual
		}

		started := time.Now()
		view := query.EvaluateSimple(t, field, values[0], op)
		resp := respondQuery(r, deps, "simple", query.SimpleText(field, op, values[0]), view, started)
		renderer.WriteJSON(w, http.StatusOK, resp)
	}
}

func advancedQueryHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := currentTable(w, deps)
		if !ok {
			return
		}
		var q query.Query
		if err := readJSONBody(r, &q); err != nil {
			deps.Metrics.ObserveQuery("advanced", "invalid", 0, 0)
			renderer.WriteError(w, http.StatusBadRequest, "Query error: "+err.Error())
			return
		}
		if len(q.Conditions) == 0 {
			deps.Metrics.ObserveQuery("advanced", "invalid", 0, 0)
			renderer.WriteError(w, http.StatusBadRequest, "No query conditions provided")
			return
		}
		if q.Join == "" {
			q.Join = query.JoinAnd
		}

		started := time.Now()
		view := query.Evaluate(t, q)
		resp := respondQuery(r, deps, "advanced", query.GenerateSummary(q.Conditions, q.Join), view, started)
		renderer.WriteJSON(w, http.StatusOK, resp)
	}
}

type parsedQueryRequest struct {
	Query string `json:"query"`
}

// parsedQueryHandler evaluates a textual query such as
// `Modality = CT AND PatientAge > 40`.
func parsedQueryHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := currentTable(w, deps)
		if !ok {
			return
		}
		var req parsedQueryRequest
		if err := readJSONBody(r, &req); err != nil {
			renderer.WriteError(w, http.StatusBadRequest, "Query error: "+err.Error())
			return
		}
		q, err := query.Parse(req.Query)
		if err != nil {
			deps.Metrics.ObserveQuery("parsed", "invalid", 0, 0)
			renderer.WriteError(w, http.StatusBadRequest, "Query error: "+err.Error())
			return
		}
		if len(q.Conditions) == 0 {
			deps.Metrics.ObserveQuery("parsed", "invalid", 0, 0)
			renderer.WriteError(w, http.StatusBadRequest, "No query conditions provided")
			return
		}

		started := time.Now()
		view := query.Evaluate(t, q)
		resp := respondQuery(r, deps, "parsed", strings.TrimSpace(req.Query), view, started)
		resp.Parsed = &q
		renderer.WriteJSON(w, http.StatusOK, resp)
	}
}

func historyHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := deps.HistoryLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				renderer.WriteError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			limit = n
		}
		entries, err := deps.History.Recent(r.Context(), limit)
		if err != nil {
			deps.Log.Error().Err(err).Msg("failed to read query history")
			renderer.WriteError(w, http.StatusInternalServerError, "Failed to read query history")
			return
		}
		if entries == nil {
			entries = []store.QueryEntry{}
		}
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"history": entries,
		})
	}
}
