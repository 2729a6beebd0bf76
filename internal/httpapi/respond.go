package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hiveboard/server/internal/apierr"
	"github.com/hiveboard/server/internal/storage"
)

// respondJSON mirrors the teacher's Server.respondJSON (internal/server/handlers.go).
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.New(apierr.KindValidation, "malformed JSON body")
	}
	return nil
}

// parsePage reads the §4.4.5 cursor/limit query parameters.
func parsePage(r *http.Request) storage.Page {
	q := r.URL.Query()
	page := storage.Page{Cursor: storage.Cursor(q.Get("cursor"))}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page.Limit = n
		}
	}
	return page.Normalize()
}

// parseTimeRange reads ?since=&until= as RFC3339 timestamps, defaulting to
// the trailing 24h when absent.
func parseTimeRange(r *http.Request) (time.Time, time.Time) {
	q := r.URL.Query()
	now := time.Now().UTC()
	since, until := now.Add(-24*time.Hour), now

	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			until = t
		}
	}
	return since, until
}
