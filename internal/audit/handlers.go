package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/casedesk/internal/auth"
	"github.com/darkden-lab/casedesk/internal/httputil"
)

// Handlers provides HTTP handlers for the audit log.
type Handlers struct {
	store *Store
}

// NewHandlers creates a new Handlers.
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes wires the audit log endpoints onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/audit-log", h.List).Methods(http.MethodGet)
}

// parseListParams reads filters from the query string. Malformed numbers and
// timestamps are rejected rather than silently ignored.
func parseListParams(r *http.Request) (ListParams, string) {
	q := r.URL.Query()
	params := ListParams{
		Action: q.Get("action"),
	}

	ints := []struct {
		key string
		dst *int
	}{{"limit", &params.Limit}, {"offset", &params.Offset}}
	for _, f := range ints {
		if v := q.Get(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return params, "invalid " + f.key
			}
			*f.dst = n
		}
	}

	if v := q.Get("activity_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return params, "invalid activity_id"
		}
		params.ActivityID = id
	}

	times := []struct {
		key string
		dst *time.Time
	}{{"from", &params.From}, {"to", &params.To}}
	for _, f := range times {
		if v := q.Get(f.key); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return params, "invalid " + f.key + ": expected RFC 3339"
			}
			*f.dst = ts
		}
	}
	return params, ""
}

// List handles GET /api/audit-log with query filters and pagination. Callers
// only see their own entries.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	params, problem := parseListParams(r)
	if problem != "" {
		httputil.WriteError(w, http.StatusBadRequest, problem)
		return
	}
	params.UserID = auth.UserIDFromContext(r.Context())
	if params.UserID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	params.normalize()

	entries, total, err := h.store.List(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   params.Limit,
		"offset":  params.Offset,
	})
}
