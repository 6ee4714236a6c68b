package notifications

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/casedesk/internal/auth"
	"github.com/darkden-lab/casedesk/internal/httputil"
)

// Handlers exposes the caller's own push session over the authenticated API.
type Handlers struct {
	publisher *Publisher
	registry  *Registry
}

// NewHandlers creates session management handlers.
func NewHandlers(publisher *Publisher, registry *Registry) *Handlers {
	return &Handlers{publisher: publisher, registry: registry}
}

// RegisterRoutes wires the session endpoints. r must sit behind the auth
// middleware.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/notifications/session", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/api/notifications/session", h.Disconnect).Methods(http.MethodDelete)
}

type sessionStatus struct {
	Connected      bool `json:"connected"`
	ActiveSessions int  `json:"activeSessions"`
}

// Status handles GET /api/notifications/session
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionStatus{
		Connected:      h.publisher.Connected(userID),
		ActiveSessions: h.registry.Len(),
	})
}

// Disconnect handles DELETE /api/notifications/session
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.publisher.Disconnect(userID, ReasonClosedByUser) {
		httputil.WriteError(w, http.StatusNotFound, "no active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
