package cases

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/casedesk/internal/auth"
	"github.com/darkden-lab/casedesk/internal/httputil"
)

// Handlers exposes activity operations over the authenticated API.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes wires the activity endpoints. r must sit behind the auth
// middleware.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/activities/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/activities/{id}/assignee", h.handleAssign).Methods(http.MethodPut)
	r.HandleFunc("/api/activities/{id}/state", h.handleChangeState).Methods(http.MethodPut)
	r.HandleFunc("/api/activities/{id}/comments", h.handleComment).Methods(http.MethodPost)
}

type assignRequest struct {
	AssigneeID string `json:"assigneeId"`
}

type stateRequest struct {
	State string `json:"state"`
}

type commentRequest struct {
	Body string `json:"body"`
}

func activityID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// writeServiceError maps service errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrUnknownUser), errors.Is(err, ErrEmptyComment):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("cases: %v", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := activityID(r)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handlers) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := activityID(r)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	var req assignRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.service.Assign(r.Context(), auth.UserIDFromContext(r.Context()), id, req.AssigneeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handlers) handleChangeState(w http.ResponseWriter, r *http.Request) {
	id, ok := activityID(r)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	var req stateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.service.ChangeState(r.Context(), auth.UserIDFromContext(r.Context()), id, req.State)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handlers) handleComment(w http.ResponseWriter, r *http.Request) {
	id, ok := activityID(r)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	var req commentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.service.Comment(r.Context(), auth.UserIDFromContext(r.Context()), id, req.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}
