package notifications

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/casedesk/internal/auth"
	"github.com/darkden-lab/casedesk/internal/httputil"
)

// RecipientDirectory answers whether a recipient ID names a known user.
type RecipientDirectory interface {
	Exists(ctx context.Context, recipientID string) (bool, error)
}

// SupersedePolicy decides what happens to a recipient's previous session when
// a new one registers.
type SupersedePolicy string

const (
	// SupersedeKeep leaves the previous session running, unreachable by
	// publishers, until its client goes away or a write fails.
	SupersedeKeep SupersedePolicy = "keep"
	// SupersedeClose closes the previous session as soon as the new one is
	// registered.
	SupersedeClose SupersedePolicy = "close"
)

// ParseSupersedePolicy validates a configured policy name.
func ParseSupersedePolicy(s string) (SupersedePolicy, error) {
	switch p := SupersedePolicy(s); p {
	case SupersedeKeep, SupersedeClose:
		return p, nil
	default:
		return "", fmt.Errorf("unknown supersede policy %q", s)
	}
}

// StreamConfig tunes push sessions.
type StreamConfig struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SupersedePolicy   SupersedePolicy
	WelcomeMessage    string
}

// DefaultStreamConfig returns the settings used when none are configured.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		HeartbeatInterval: 25 * time.Second,
		WriteTimeout:      10 * time.Second,
		SupersedePolicy:   SupersedeKeep,
		WelcomeMessage:    "Conectado al servidor de notificaciones",
	}
}

// Admission rejection reasons, also used as metric labels.
const (
	rejectUnauthenticated = "unauthenticated"
	rejectMissingUser     = "missing_user"
	rejectForbidden       = "forbidden"
	rejectUnknownUser     = "unknown_user"
	rejectDirectoryError  = "directory_error"
	rejectUnsupported     = "unsupported"
)

// admitter authenticates a subscription request and resolves the recipient.
// It touches neither the registry nor the transport, so a rejected request
// leaves no trace beyond its error response.
type admitter struct {
	jwtService *auth.JWTService
	directory  RecipientDirectory
}

// admit returns the recipient ID, or writes an error response and returns
// false.
func (a admitter) admit(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return a.reject(w, http.StatusUnauthorized, rejectUnauthenticated, "missing token")
	}
	claims, err := a.jwtService.ValidateToken(token)
	if err != nil {
		return a.reject(w, http.StatusUnauthorized, rejectUnauthenticated, "invalid token")
	}

	recipientID := r.URL.Query().Get("userId")
	if recipientID == "" {
		return a.reject(w, http.StatusBadRequest, rejectMissingUser, "userId is required")
	}
	if recipientID != claims.UserID {
		log.Printf("notifications: user %s tried to subscribe as %s", claims.UserID, recipientID)
		return a.reject(w, http.StatusForbidden, rejectForbidden, "cannot subscribe to another user's notifications")
	}

	if a.directory != nil {
		exists, err := a.directory.Exists(r.Context(), recipientID)
		if err != nil {
			log.Printf("notifications: checking recipient %s: %v", recipientID, err)
			return a.reject(w, http.StatusInternalServerError, rejectDirectoryError, "failed to resolve user")
		}
		if !exists {
			return a.reject(w, http.StatusNotFound, rejectUnknownUser, "user not found")
		}
	}
	return recipientID, true
}

func (a admitter) reject(w http.ResponseWriter, status int, reason, message string) (string, bool) {
	recordRejected(reason)
	httputil.WriteError(w, status, message)
	return "", false
}

// applySupersede enforces the configured policy on a session displaced by a
// new registration.
func applySupersede(policy SupersedePolicy, previous *Session) {
	if previous == nil {
		return
	}
	if policy == SupersedeClose {
		previous.Close(ReasonSuperseded)
		return
	}
	log.Printf("notifications: session %s for user %s superseded, left to expire", previous.ID, previous.RecipientID)
}

// StreamHandler serves the server-sent events subscription endpoint.
type StreamHandler struct {
	admitter
	registry *Registry
	cfg      StreamConfig
}

// NewStreamHandler creates the SSE endpoint. A nil directory skips the
// recipient existence check.
func NewStreamHandler(jwtService *auth.JWTService, directory RecipientDirectory, registry *Registry, cfg StreamConfig) *StreamHandler {
	return &StreamHandler{
		admitter: admitter{jwtService: jwtService, directory: directory},
		registry: registry,
		cfg:      cfg,
	}
}

// RegisterRoutes wires the stream endpoint. It authenticates on its own, so it
// goes on the public router.
func (h *StreamHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/notifications/stream", h.Stream).Methods(http.MethodGet)
}

// Stream handles GET /api/notifications/stream?userId=<id>&token=<jwt>.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.admit(w, r)
	if !ok {
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		h.reject(w, http.StatusInternalServerError, rejectUnsupported, "streaming unsupported")
		return
	}

	transport := newSSETransport(w, h.cfg.WriteTimeout)
	if err := transport.start(); err != nil {
		log.Printf("notifications: starting stream for user %s: %v", recipientID, err)
		return
	}

	session := NewSession(recipientID, transport, h.registry, h.cfg.HeartbeatInterval)
	previous, err := session.Open(h.cfg.WelcomeMessage)
	applySupersede(h.cfg.SupersedePolicy, previous)
	if err != nil {
		log.Printf("notifications: opening stream for user %s: %v", recipientID, err)
		return
	}
	log.Printf("notifications: user %s connected via sse (session %s)", recipientID, session.ID)

	session.Serve(r.Context())
}
