package audit

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/casedesk/internal/auth"
)

// Middleware records successful write operations (POST, PUT, DELETE). Entries
// are written after the response, on a detached context, so a slow audit
// insert never delays or fails the request.
func Middleware(rec Recorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)

			if sr.status >= 400 {
				return
			}

			var userID *string
			if uid := auth.UserIDFromContext(r.Context()); uid != "" {
				userID = &uid
			}

			var activityID *int64
			if strings.HasPrefix(r.URL.Path, "/api/activities/") {
				if id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64); err == nil {
					activityID = &id
				}
			}

			action := strings.ToLower(r.Method) + " " + routeTemplate(r)
			details, _ := json.Marshal(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      sr.status,
				"remote_addr": r.RemoteAddr,
			})

			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
			defer cancel()
			if err := rec.Insert(ctx, userID, activityID, action, r.URL.Path, details); err != nil {
				log.Printf("audit: failed to log entry: %v", err)
			}
		})
	}
}

// routeTemplate returns the matched mux path template so entries group by
// endpoint rather than by ID.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
