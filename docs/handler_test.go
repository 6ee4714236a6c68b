package docs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestServesOpenAPISpec(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, path := range []string{"/api/notifications/stream:", "/api/notifications/session:", "/api/activities/{id}/state:"} {
		if !strings.Contains(body, path) {
			t.Errorf("expected spec to document %s", path)
		}
	}
}

func TestServesSwaggerUI(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/api/docs/openapi.yaml") {
		t.Error("expected UI page to load the spec")
	}
}
