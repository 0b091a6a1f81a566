package stub

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStubReportsLoadError(t *testing.T) {
	h := New("mobile", errors.New("loader: app.yaml not found"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mobile/diagram", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Mobile app failed to load: loader: app.yaml not found" {
		t.Errorf("error = %q", body["error"])
	}
	if body["path"] != "mobile/diagram" {
		t.Errorf("path = %q", body["path"])
	}
}

func TestStubWithoutError(t *testing.T) {
	rec := httptest.NewRecorder()
	New("", nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if want := `"error":"Unknown app failed to load"`; !strings.Contains(rec.Body.String(), want) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
