package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	h := New(noop.NewTracerProvider().Tracer("test"))
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["ml"] != false {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["ensemble"]; ok {
		t.Errorf("expected no ensemble before training: %v", body)
	}
}

func TestHealthReportsInstalledEnsemble(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(noop.NewTracerProvider().Tracer("test"))
	h.SetEnsembleHolder(fittedHolder(t, 7))
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Ensemble struct {
			Mode    string `json:"mode"`
			Version int    `json:"version"`
		} `json:"ensemble"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ensemble.Version != 7 || body.Ensemble.Mode == "" {
		t.Fatalf("unexpected ensemble: %+v", body.Ensemble)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(noop.NewTracerProvider().Tracer("test"))
	r := gin.New()
	h.RegisterRoutes(r, "secret")

	cases := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"secret", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ml/train", nil)
		if tc.key != "" {
			req.Header.Set("X-API-Key", tc.key)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("key %q: expected %d, got %d", tc.key, tc.want, w.Code)
		}
	}
}
