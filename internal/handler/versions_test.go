package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/ensemble"
	"stockcast/internal/ml/training"
)

type versionStub struct {
	versions  []domain.MLModelVersion
	activated []int
	err       error
}

func (s *versionStub) ListVersions(_ context.Context, limit int) ([]domain.MLModelVersion, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.versions) {
		return s.versions[:limit], nil
	}
	return s.versions, nil
}

func (s *versionStub) ActivateVersion(_ context.Context, version int, _ time.Time) (*training.Activation, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, v := range s.versions {
		if v.Version == version {
			s.activated = append(s.activated, version)
			return &training.Activation{Version: version, Mode: ensemble.ModeDynamic, ModelVersions: map[string]int{"ridge_return": version}}, nil
		}
	}
	return nil, fmt.Errorf("ensemble version %d: %w", version, common.ErrVersionNotFound)
}

func TestListEnsembleVersions(t *testing.T) {
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h := newTestHandler()
	h.SetMLVersionManager(&versionStub{versions: []domain.MLModelVersion{
		{Version: 2, MetricsJSON: `{"directional_accuracy":0.55}`, TrainedTo: at, ArtifactBlob: []byte("blob")},
		{Version: 1, MetricsJSON: `{}`, IsActive: true, ActivatedAt: &at},
	}})

	w := serve(newTestRouter(h), http.MethodGet, "/api/ml/versions?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Versions []struct {
			Version  int                `json:"version"`
			Metrics  map[string]float64 `json:"metrics"`
			IsActive bool               `json:"is_active"`
		} `json:"versions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(body.Versions) != 2 || body.Versions[0].Metrics["directional_accuracy"] != 0.55 || !body.Versions[1].IsActive {
		t.Fatalf("unexpected versions: %+v", body.Versions)
	}
	if strings.Contains(w.Body.String(), "ArtifactBlob") {
		t.Fatal("artifact blobs must not be listed")
	}
}

func TestListEnsembleVersionsUnavailable(t *testing.T) {
	w := serve(newTestRouter(newTestHandler()), http.MethodGet, "/api/ml/versions")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestActivateEnsembleVersion(t *testing.T) {
	stub := &versionStub{versions: []domain.MLModelVersion{{Version: 2}, {Version: 1}}}
	h := newTestHandler()
	h.SetMLVersionManager(stub)
	r := newTestRouter(h)

	w := serve(r, http.MethodPost, "/api/ml/versions/1/activate")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var act training.Activation
	if err := json.Unmarshal(w.Body.Bytes(), &act); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if act.Version != 1 || len(stub.activated) != 1 {
		t.Fatalf("unexpected activation: %+v", act)
	}

	cases := []struct {
		path string
		want int
	}{
		{"/api/ml/versions/9/activate", http.StatusNotFound},
		{"/api/ml/versions/zero/activate", http.StatusBadRequest},
		{"/api/ml/versions/-1/activate", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := serve(r, http.MethodPost, tc.path); w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.want, w.Code)
		}
	}
}

func TestActivateEnsembleVersionModeMismatch(t *testing.T) {
	h := newTestHandler()
	h.SetMLVersionManager(&versionStub{err: common.NewConfigurationError("mode", "trained as stacking, serving dynamic")})

	w := serve(newTestRouter(h), http.MethodPost, "/api/ml/versions/3/activate")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
