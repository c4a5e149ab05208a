package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"stockcast/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type versionView struct {
	Version            int             `json:"version"`
	FeatureSpecVersion string          `json:"feature_spec_version"`
	TrainedFrom        time.Time       `json:"trained_from"`
	TrainedTo          time.Time       `json:"trained_to"`
	TrainedAt          time.Time       `json:"trained_at"`
	Hyperparams        json.RawMessage `json:"hyperparams,omitempty"`
	Metrics            json.RawMessage `json:"metrics,omitempty"`
	IsActive           bool            `json:"is_active"`
	ActivatedAt        *time.Time      `json:"activated_at,omitempty"`
}

func toVersionView(m domain.MLModelVersion) versionView {
	return versionView{
		Version:            m.Version,
		FeatureSpecVersion: m.FeatureSpecVersion,
		TrainedFrom:        m.TrainedFrom,
		TrainedTo:          m.TrainedTo,
		TrainedAt:          m.TrainedAt,
		Hyperparams:        rawJSON(m.HyperparamsJSON),
		Metrics:            rawJSON(m.MetricsJSON),
		IsActive:           m.IsActive,
		ActivatedAt:        m.ActivatedAt,
	}
}

func rawJSON(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

// ListEnsembleVersions godoc
// @Summary      Registered ensemble versions
// @Description  Lists stored ensemble records newest first, with their validation metrics
// @Tags         ml
// @Produce      json
// @Param        limit  query  int  false  "Versions to return (default 20, max 100)"  default(20)
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Router       /api/ml/versions [get]
func (h *Handler) ListEnsembleVersions(c *gin.Context) {
	if h.versions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model registry unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-ensemble-versions")
	defer span.End()

	versions, err := h.versions.ListVersions(ctx, queryLimit(c, 20, 100))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	out := make([]versionView, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionView(v))
	}
	c.JSON(http.StatusOK, gin.H{"versions": out})
}

// ActivateEnsembleVersion godoc
// @Summary      Roll the served ensemble to a stored version
// @Description  Rebuilds the ensemble from registry artifacts, activates it with its models and installs it for inference
// @Tags         ml
// @Produce      json
// @Param        version  path  int  true  "Ensemble version"
// @Success      200  {object}  training.Activation
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ml/versions/{version}/activate [post]
func (h *Handler) ActivateEnsembleVersion(c *gin.Context) {
	if h.versions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model registry unavailable"})
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version must be a positive integer"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.activate-ensemble-version")
	defer span.End()
	span.SetAttributes(attribute.Int("version", version))

	act, err := h.versions.ActivateVersion(ctx, version, h.now())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, act)
}
