// Package registry stores versioned model artifacts in Postgres. Each
// model key has at most one active version.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/ml/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrVersionNotFound is returned by Activate for an unknown version.
var ErrVersionNotFound = common.ErrVersionNotFound

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

const selectColumns = `id, model_key, version, feature_spec_version,
       trained_from, trained_to, trained_at,
       hyperparams_json, metrics_json,
       artifact_format, artifact_blob,
       is_active, activated_at, created_at`

// Register stores model under the next free version of its key and, when
// activate is set, makes it the active version. Both happen in one
// transaction.
func (r *Repository) Register(ctx context.Context, model domain.MLModelVersion, activate bool) (*domain.MLModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "ml-model-registry.register")
	defer span.End()
	span.SetAttributes(attribute.String("model_key", model.ModelKey), attribute.Bool("activate", activate))

	if model.ModelKey == "" {
		return nil, errors.New("register model: empty model key")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("register model: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialises concurrent registrations of the same key.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, model.ModelKey); err != nil {
		return nil, fmt.Errorf("register model: lock: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM ml_model_versions WHERE model_key = $1`, model.ModelKey).Scan(&model.Version); err != nil {
		return nil, fmt.Errorf("register model: next version: %w", err)
	}

	out, err := scanModel(tx.QueryRow(ctx, `
INSERT INTO ml_model_versions (
    model_key, version, feature_spec_version,
    trained_from, trained_to, trained_at,
    hyperparams_json, metrics_json,
    artifact_format, artifact_blob,
    is_active, activated_at
) VALUES (
    $1, $2, $3,
    $4, $5, COALESCE($6, NOW()),
    $7, $8,
    $9, $10,
    FALSE, NULL
)
RETURNING `+selectColumns,
		model.ModelKey,
		model.Version,
		model.FeatureSpecVersion,
		model.TrainedFrom.UTC(),
		model.TrainedTo.UTC(),
		nullIfZeroTime(model.TrainedAt),
		fallbackJSON(model.HyperparamsJSON),
		fallbackJSON(model.MetricsJSON),
		model.ArtifactFormat,
		model.ArtifactBlob,
	))
	if err != nil {
		return nil, fmt.Errorf("register model: insert: %w", err)
	}

	if activate {
		if err := activateIn(ctx, tx, out.ModelKey, out.Version); err != nil {
			return nil, fmt.Errorf("register model: %w", err)
		}
		now := time.Now().UTC()
		out.IsActive = true
		out.ActivatedAt = &now
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("register model: commit: %w", err)
	}
	return out, nil
}

// GetActive returns the active version of modelKey, or nil when none is.
func (r *Repository) GetActive(ctx context.Context, modelKey string) (*domain.MLModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "ml-model-registry.get-active")
	defer span.End()

	return r.getOne(ctx, `
SELECT `+selectColumns+`
FROM ml_model_versions
WHERE model_key = $1 AND is_active = TRUE
ORDER BY version DESC
LIMIT 1`, modelKey)
}

// GetVersion returns one version of modelKey, or nil when it does not exist.
func (r *Repository) GetVersion(ctx context.Context, modelKey string, version int) (*domain.MLModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "ml-model-registry.get-version")
	defer span.End()
	span.SetAttributes(attribute.String("model_key", modelKey), attribute.Int("version", version))

	return r.getOne(ctx, `
SELECT `+selectColumns+`
FROM ml_model_versions
WHERE model_key = $1 AND version = $2`, modelKey, version)
}

// ListVersions returns up to limit versions of modelKey, newest first,
// without artifact blobs.
func (r *Repository) ListVersions(ctx context.Context, modelKey string, limit int) ([]domain.MLModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "ml-model-registry.list-versions")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, model_key, version, feature_spec_version,
       trained_from, trained_to, trained_at,
       hyperparams_json, metrics_json,
       artifact_format, ''::bytea,
       is_active, activated_at, created_at
FROM ml_model_versions
WHERE model_key = $1
ORDER BY version DESC
LIMIT $2`, modelKey, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MLModelVersion, error) {
		m, err := scanModel(row)
		if err != nil {
			return domain.MLModelVersion{}, err
		}
		return *m, nil
	})
}

// Activate makes each listed version the only active version of its key.
// All keys switch in one transaction.
func (r *Repository) Activate(ctx context.Context, versions map[string]int) error {
	ctx, span := r.tracer.Start(ctx, "ml-model-registry.activate")
	defer span.End()
	span.SetAttributes(attribute.Int("keys", len(versions)))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, key := range slices.Sorted(maps.Keys(versions)) {
		if err := activateIn(ctx, tx, key, versions[key]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func activateIn(ctx context.Context, tx execer, modelKey string, version int) error {
	if _, err := tx.Exec(ctx, `UPDATE ml_model_versions SET is_active = FALSE, activated_at = NULL WHERE model_key = $1 AND is_active = TRUE`, modelKey); err != nil {
		return fmt.Errorf("deactivate %s: %w", modelKey, err)
	}
	tag, err := tx.Exec(ctx, `UPDATE ml_model_versions SET is_active = TRUE, activated_at = NOW() WHERE model_key = $1 AND version = $2`, modelKey, version)
	if err != nil {
		return fmt.Errorf("activate %s v%d: %w", modelKey, version, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("activate %s v%d: %w", modelKey, version, ErrVersionNotFound)
	}
	return nil
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*domain.MLModelVersion, error) {
	out, err := scanModel(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return out, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModel(s scanner) (*domain.MLModelVersion, error) {
	var out domain.MLModelVersion
	if err := s.Scan(
		&out.ID,
		&out.ModelKey,
		&out.Version,
		&out.FeatureSpecVersion,
		&out.TrainedFrom,
		&out.TrainedTo,
		&out.TrainedAt,
		&out.HyperparamsJSON,
		&out.MetricsJSON,
		&out.ArtifactFormat,
		&out.ArtifactBlob,
		&out.IsActive,
		&out.ActivatedAt,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	out.TrainedFrom = out.TrainedFrom.UTC()
	out.TrainedTo = out.TrainedTo.UTC()
	out.TrainedAt = out.TrainedAt.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	if out.ActivatedAt != nil {
		t := out.ActivatedAt.UTC()
		out.ActivatedAt = &t
	}
	return &out, nil
}

func fallbackJSON(v string) string {
	if v == "" {
		return "{}"
	}
	return v
}

func nullIfZeroTime(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return v.UTC()
}
