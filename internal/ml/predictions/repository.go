// Package predictions persists ensemble forecasts and their realised
// outcomes.
package predictions

import (
	"context"
	"encoding/json"
	"time"

	"stockcast/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

const predictionColumns = `id, symbol, interval, open_time, target_time,
       model_key, model_version, mode,
       value, direction, weights_json, details_json,
       created_at, resolved_at, actual_return, abs_error, is_correct`

func (r *Repository) UpsertPrediction(ctx context.Context, p domain.MLPrediction) (*domain.MLPrediction, error) {
	ctx, span := r.tracer.Start(ctx, "ml-predictions.upsert")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
INSERT INTO ml_predictions (
    symbol, interval, open_time, target_time,
    model_key, model_version, mode,
    value, direction, weights_json, details_json
) VALUES (
    $1, $2, $3, $4,
    $5, $6, $7,
    $8, $9, $10, $11
)
ON CONFLICT (symbol, interval, open_time, model_key, model_version) DO UPDATE SET
    mode = EXCLUDED.mode,
    value = EXCLUDED.value,
    direction = EXCLUDED.direction,
    weights_json = EXCLUDED.weights_json,
    details_json = EXCLUDED.details_json,
    target_time = EXCLUDED.target_time
RETURNING `+predictionColumns,
		p.Symbol,
		p.Interval,
		p.OpenTime.UTC(),
		p.TargetTime.UTC(),
		p.ModelKey,
		p.ModelVersion,
		p.Mode,
		p.Value,
		string(p.Direction),
		ensureJSON(p.WeightsJSON),
		ensureJSON(p.DetailsJSON),
	)
	return scanPrediction(row)
}

// ListUnresolvedDue returns predictions whose target time has passed,
// oldest first.
func (r *Repository) ListUnresolvedDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.MLPrediction, error) {
	ctx, span := r.tracer.Start(ctx, "ml-predictions.list-unresolved-due")
	defer span.End()

	if limit <= 0 {
		limit = 200
	}
	return r.list(ctx, `
SELECT `+predictionColumns+`
FROM ml_predictions
WHERE resolved_at IS NULL
  AND target_time <= $1
ORDER BY target_time ASC, symbol ASC
LIMIT $2`, cutoff.UTC(), limit)
}

// ListRecent returns the newest predictions, optionally for one symbol.
func (r *Repository) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.MLPrediction, error) {
	ctx, span := r.tracer.Start(ctx, "ml-predictions.list-recent")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
SELECT `+predictionColumns+`
FROM ml_predictions
WHERE ($1 = '' OR symbol = $1)
ORDER BY open_time DESC, symbol ASC
LIMIT $2`, symbol, limit)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]domain.MLPrediction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MLPrediction, error) {
		p, err := scanPrediction(row)
		if err != nil {
			return domain.MLPrediction{}, err
		}
		return *p, nil
	})
}

// Resolve records the realised return once. A prediction that is already
// resolved yields pgx.ErrNoRows.
func (r *Repository) Resolve(ctx context.Context, id int64, actualReturn, absError float64, isCorrect bool) error {
	ctx, span := r.tracer.Start(ctx, "ml-predictions.resolve")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `
UPDATE ml_predictions
SET resolved_at = NOW(),
    actual_return = $2,
    abs_error = $3,
    is_correct = $4
WHERE id = $1
  AND resolved_at IS NULL`, id, actualReturn, absError, isCorrect)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(s scanner) (*domain.MLPrediction, error) {
	var out domain.MLPrediction
	var direction string
	var resolvedAt pgtype.Timestamptz
	var actual, absErr pgtype.Float8
	var correct pgtype.Bool

	if err := s.Scan(
		&out.ID,
		&out.Symbol,
		&out.Interval,
		&out.OpenTime,
		&out.TargetTime,
		&out.ModelKey,
		&out.ModelVersion,
		&out.Mode,
		&out.Value,
		&direction,
		&out.WeightsJSON,
		&out.DetailsJSON,
		&out.CreatedAt,
		&resolvedAt,
		&actual,
		&absErr,
		&correct,
	); err != nil {
		return nil, err
	}
	out.Direction = domain.SignalDirection(direction)
	out.OpenTime = out.OpenTime.UTC()
	out.TargetTime = out.TargetTime.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		out.ResolvedAt = &t
	}
	if actual.Valid {
		v := actual.Float64
		out.ActualReturn = &v
	}
	if absErr.Valid {
		v := absErr.Float64
		out.AbsError = &v
	}
	if correct.Valid {
		v := correct.Bool
		out.IsCorrect = &v
	}
	return &out, nil
}

func ensureJSON(raw string) string {
	if raw == "" {
		return "{}"
	}
	if !json.Valid([]byte(raw)) {
		b, _ := json.Marshal(map[string]string{"raw": raw})
		return string(b)
	}
	return raw
}
