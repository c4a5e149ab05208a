package features

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockcast/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pool interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository persists feature rows keyed by symbol, interval and bar.
type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

// valueColumns follow the key columns in every statement.
var valueColumns = []string{
	"ret_1", "ret_4", "ret_12", "ret_24",
	"volatility_6", "volatility_24", "volume_z_24",
	"rsi_14", "macd_line", "macd_signal", "macd_hist",
	"bb_pos", "bb_width", "target_return",
}

var (
	upsertFeatureRow = buildUpsert()
	selectFeatureRow = "symbol, interval, open_time, " + strings.Join(valueColumns, ", ") + ", created_at, updated_at"
)

func buildUpsert() string {
	placeholders := make([]string, 0, 3+len(valueColumns))
	for i := 1; i <= 3+len(valueColumns); i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	}
	updates := make([]string, 0, len(valueColumns)+1)
	for _, c := range valueColumns {
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	updates = append(updates, "updated_at = NOW()")

	return "INSERT INTO ml_feature_rows (symbol, interval, open_time, " + strings.Join(valueColumns, ", ") + ", updated_at)\n" +
		"VALUES (" + strings.Join(placeholders, ", ") + ", NOW())\n" +
		"ON CONFLICT (symbol, interval, open_time) DO UPDATE SET " + strings.Join(updates, ", ")
}

// UpsertRows writes rows in one batch. Re-running a bar overwrites its
// features and, once known, its target.
func (r *Repository) UpsertRows(ctx context.Context, rows []domain.MLFeatureRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "ml-feature-repo.upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(upsertFeatureRow,
			row.Symbol, row.Interval, row.OpenTime.UTC(),
			row.Ret1, row.Ret4, row.Ret12, row.Ret24,
			row.Volatility6, row.Volatility24, row.VolumeZ24,
			row.RSI14, row.MACDLine, row.MACDSignal, row.MACDHist,
			row.BBPos, row.BBWidth, row.TargetReturn,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, row := range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert %s features at %s: %w", row.Symbol, row.OpenTime.UTC().Format(time.RFC3339), err)
		}
	}
	return nil
}

// ListLabeledRows returns rows in [from, to] whose target is known, oldest
// first.
func (r *Repository) ListLabeledRows(ctx context.Context, interval string, from, to time.Time) ([]domain.MLFeatureRow, error) {
	return r.collect(ctx, "ml-feature-repo.list-labeled",
		"SELECT "+selectFeatureRow+` FROM ml_feature_rows
WHERE interval = $1 AND open_time >= $2 AND open_time <= $3 AND target_return IS NOT NULL
ORDER BY open_time ASC`,
		interval, from.UTC(), to.UTC())
}

// ListLatestByInterval returns the newest row of every symbol.
func (r *Repository) ListLatestByInterval(ctx context.Context, interval string) ([]domain.MLFeatureRow, error) {
	return r.collect(ctx, "ml-feature-repo.list-latest",
		"SELECT DISTINCT ON (symbol) "+selectFeatureRow+` FROM ml_feature_rows
WHERE interval = $1
ORDER BY symbol, open_time DESC`,
		interval)
}

func (r *Repository) collect(ctx context.Context, spanName, query string, args ...any) ([]domain.MLFeatureRow, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scanFeatureRow)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

func scanFeatureRow(row pgx.CollectableRow) (domain.MLFeatureRow, error) {
	var (
		out    domain.MLFeatureRow
		target pgtype.Float8
	)
	err := row.Scan(
		&out.Symbol, &out.Interval, &out.OpenTime,
		&out.Ret1, &out.Ret4, &out.Ret12, &out.Ret24,
		&out.Volatility6, &out.Volatility24, &out.VolumeZ24,
		&out.RSI14, &out.MACDLine, &out.MACDSignal, &out.MACDHist,
		&out.BBPos, &out.BBWidth, &target,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return out, err
	}
	out.OpenTime = out.OpenTime.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	if target.Valid {
		v := target.Float64
		out.TargetReturn = &v
	}
	return out, nil
}
