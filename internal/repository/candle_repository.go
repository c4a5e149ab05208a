// Package repository stores OHLCV candles in Postgres.
package repository

import (
	"context"
	"fmt"
	"time"

	"stockcast/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type PgxPool interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type CandleRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewCandleRepository(pool PgxPool, tracer trace.Tracer) *CandleRepository {
	return &CandleRepository{pool: pool, tracer: tracer}
}

const (
	upsertCandle = `
INSERT INTO candles (symbol, interval, open_time, open, high, low, close, volume)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
    open = EXCLUDED.open,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    close = EXCLUDED.close,
    volume = EXCLUDED.volume`

	// Column order matches the fields of domain.Candle.
	selectCandles = `SELECT symbol, interval, open_time, open, high, low, close, volume FROM candles `
)

// UpsertCandles writes candles in one batch round trip.
func (r *CandleRepository) UpsertCandles(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "candle-repo.upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("candles", len(candles)))

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(upsertCandle, c.Symbol, c.Interval, c.OpenTime.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, c := range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert %s %s bar at %s: %w", c.Symbol, c.Interval, c.OpenTime.UTC().Format(time.RFC3339), err)
		}
	}
	return nil
}

// GetCandles returns the newest limit candles, newest first.
func (r *CandleRepository) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	return r.collect(ctx, "candle-repo.latest",
		`WHERE symbol = $1 AND interval = $2 ORDER BY open_time DESC LIMIT $3`,
		symbol, interval, limit)
}

// GetCandlesInRange returns candles with open_time in [from, to], newest first.
func (r *CandleRepository) GetCandlesInRange(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Candle, error) {
	return r.collect(ctx, "candle-repo.range",
		`WHERE symbol = $1 AND interval = $2 AND open_time >= $3 AND open_time <= $4 ORDER BY open_time DESC`,
		symbol, interval, from.UTC(), to.UTC())
}

func (r *CandleRepository) collect(ctx context.Context, spanName, clause string, args ...any) ([]*domain.Candle, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	rows, err := r.pool.Query(ctx, selectCandles+clause, args...)
	if err != nil {
		return nil, err
	}
	candles, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[domain.Candle])
	if err != nil {
		return nil, err
	}
	for _, c := range candles {
		c.OpenTime = c.OpenTime.UTC()
	}
	span.SetAttributes(attribute.Int("candles", len(candles)))
	return candles, nil
}
