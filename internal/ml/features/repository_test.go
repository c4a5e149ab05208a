package features

import (
	"context"
	"testing"
	"time"

	"stockcast/internal/domain"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

var featureColumns = []string{
	"symbol", "interval", "open_time",
	"ret_1", "ret_4", "ret_12", "ret_24",
	"volatility_6", "volatility_24", "volume_z_24",
	"rsi_14", "macd_line", "macd_signal", "macd_hist",
	"bb_pos", "bb_width", "target_return", "created_at", "updated_at",
}

func newMockRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock, noop.NewTracerProvider().Tracer("test")), mock
}

func TestRepositoryUpsertRows(t *testing.T) {
	repo, mock := newMockRepository(t)
	at := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	target := 0.012
	rows := []domain.MLFeatureRow{
		{Symbol: "AAPL", Interval: "1h", OpenTime: at, Ret1: 0.001, TargetReturn: &target},
		{Symbol: "MSFT", Interval: "1h", OpenTime: at},
	}

	eb := mock.ExpectBatch()
	for _, row := range rows {
		eb.ExpectExec("INSERT INTO ml_feature_rows").
			WithArgs(row.Symbol, row.Interval, at,
				row.Ret1, row.Ret4, row.Ret12, row.Ret24,
				row.Volatility6, row.Volatility24, row.VolumeZ24,
				row.RSI14, row.MACDLine, row.MACDSignal, row.MACDHist,
				row.BBPos, row.BBWidth, row.TargetReturn).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, repo.UpsertRows(context.Background(), rows))
	require.NoError(t, repo.UpsertRows(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpsertRowsError(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBatch().ExpectExec("INSERT INTO ml_feature_rows").WillReturnError(assert.AnError)

	err := repo.UpsertRows(context.Background(), []domain.MLFeatureRow{{Symbol: "AAPL", Interval: "1h"}})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRepositoryListLabeledRows(t *testing.T) {
	repo, mock := newMockRepository(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	at := from.Add(time.Hour)

	mock.ExpectQuery("SELECT symbol, interval, open_time").
		WithArgs("1h", from, to).
		WillReturnRows(pgxmock.NewRows(featureColumns).
			AddRow("AAPL", "1h", at, 0.01, 0.02, 0.03, 0.04, 0.1, 0.2, 1.5, 55.0, 0.3, 0.2, 0.1, 0.6, 0.05, 0.015, at, at).
			AddRow("MSFT", "1h", at, 0.01, 0.02, 0.03, 0.04, 0.1, 0.2, 1.5, 55.0, 0.3, 0.2, 0.1, 0.6, 0.05, nil, at, at))

	rows, err := repo.ListLabeledRows(context.Background(), "1h", from, to)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].TargetReturn)
	assert.Equal(t, 0.015, *rows[0].TargetReturn)
	assert.Nil(t, rows[1].TargetReturn)
	assert.Equal(t, 55.0, rows[0].RSI14)
	assert.Equal(t, at, rows[0].OpenTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListLatestByInterval(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT DISTINCT ON \\(symbol\\)").
		WithArgs("1d").
		WillReturnError(assert.AnError)

	_, err := repo.ListLatestByInterval(context.Background(), "1d")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
