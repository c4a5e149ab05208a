package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stockcast/internal/domain"
)

type candleStub struct {
	err      error
	interval string
	stored   []*domain.Candle
}

func (s *candleStub) UpsertCandles(_ context.Context, candles []*domain.Candle) error {
	s.stored = append(s.stored, candles...)
	return s.err
}

func (s *candleStub) GetCandles(_ context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	s.interval = interval
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*domain.Candle, limit)
	for i := range out {
		out[i] = &domain.Candle{Symbol: symbol, Interval: interval, OpenTime: time.Unix(int64(i)*3600, 0).UTC(), Close: 100}
	}
	return out, nil
}

func TestGetCandles(t *testing.T) {
	store := &candleStub{}
	h := newTestHandler()
	h.SetCandleStore(store)
	r := newTestRouter(h)

	w := serve(r, http.MethodGet, "/api/candles/msft?interval=1d&limit=3")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if store.interval != "1d" {
		t.Fatalf("expected interval 1d, got %q", store.interval)
	}

	if w := serve(r, http.MethodGet, "/api/candles/MSFT?interval=5m"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad interval, got %d", w.Code)
	}
}

func TestGetCandlesStoreError(t *testing.T) {
	h := newTestHandler()
	h.SetCandleStore(&candleStub{err: errors.New("db down")})

	w := serve(newTestRouter(h), http.MethodGet, "/api/candles/AAPL")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func postJSON(h *Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	newTestRouter(h).ServeHTTP(w, req)
	return w
}

func TestImportCandles(t *testing.T) {
	store := &candleStub{}
	h := newTestHandler()
	h.SetCandleStore(store)

	w := postJSON(h, "/api/candles", `{"candles":[
		{"symbol":"aapl","interval":"1h","open_time":"2026-03-02T14:00:00Z","open":10,"high":11,"low":9.5,"close":10.5,"volume":1000}
	]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.stored) != 1 || store.stored[0].Symbol != "AAPL" {
		t.Fatalf("unexpected stored candles: %+v", store.stored)
	}
}

func TestImportCandlesRejectsInvalidBars(t *testing.T) {
	cases := map[string]string{
		"empty":          `{"candles":[]}`,
		"high below low": `{"candles":[{"symbol":"AAPL","interval":"1h","open_time":"2026-03-02T14:00:00Z","open":10,"high":9,"low":9.5,"close":10,"volume":1}]}`,
		"bad interval":   `{"candles":[{"symbol":"AAPL","interval":"5m","open_time":"2026-03-02T14:00:00Z","open":10,"high":11,"low":9.5,"close":10,"volume":1}]}`,
		"bad symbol":     `{"candles":[{"symbol":"$$","interval":"1h","open_time":"2026-03-02T14:00:00Z","open":10,"high":11,"low":9.5,"close":10,"volume":1}]}`,
	}
	for name, body := range cases {
		store := &candleStub{}
		h := newTestHandler()
		h.SetCandleStore(store)
		if w := postJSON(h, "/api/candles", body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, w.Code)
		}
		if len(store.stored) != 0 {
			t.Fatalf("%s: nothing should be stored", name)
		}
	}
}
