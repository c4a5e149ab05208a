package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "stockcast:ensemble"
	historyLength  = 100
	defaultChannel = "weights"
)

// WeightSnapshot is one published weight vector.
type WeightSnapshot struct {
	Mode           string             `json:"mode"`
	Version        int                `json:"version"`
	Weights        map[string]float64 `json:"weights"`
	Regime         string             `json:"regime,omitempty"`
	DiversityIndex *float64           `json:"diversity_index,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// WeightStore keeps the latest snapshot under one key, a capped history
// list, and announces every publish on a pub/sub channel.
type WeightStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type StoreOption func(*WeightStore)

func WithPrefix(p string) StoreOption {
	return func(s *WeightStore) { s.prefix = p }
}

// WithTTL expires the latest snapshot when no publish refreshes it.
func WithTTL(d time.Duration) StoreOption {
	return func(s *WeightStore) { s.ttl = d }
}

func NewWeightStore(client redis.UniversalClient, opts ...StoreOption) *WeightStore {
	s := &WeightStore{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WeightStore) latestKey() string  { return s.prefix + ":latest" }
func (s *WeightStore) historyKey() string { return s.prefix + ":history" }

// Channel is the pub/sub channel that receives every snapshot.
func (s *WeightStore) Channel() string { return s.prefix + ":" + defaultChannel }

func (s *WeightStore) Publish(ctx context.Context, snap WeightSnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode weight snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.latestKey(), payload, s.ttl)
		p.LPush(ctx, s.historyKey(), payload)
		p.LTrim(ctx, s.historyKey(), 0, historyLength-1)
		p.Publish(ctx, s.Channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish weight snapshot: %w", err)
	}
	return nil
}

// Latest returns the last published snapshot, or nil when none exists.
func (s *WeightStore) Latest(ctx context.Context) (*WeightSnapshot, error) {
	raw, err := s.client.Get(ctx, s.latestKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read weight snapshot: %w", err)
	}
	var snap WeightSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode weight snapshot: %w", err)
	}
	return &snap, nil
}

// History returns up to n snapshots, newest first.
func (s *WeightStore) History(ctx context.Context, n int) ([]WeightSnapshot, error) {
	if n <= 0 || n > historyLength {
		n = historyLength
	}
	raws, err := s.client.LRange(ctx, s.historyKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read weight history: %w", err)
	}
	out := make([]WeightSnapshot, 0, len(raws))
	for _, raw := range raws {
		var snap WeightSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode weight history: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}
