package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockcast/internal/ml/common"
	"stockcast/internal/ml/inference"
	"stockcast/internal/ml/training"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"
)

type observerStub struct {
	mu   sync.Mutex
	runs map[string][]error
}

func (o *observerStub) ObserveRun(job string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = make(map[string][]error)
	}
	o.runs[job] = append(o.runs[job], err)
}

func (o *observerStub) count(job string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs[job])
}

type trainerStub struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *trainerStub) RunTraining(context.Context, time.Time) (*training.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &training.Result{Version: s.calls, Promoted: true}, nil
}

func (s *trainerStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type inferencerStub struct {
	mu         sync.Mutex
	refreshes  int
	inferences int
	inferErr   error
}

func (s *inferencerStub) RefreshFeatures(context.Context, time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return 5, nil
}

func (s *inferencerStub) RunInference(context.Context, time.Time) (*inference.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inferences++
	if s.inferErr != nil {
		return nil, s.inferErr
	}
	return &inference.RunResult{}, nil
}

func (s *inferencerStub) Inferences() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inferences
}

type resolverStub struct {
	mu    sync.Mutex
	calls int
}

func (s *resolverStub) ResolveOutcomes(context.Context, time.Time) (*inference.ResolveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &inference.ResolveResult{Due: 2, Resolved: 2}, nil
}

func (s *resolverStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestNextRunUTC(t *testing.T) {
	now := time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC)
	if got := nextRunUTC(now, 22); !got.Equal(time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected same-day run: %v", got)
	}
	if got := nextRunUTC(now, 21); !got.Equal(time.Date(2026, 3, 3, 21, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next-day run: %v", got)
	}
}

func TestNewMLTrainingJobClampsHour(t *testing.T) {
	j := NewMLTrainingJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), nil, &trainerStub{}, 30, false)
	if j.trainHour != 0 {
		t.Fatalf("expected hour 0, got %d", j.trainHour)
	}
}

func TestMLTrainingJobTrainsOnStart(t *testing.T) {
	stub := &trainerStub{}
	obs := &observerStub{}
	j := NewMLTrainingJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), obs, stub, 3, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Start(ctx)

	eventually(t, func() bool { return stub.Calls() == 1 })
	eventually(t, func() bool { return obs.count("ml_training") == 1 })
}

func TestMLTrainingJobRecordsFailure(t *testing.T) {
	obs := &observerStub{}
	j := NewMLTrainingJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), obs, &trainerStub{err: errors.New("boom")}, 3, false)
	j.runOnce(context.Background())
	if obs.count("ml_training") != 1 || obs.runs["ml_training"][0] == nil {
		t.Fatalf("expected one failed run, got %+v", obs.runs)
	}
}

func TestMLFeatureInferenceJobSkipsWithoutEnsemble(t *testing.T) {
	stub := &inferencerStub{inferErr: common.ErrNotFitted}
	obs := &observerStub{}
	j := NewMLFeatureInferenceJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), obs, stub, time.Hour)

	j.runOnce(context.Background())
	if stub.refreshes != 1 || stub.inferences != 1 {
		t.Fatalf("expected one refresh and one inference, got %d/%d", stub.refreshes, stub.inferences)
	}
	if obs.count("ml_feature_refresh") != 1 || obs.count("ml_inference") != 1 {
		t.Fatalf("unexpected observations: %+v", obs.runs)
	}
}

func TestMLFeatureInferenceJobStart(t *testing.T) {
	stub := &inferencerStub{}
	j := NewMLFeatureInferenceJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), nil, stub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Start(ctx)

	eventually(t, func() bool { return stub.Inferences() >= 2 })
}

func TestMLOutcomeResolverJobStart(t *testing.T) {
	stub := &resolverStub{}
	obs := &observerStub{}
	j := NewMLOutcomeResolverJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), obs, stub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Start(ctx)

	eventually(t, func() bool { return stub.Calls() >= 2 })
	if obs.count("ml_outcome_resolver") < 1 {
		t.Fatal("expected resolver runs to be observed")
	}
}

func TestDisabledJobWaitsForCancel(t *testing.T) {
	j := NewMLOutcomeResolverJob(noop.NewTracerProvider().Tracer("test"), zerolog.Nop(), nil, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled job did not return after cancel")
	}
}
