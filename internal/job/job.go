// Package job runs the ML services on schedules until the context ends.
package job

import (
	"context"
	"errors"
	"time"

	"stockcast/internal/ml/common"
)

// RunObserver records the outcome of every scheduled run.
type RunObserver interface {
	ObserveRun(job string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, error) {}

func observerOrNop(o RunObserver) RunObserver {
	if o == nil {
		return nopObserver{}
	}
	return o
}

// pollLoop runs fn immediately and then every interval.
func pollLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// skippable reports errors that mean there is nothing to do yet.
func skippable(err error) bool {
	return errors.Is(err, common.ErrNotFitted) || common.IsInsufficientData(err)
}
