// Package folds generates leakage-free train/test index ranges over a
// time-ordered dataset.
package folds

import (
	"iter"
	"slices"

	"stockcast/internal/ml/common"
)

type Mode string

const (
	Expanding Mode = "expanding"
	Sliding   Mode = "sliding"
)

// Config selects the split mode. Zero TestSize or MinTrainSize in expanding
// mode are derived from the dataset length. NFolds caps the fold count;
// in sliding mode 0 means unbounded.
type Config struct {
	Mode         Mode
	NFolds       int
	Gap          int
	TrainSize    int
	TestSize     int
	Step         int
	MinTrainSize int
}

// Fold holds half-open index ranges [TrainStart, TrainEnd) and
// [TestStart, TestEnd).
type Fold struct {
	Index      int
	TrainStart int
	TrainEnd   int
	TestStart  int
	TestEnd    int
}

func (f Fold) TrainLen() int { return f.TrainEnd - f.TrainStart }
func (f Fold) TestLen() int  { return f.TestEnd - f.TestStart }

// Respects reports whether at least gap rows separate train and test.
func (f Fold) Respects(gap int) bool {
	return f.TestStart > (f.TrainEnd-1)+gap
}

func (c Config) Validate() error {
	if c.Gap < 0 {
		return common.NewConfigurationError("gap", "must be >= 0, got %d", c.Gap)
	}
	if c.NFolds < 0 {
		return common.NewConfigurationError("n_folds", "must be >= 0, got %d", c.NFolds)
	}
	switch c.Mode {
	case Expanding, "":
		if c.NFolds == 0 {
			return common.NewConfigurationError("n_folds", "must be > 0 in expanding mode")
		}
		if c.TestSize < 0 {
			return common.NewConfigurationError("test_size", "must be > 0, got %d", c.TestSize)
		}
		if c.MinTrainSize < 0 {
			return common.NewConfigurationError("min_train_size", "must be > 0, got %d", c.MinTrainSize)
		}
	case Sliding:
		if c.TrainSize <= 0 {
			return common.NewConfigurationError("train_size", "must be > 0, got %d", c.TrainSize)
		}
		if c.TestSize <= 0 {
			return common.NewConfigurationError("test_size", "must be > 0, got %d", c.TestSize)
		}
		if c.Step <= 0 {
			return common.NewConfigurationError("step", "must be > 0, got %d", c.Step)
		}
	default:
		return common.NewConfigurationError("mode", "unknown splitter mode %q", c.Mode)
	}
	return nil
}

// Generate returns a lazy, re-iterable fold sequence for a dataset of n rows.
// When no fold fits the sequence is empty.
func Generate(n int, cfg Config) (iter.Seq[Fold], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == Sliding {
		return sliding(n, cfg), nil
	}
	return expanding(n, cfg), nil
}

// Collect materialises Generate.
func Collect(n int, cfg Config) ([]Fold, error) {
	seq, err := Generate(n, cfg)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

func expanding(n int, cfg Config) iter.Seq[Fold] {
	minTrain := cfg.MinTrainSize
	if minTrain == 0 {
		minTrain = max(1, n/10)
	}
	test := cfg.TestSize
	if test == 0 {
		test = (n - cfg.Gap - minTrain) / cfg.NFolds
	}
	return func(yield func(Fold) bool) {
		if test <= 0 {
			return
		}
		for k := 0; k < cfg.NFolds; k++ {
			trainEnd := minTrain + k*test
			testStart := trainEnd + cfg.Gap
			testEnd := testStart + test
			if testEnd > n {
				return
			}
			if !yield(Fold{Index: k, TrainStart: 0, TrainEnd: trainEnd, TestStart: testStart, TestEnd: testEnd}) {
				return
			}
		}
	}
}

func sliding(n int, cfg Config) iter.Seq[Fold] {
	return func(yield func(Fold) bool) {
		for k, start := 0, 0; cfg.NFolds == 0 || k < cfg.NFolds; k, start = k+1, start+cfg.Step {
			trainEnd := start + cfg.TrainSize
			testStart := trainEnd + cfg.Gap
			testEnd := testStart + cfg.TestSize
			if testEnd > n {
				return
			}
			if !yield(Fold{Index: k, TrainStart: start, TrainEnd: trainEnd, TestStart: testStart, TestEnd: testEnd}) {
				return
			}
		}
	}
}
