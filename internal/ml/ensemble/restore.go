package ensemble

import (
	"errors"
	"math"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
)

// Fitted is a trained ensemble reassembled from stored artifacts. IDs and
// Models are aligned. Weights, when set, are aligned with IDs too; Meta is
// required for stacking and ignored otherwise.
type Fitted struct {
	IDs     []string
	Models  []base.Model
	Weights []float64
	Meta    base.Model
}

type restorer interface {
	restore(f Fitted) error
}

// Restore installs previously fitted models into ens without training.
// Rolling error histories start empty.
func Restore(ens Ensemble, f Fitted) error {
	if len(f.IDs) == 0 || len(f.IDs) != len(f.Models) {
		return &common.DimensionMismatchError{ModelID: "restore", Want: len(f.IDs), Got: len(f.Models)}
	}
	for j, m := range f.Models {
		if m == nil {
			return common.NewConfigurationError("models", "no fitted model for %q", f.IDs[j])
		}
	}
	r, ok := ens.(restorer)
	if !ok {
		return errors.New("ensemble does not support restore")
	}
	return r.restore(f)
}

func (s *Stacking) restore(f Fitted) error {
	if f.Meta == nil {
		return common.NewConfigurationError("meta_model", "stacking restore needs a meta-model")
	}
	s.fitMu.Lock()
	defer s.fitMu.Unlock()
	s.state.Store(&stackingState{
		ids:        append([]string(nil), f.IDs...),
		production: append([]base.Model(nil), f.Models...),
		meta:       f.Meta,
	})
	s.log.Info().Int("models", len(f.IDs)).Msg("stacking ensemble restored")
	return nil
}

func (w *weighted) restore(f Fitted) error {
	weights := UniformWeights(f.IDs)
	if f.Weights != nil {
		if len(f.Weights) != len(f.IDs) {
			return &common.DimensionMismatchError{ModelID: "weights", Want: len(f.IDs), Got: len(f.Weights)}
		}
		for _, v := range f.Weights {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return common.NewConfigurationError("weights", "invalid stored weight %g", v)
			}
		}
		weights = NewWeightVector(f.IDs, normalize(f.Weights))
	}

	st := &weightedState{
		ids:       append([]string(nil), f.IDs...),
		models:    append([]base.Model(nil), f.Models...),
		weights:   weights,
		histories: make(map[string]*History, len(f.IDs)),
	}
	for j, id := range st.ids {
		st.histories[id] = w.seedHistory(st.models[j])
	}

	w.mu.Lock()
	w.state.Store(st)
	w.mu.Unlock()
	w.publish(st)
	w.log.Info().Int("models", len(st.ids)).Msg("weighted ensemble restored")
	return nil
}

// seedHistory starts a model's error history the way Fit does for the mode.
func (w *weighted) seedHistory(m base.Model) *History {
	if w.mode != ModeConfidence {
		return NewHistory(w.cfg.RollingWindow)
	}
	h := NewHistory(w.cfg.ValidationWindow)
	if vh, ok := m.(base.ValidationHistorian); ok {
		for _, loss := range vh.ValidationHistory() {
			h.Push(loss)
		}
	}
	return h
}
