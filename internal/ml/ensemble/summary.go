package ensemble

import (
	"errors"

	"stockcast/internal/ml/common"
	"stockcast/internal/ml/models/linear"
)

// Summary is a read-only view of a fitted ensemble for publishing.
// Weights hold the weight vector for weighted modes and the meta-model
// coefficients for stacking.
type Summary struct {
	Mode           Mode               `json:"mode"`
	Models         []string           `json:"models"`
	Weights        map[string]float64 `json:"weights"`
	Regime         string             `json:"regime,omitempty"`
	DiversityIndex *float64           `json:"diversity_index,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
}

// Describe summarises ens. It returns ErrNotFitted before Fit.
func Describe(ens Ensemble) (Summary, error) {
	s := Summary{Mode: ens.Mode()}
	switch e := ens.(type) {
	case *Stacking:
		st := e.state.Load()
		if st == nil {
			return s, common.ErrNotFitted
		}
		s.Models = append([]string(nil), st.ids...)
		s.Weights = make(map[string]float64, len(st.ids))
		if r, ok := st.meta.(*linear.Ridge); ok {
			for j, c := range r.Coefficients() {
				s.Weights[st.ids[j]] = c
			}
		}
		if st.matrix != nil {
			s.Warnings = append([]string(nil), st.matrix.Warnings...)
		}
		return s, nil
	case Weighted:
		w, err := e.Weights()
		if err != nil {
			return s, err
		}
		s.Models = w.IDs()
		s.Weights = w.Map()
		if d, ok := e.(*Dynamic); ok {
			s.Regime = d.Regime()
		}
		if d, ok := e.(*Diversity); ok {
			if idx, err := d.DiversityIndex(); err == nil {
				s.DiversityIndex = &idx
			}
		}
		return s, nil
	default:
		return s, errors.New("unsupported ensemble type")
	}
}
