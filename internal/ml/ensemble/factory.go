package ensemble

import (
	"sync/atomic"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
)

// New builds the ensemble named by cfg.Mode.
func New(cfg Config, specs []base.Spec, opts ...Option) (Ensemble, error) {
	switch cfg.Mode {
	case ModeStacking:
		return NewStacking(cfg, specs, opts...)
	case ModeDynamic:
		return NewDynamic(cfg, specs, opts...)
	case ModeDiversity:
		return NewDiversity(cfg, specs, opts...)
	case ModeConfidence:
		return NewConfidence(cfg, specs, opts...)
	default:
		return nil, common.NewConfigurationError("ensemble_mode", "unknown mode %q", cfg.Mode)
	}
}

// Factory returns a constructor producing fresh, unfitted ensembles.
func Factory(cfg Config, specs []base.Spec, opts ...Option) func() (Ensemble, error) {
	specs = copySpecs(specs)
	return func() (Ensemble, error) { return New(cfg, specs, opts...) }
}

// Holder publishes the currently served ensemble to concurrent readers.
type Holder struct {
	current atomic.Pointer[holderEntry]
}

type holderEntry struct {
	ens     Ensemble
	version int
}

func (h *Holder) Store(ens Ensemble, version int) {
	h.current.Store(&holderEntry{ens: ens, version: version})
}

// Load returns the served ensemble and its registry version, or nil.
func (h *Holder) Load() (Ensemble, int) {
	e := h.current.Load()
	if e == nil {
		return nil, 0
	}
	return e.ens, e.version
}
