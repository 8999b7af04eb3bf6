package strategy

import (
	"errors"

	"invest-sim-lab/internal/domain"
)

// Factory errors
var (
	ErrUnknownStrategy   = errors.New("unknown strategy slug")
	ErrMissingEquity     = errors.New("strategy requires a positive starting equity")
	ErrInvalidSMAPeriods = errors.New("sma-cross requires 0 < fast < slow")
)

// Profile slugs selectable at session creation.
const (
	SlugSMACross     = "sma-cross"
	SlugSMACrossFast = "sma-cross-fast"
	SlugStub         = "stub"
)

// FromSlug creates a fresh Engine for a profile slug.
// Validates required config per profile and returns clear errors for
// missing/invalid params. Every call returns an independent instance.
func FromSlug(slug string, cfg domain.SessionConfig) (Engine, error) {
	switch slug {
	case SlugSMACross:
		return fromSMAConfig(5, 20, cfg)
	case SlugSMACrossFast:
		return fromSMAConfig(3, 8, cfg)
	case SlugStub:
		return NewStub(cfg.StartingEquityMinor), nil
	default:
		return nil, ErrUnknownStrategy
	}
}

func fromSMAConfig(fast, slow int, cfg domain.SessionConfig) (*SMACross, error) {
	if cfg.StartingEquityMinor <= 0 {
		return nil, ErrMissingEquity
	}

	s, err := NewSMACross(fast, slow, cfg.StartingEquityMinor, cfg.OracleExit)
	if err != nil {
		return nil, ErrInvalidSMAPeriods
	}
	return s, nil
}
