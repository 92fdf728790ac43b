// Package matcher pairs invoices with trip-sheets.
//
// Matching runs in two deterministic phases:
//  1. Tolerance matching. Invoices are visited once each, largest amount
//     first, and take the closest still-unmatched trip-sheet whose total is
//     within the tolerance. A same-city candidate beats a cross-city one;
//     city never excludes a candidate.
//  2. Forced pairing. When both sides still have leftovers, they are ordered
//     by source identifier and paired positionally. Forced pairs keep their
//     real amount difference so reviewers can audit them.
//
// Everything that is not paired comes back in the leftover pools, so every
// input record is accounted for.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.Tolerance = decimal.RequireFromString("0.50")
//
//	engine, err := matcher.NewEngine(config)
//	result, err := engine.Reconcile(invoices, tripSheets)
package matcher

import (
	"strings"

	"github.com/shopspring/decimal"

	"expense-reconciler/pkg/errors"
)

// MatchPhase records which phase produced a match
type MatchPhase int

const (
	// PhaseTolerance is a match within the amount tolerance
	PhaseTolerance MatchPhase = iota

	// PhaseForced is a positional fallback pairing, regardless of amount
	PhaseForced
)

// String returns the string representation of MatchPhase
func (p MatchPhase) String() string {
	switch p {
	case PhaseTolerance:
		return "tolerance"
	case PhaseForced:
		return "forced"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON and other text encodings
func (p MatchPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// MatchingConfig holds the tunables of the matching engine
type MatchingConfig struct {
	// Tolerance is the largest absolute difference, in currency units,
	// between an invoice and a trip-sheet total that still counts as a match.
	Tolerance decimal.Decimal `json:"tolerance"`

	// EnableForcedPairing turns on the positional fallback phase.
	EnableForcedPairing bool `json:"enable_forced_pairing"`

	// NormalizeCities compares cities after trimming, case folding and
	// dropping a trailing "市" or "City". When false, cities must be equal
	// byte for byte.
	NormalizeCities bool `json:"normalize_cities"`
}

// DefaultMatchingConfig returns the default matching configuration
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		Tolerance:           decimal.RequireFromString("0.50"),
		EnableForcedPairing: true,
		NormalizeCities:     true,
	}
}

// Validate checks the configuration. A negative tolerance is the only
// condition under which matching refuses to run.
func (c *MatchingConfig) Validate() error {
	if c.Tolerance.IsNegative() {
		return errors.ConfigurationError(
			errors.CodeNegativeTolerance,
			"tolerance",
			c.Tolerance.String(),
			nil,
		)
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *MatchingConfig) Clone() *MatchingConfig {
	clone := *c
	return &clone
}

// NormalizeCity folds a free-text city into a comparison key. A trailing
// "City" is dropped only as a separate word, so "Velocity" stays intact.
func NormalizeCity(city string) string {
	key := strings.ToLower(strings.TrimSpace(city))
	for _, sep := range []string{" ", "-", "_"} {
		if trimmed, ok := strings.CutSuffix(key, sep+"city"); ok && strings.TrimSpace(trimmed) != "" {
			key = trimmed
			break
		}
	}
	key = strings.TrimSuffix(strings.TrimSpace(key), "市")
	return strings.TrimSpace(key)
}

func (c *MatchingConfig) cityKey(city string) string {
	if c.NormalizeCities {
		return NormalizeCity(city)
	}
	return city
}
