package types

import (
	"sort"
	"time"
)

// Freshness says how trustworthy a fact is. Ordering is live < cached < stale < fallback.
type Freshness string

const (
	FreshnessLive     Freshness = "live"
	FreshnessCached   Freshness = "cached"
	FreshnessStale    Freshness = "stale"
	FreshnessFallback Freshness = "fallback"
)

// Rank orders freshness values; unknown values rank as fallback
func (f Freshness) Rank() int {
	switch f {
	case FreshnessLive:
		return 0
	case FreshnessCached:
		return 1
	case FreshnessStale:
		return 2
	default:
		return 3
	}
}

// Worst returns the least trustworthy of the given values, live for none
func Worst(values ...Freshness) Freshness {
	worst := FreshnessLive
	for _, f := range values {
		if f.Rank() > worst.Rank() {
			worst = f
		}
	}
	return worst
}

// Provenance travels with every fact the engine consumes
type Provenance struct {
	Source     string        `json:"source"`
	Freshness  Freshness     `json:"freshness"`
	Age        time.Duration `json:"age"`
	IsFallback bool          `json:"is_fallback"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// Fact is a value plus where it came from
type Fact[T any] struct {
	Value T `json:"value"`
	Provenance
}

// FallbackValue is a hardcoded last-resort value. It can never be mistaken
// for a live one: it has no source and always reports IsFallback.
type FallbackValue[T any] struct {
	Value  T      `json:"value"`
	Reason string `json:"reason"`
}

// IsFallback is always true
func (FallbackValue[T]) IsFallback() bool { return true }

// Fact converts the fallback into a fact tagged fallback
func (f FallbackValue[T]) Fact(warning string) Fact[T] {
	return Fact[T]{
		Value: f.Value,
		Provenance: Provenance{
			Source:     "fallback:" + f.Reason,
			Freshness:  FreshnessFallback,
			IsFallback: true,
			Warnings:   []string{warning},
		},
	}
}

// ProvenanceSet accumulates provenance across the facts of one computation
type ProvenanceSet struct {
	freshness []Freshness
	sources   map[string]struct{}
	warnings  []string
	seenWarn  map[string]struct{}
	fallback  bool
}

// NewProvenanceSet creates an empty set
func NewProvenanceSet() *ProvenanceSet {
	return &ProvenanceSet{
		sources:  make(map[string]struct{}),
		seenWarn: make(map[string]struct{}),
	}
}

// Add records one fact's provenance
func (s *ProvenanceSet) Add(p Provenance) {
	s.freshness = append(s.freshness, p.Freshness)
	if p.Source != "" {
		s.sources[p.Source] = struct{}{}
	}
	if p.IsFallback {
		s.fallback = true
	}
	for _, w := range p.Warnings {
		s.Warn(w)
	}
}

// Warn records a warning once
func (s *ProvenanceSet) Warn(w string) {
	if _, ok := s.seenWarn[w]; ok {
		return
	}
	s.seenWarn[w] = struct{}{}
	s.warnings = append(s.warnings, w)
}

// Freshness is the worst freshness seen
func (s *ProvenanceSet) Freshness() Freshness {
	return Worst(s.freshness...)
}

// Sources returns the sorted unique source names
func (s *ProvenanceSet) Sources() []string {
	out := make([]string, 0, len(s.sources))
	for src := range s.sources {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// Warnings returns warnings in insertion order
func (s *ProvenanceSet) Warnings() []string {
	return append([]string(nil), s.warnings...)
}

// UsedFallback reports whether any fact was a hardcoded fallback
func (s *ProvenanceSet) UsedFallback() bool {
	return s.fallback
}
