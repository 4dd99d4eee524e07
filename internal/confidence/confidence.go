// Package confidence maps retrieval distance to a bounded, tiered confidence
// score. The tier table is a Policy so operators can tune the boundaries while
// the score stays monotone in distance and inside [Floor, Ceiling].
package confidence

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/54b3r/rfpai-go/internal/rag"
)

// Tier maps similarities in [MinSimilarity, next tier's MinSimilarity) linearly
// onto [Low, High).
type Tier struct {
	MinSimilarity float64
	Low           float64
	High          float64
}

// Policy is an ordered tier table, highest MinSimilarity first. The last tier
// must start at 0.
type Policy struct {
	tiers []Tier
}

// DefaultPolicy is the built-in tier table.
var DefaultPolicy = mustPolicy([]Tier{
	{MinSimilarity: 0.8, Low: 0.85, High: 0.95},
	{MinSimilarity: 0.6, Low: 0.70, High: 0.85},
	{MinSimilarity: 0.4, Low: 0.55, High: 0.70},
	{MinSimilarity: 0.0, Low: 0.40, High: 0.55},
})

func mustPolicy(tiers []Tier) *Policy {
	p, err := NewPolicy(tiers)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy validates tiers and returns a Policy. Tiers may be given in any
// order. Validation enforces what keeps scores monotone: ranges lie in [0, 1],
// each tier's Low is at least the High of the tier below it, and the bottom
// tier starts at similarity 0.
func NewPolicy(tiers []Tier) (*Policy, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("confidence: policy needs at least one tier")
	}
	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b Tier) int {
		switch {
		case a.MinSimilarity > b.MinSimilarity:
			return -1
		case a.MinSimilarity < b.MinSimilarity:
			return 1
		}
		return 0
	})

	for i, t := range sorted {
		if t.MinSimilarity < 0 || t.MinSimilarity >= 1 {
			return nil, fmt.Errorf("confidence: tier %d: min similarity %v outside [0, 1)", i, t.MinSimilarity)
		}
		if t.Low < 0 || t.High > 1 || t.Low > t.High {
			return nil, fmt.Errorf("confidence: tier %d: invalid range [%v, %v]", i, t.Low, t.High)
		}
		if i > 0 {
			if sorted[i-1].MinSimilarity == t.MinSimilarity {
				return nil, fmt.Errorf("confidence: duplicate tier at similarity %v", t.MinSimilarity)
			}
			if t.High > sorted[i-1].Low {
				return nil, fmt.Errorf("confidence: tier at %v overlaps the tier above it", t.MinSimilarity)
			}
		}
	}
	if sorted[len(sorted)-1].MinSimilarity != 0 {
		return nil, fmt.Errorf("confidence: lowest tier must start at similarity 0")
	}
	return &Policy{tiers: sorted}, nil
}

// ParsePolicy parses a tier table of the form "min:low:high,min:low:high,...",
// e.g. "0.8:0.85:0.95,0.6:0.70:0.85,0.4:0.55:0.70,0:0.40:0.55". An empty
// string yields DefaultPolicy.
func ParsePolicy(s string) (*Policy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPolicy, nil
	}
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("confidence: tier %q: want min:low:high", part)
		}
		var vals [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("confidence: tier %q: %w", part, err)
			}
			vals[i] = v
		}
		tiers = append(tiers, Tier{MinSimilarity: vals[0], Low: vals[1], High: vals[2]})
	}
	return NewPolicy(tiers)
}

// Floor is the score for similarity 0 and for an empty retrieval.
func (p *Policy) Floor() float64 { return p.tiers[len(p.tiers)-1].Low }

// Ceiling is the score for similarity 1.
func (p *Policy) Ceiling() float64 { return p.tiers[0].High }

// Tiers returns a copy of the tier table, highest first.
func (p *Policy) Tiers() []Tier { return slices.Clone(p.tiers) }

// FromSimilarity maps a similarity in [0, 1] to a confidence, rounded to two
// decimals. Inputs outside [0, 1] are clamped.
func (p *Policy) FromSimilarity(s float64) float64 {
	s = math.Max(0, math.Min(1, s))
	upper := 1.0
	for _, t := range p.tiers {
		if s >= t.MinSimilarity {
			frac := (s - t.MinSimilarity) / (upper - t.MinSimilarity)
			return round2(t.Low + frac*(t.High-t.Low))
		}
		upper = t.MinSimilarity
	}
	return round2(p.Floor())
}

// FromDistance maps a cosine distance in [0, 2] to a confidence.
func (p *Policy) FromDistance(d float64) float64 {
	return p.FromSimilarity(rag.SimilarityFromDistance(d))
}

// Score returns the confidence of a retrieval result, driven by the top-1
// match. An empty result yields the floor with noContext set.
func (p *Policy) Score(matches []rag.Match) (score float64, noContext bool) {
	if len(matches) == 0 {
		return round2(p.Floor()), true
	}
	return p.FromDistance(matches[0].Distance), false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
