package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/prophit/market-tracker/internal/model"
)

// OutcomeStrategy extracts outcome/price pairs from a raw record. A strategy
// that cannot handle the record returns false and the next one is tried.
type OutcomeStrategy interface {
	Name() string
	Extract(raw RawMarket, rng Rand) ([]model.OutcomePrice, bool)
}

// DefaultStrategies returns the extraction chain in order of preference.
// Generic Yes/No name lists yield to names found in the title.
func DefaultStrategies() []OutcomeStrategy {
	return []OutcomeStrategy{
		ExplicitOutcomes{},
		NamedOutcomes{SkipGenericBinary: true},
		TitleOutcomes{},
		NamedOutcomes{},
		DefaultBinary{},
	}
}

// ExplicitOutcomes uses an upstream outcome list carrying prices.
type ExplicitOutcomes struct{}

func (ExplicitOutcomes) Name() string { return "explicit" }

func (ExplicitOutcomes) Extract(raw RawMarket, rng Rand) ([]model.OutcomePrice, bool) {
	if len(raw.Explicit) == 0 {
		return nil, false
	}
	out := make([]model.OutcomePrice, 0, len(raw.Explicit))
	for _, o := range raw.Explicit {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			name = "Unknown"
		}
		var price float64
		if o.Price != nil {
			price = clamp(*o.Price, 0, 1)
		} else {
			// upstream omitted both price and last trade price
			price = 0.2 + rng.Float64()*0.6
		}
		out = append(out, model.OutcomePrice{Outcome: name, Price: price})
	}
	return out, true
}

// NamedOutcomes parses a JSON-encoded array of outcome names and synthesizes
// a price distribution for them.
type NamedOutcomes struct {
	// SkipGenericBinary declines plain ["Yes","No"] lists so later
	// strategies can find more descriptive names.
	SkipGenericBinary bool
}

func (s NamedOutcomes) Name() string {
	if s.SkipGenericBinary {
		return "named"
	}
	return "named-any"
}

func (s NamedOutcomes) Extract(raw RawMarket, rng Rand) ([]model.OutcomePrice, bool) {
	if strings.TrimSpace(raw.OutcomeNames) == "" {
		return nil, false
	}
	var names []string
	if err := json.Unmarshal([]byte(raw.OutcomeNames), &names); err != nil || len(names) == 0 {
		return nil, false
	}
	if s.SkipGenericBinary && isGenericBinary(names) {
		return nil, false
	}
	return Synthesize(names, rng), true
}

func isGenericBinary(names []string) bool {
	return len(names) == 2 && strings.EqualFold(names[0], "yes") && strings.EqualFold(names[1], "no")
}

var (
	versusPattern    = regexp.MustCompile(`(?i)(\w+(?:\s+\w+)*)\s+vs\.?\s+(\w+(?:\s+\w+)*)`)
	candidatePattern = regexp.MustCompile(`(?i)(\w+(?:\s+\w+)*)\s+(?:vs\.?\s+|or\s+)(\w+(?:\s+\w+)*)`)
)

// TitleOutcomes pulls two outcome names out of head-to-head or election
// phrasing in the title ("X vs Y", "... winner: X or Y").
type TitleOutcomes struct{}

func (TitleOutcomes) Name() string { return "title" }

func (TitleOutcomes) Extract(raw RawMarket, rng Rand) ([]model.OutcomePrice, bool) {
	a, b, ok := OutcomesFromTitle(raw.Title)
	if !ok {
		return nil, false
	}
	return Synthesize([]string{a, b}, rng), true
}

// OutcomesFromTitle returns the two sides named in a title, if any.
func OutcomesFromTitle(title string) (string, string, bool) {
	if m := versusPattern.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
	}
	lower := strings.ToLower(title)
	if strings.Contains(lower, "election") || strings.Contains(lower, "winner") {
		if m := candidatePattern.FindStringSubmatch(title); m != nil {
			return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
		}
	}
	return "", "", false
}

// DefaultBinary is the last resort: a Yes/No market with synthesized prices.
type DefaultBinary struct{}

func (DefaultBinary) Name() string { return "default" }

func (DefaultBinary) Extract(_ RawMarket, rng Rand) ([]model.OutcomePrice, bool) {
	return Synthesize([]string{"Yes", "No"}, rng), true
}

// Synthesize assigns placeholder prices to outcome names. The first outcome
// draws from [0.3, 0.7); each later one gets 1 minus the running sum,
// clamped to [0.01, 0.99]. This approximates a distribution when upstream
// gives names but no prices; it is not a market-accurate computation.
func Synthesize(names []string, rng Rand) []model.OutcomePrice {
	out := make([]model.OutcomePrice, 0, len(names))
	sum := 0.0
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "Option " + strconv.Itoa(i+1)
		}
		var p float64
		if i == 0 {
			p = 0.3 + rng.Float64()*0.4
		} else {
			p = 1 - sum
		}
		p = clamp(p, MinSynthPrice, MaxSynthPrice)
		sum += p
		out = append(out, model.OutcomePrice{Outcome: name, Price: p})
	}
	return out
}

// Bounds for synthesized prices.
const (
	MinSynthPrice = 0.01
	MaxSynthPrice = 0.99
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
