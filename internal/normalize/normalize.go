// Package normalize converts raw upstream market records into the canonical
// model.Market, synthesizing outcome prices when upstream data is incomplete.
package normalize

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/prophit/market-tracker/internal/category"
	"github.com/prophit/market-tracker/internal/model"
)

// Source identifies which upstream schema a record came from.
type Source string

const (
	SourceCLOB  Source = "clob"
	SourceGamma Source = "gamma"
	SourceMock  Source = "mock"
)

// RawOutcome is an upstream outcome entry. Price is nil when upstream
// carried neither a price nor a last trade price.
type RawOutcome struct {
	Name  string
	Price *float64
}

// RawMarket is the source-neutral shape the upstream clients map their
// payloads into before normalization.
type RawMarket struct {
	Source       Source
	ID           string
	Title        string
	Slug         string
	Category     string
	Explicit     []RawOutcome
	OutcomeNames string // JSON-encoded array of names
	Volume       float64
	Active       bool
	EndDate      string
	StartDate    string
}

// Rand is the random source used for price synthesis.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Normalizer turns RawMarkets into Markets.
type Normalizer struct {
	rng        Rand
	now        func() time.Time
	strategies []OutcomeStrategy
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithStrategies replaces the outcome extraction chain.
func WithStrategies(s ...OutcomeStrategy) Option {
	return func(n *Normalizer) { n.strategies = s }
}

// New creates a Normalizer. A nil rng uses the process-wide generator.
func New(rng Rand, opts ...Option) *Normalizer {
	if rng == nil {
		rng = globalRand{}
	}
	n := &Normalizer{
		rng:        rng,
		now:        time.Now,
		strategies: DefaultStrategies(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Rand returns the normalizer's random source.
func (n *Normalizer) Rand() Rand { return n.rng }

// Normalize maps raw into a Market. It returns false when the record has no
// usable title, which means the record should be skipped.
func (n *Normalizer) Normalize(raw RawMarket) (*model.Market, bool) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return nil, false
	}
	raw.Title = title

	var outcomes []model.OutcomePrice
	for _, s := range n.strategies {
		if o, ok := s.Extract(raw, n.rng); ok && len(o) > 0 {
			outcomes = o
			break
		}
	}

	now := n.now().UTC()
	m := &model.Market{
		ID:        strings.TrimSpace(raw.ID),
		Question:  title,
		Slug:      strings.TrimSpace(raw.Slug),
		Category:  category.Classify(raw.Category, title),
		Outcomes:  uniqueOutcomes(outcomes),
		Volume:    raw.Volume,
		Active:    raw.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m.ID == "" {
		m.ID = fmt.Sprintf("%s-%d", raw.Source, now.UnixMilli())
	}
	if m.Slug == "" {
		m.Slug = Slug(title)
	}
	if m.Volume < 0 {
		m.Volume = 0
	}
	if t, ok := ParseTime(raw.EndDate); ok {
		m.EndDate = &t
	}
	if t, ok := ParseTime(raw.StartDate); ok {
		m.CreatedAt = t
	}
	return m, true
}

func uniqueOutcomes(in []model.OutcomePrice) []model.OutcomePrice {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, o := range in {
		if seen[o.Outcome] {
			continue
		}
		seen[o.Outcome] = true
		out = append(out, o)
	}
	return out
}

var (
	slugStrip = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpace = regexp.MustCompile(`\s+`)
)

const maxSlugLen = 50

// Slug derives a URL slug from a title.
func Slug(title string) string {
	s := strings.ToLower(title)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	return s
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the date formats seen in upstream payloads.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
