// Package category maps free-text upstream categories and market titles
// onto the tracker's fixed category taxonomy.
package category

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category tags.
const (
	Politics       = "Politics"
	Sports         = "Sports"
	Cryptocurrency = "Cryptocurrency"
	Economics      = "Economics"
	Technology     = "Technology"
	Entertainment  = "Entertainment"
	Other          = "Other"
)

type hintKey struct {
	key string
	tag string
}

// hintTable is ordered so substring matching is deterministic.
var hintTable = []hintKey{
	{"politics", Politics},
	{"political", Politics},
	{"election", Politics},
	{"government", Politics},
	{"sports", Sports},
	{"sport", Sports},
	{"football", Sports},
	{"baseball", Sports},
	{"basketball", Sports},
	{"soccer", Sports},
	{"crypto", Cryptocurrency},
	{"cryptocurrency", Cryptocurrency},
	{"bitcoin", Cryptocurrency},
	{"ethereum", Cryptocurrency},
	{"economics", Economics},
	{"economic", Economics},
	{"finance", Economics},
	{"market", Economics},
	{"technology", Technology},
	{"tech", Technology},
	{"ai", Technology},
	{"entertainment", Entertainment},
	{"culture", Entertainment},
}

type bucket struct {
	tag      string
	keywords []string
}

// titleBuckets are scanned in order; the first bucket with a hit wins.
var titleBuckets = []bucket{
	{Sports, []string{
		"nfl", "nba", "mlb", "vs.", "vs ", "beat", "super bowl", "world series",
		"premier league", "champions league", "ufc", "f1", "tennis", "open winner", "championship",
	}},
	{Politics, []string{
		"election", "president", "trump", "biden", "congress", "senate", "governor",
		"mayor", "political", "democrat", "republican", "vote",
	}},
	{Cryptocurrency, []string{"bitcoin", "ethereum", "crypto", "btc", "eth", "blockchain"}},
	{Economics, []string{
		"fed", "interest rate", "recession", "inflation", "gdp", "stock", "market", "economy", "price",
	}},
	{Entertainment, []string{"movie", "box office", "oscar", "emmy", "grammy", "netflix", "conjuring", "film"}},
}

// Tags returns every tag Classify can produce from the fixed tables.
func Tags() []string {
	return []string{Politics, Sports, Cryptocurrency, Economics, Technology, Entertainment, Other}
}

// Classify resolves a category tag from an optional upstream hint and an
// optional market title. It never fails; unknown input yields Other.
//
// A hint is resolved by exact key, then substring in either direction, then
// a keyword scan of the hint text, and finally by capitalizing the raw hint.
// Without a usable hint the title is scanned against the ordered buckets.
func Classify(hint, title string) string {
	h := strings.ToLower(strings.TrimSpace(hint))
	if h != "" && h != "undefined" && h != "null" {
		return fromHint(h)
	}
	return FromTitle(title)
}

// FromTitle scans a title against the ordered keyword buckets.
func FromTitle(title string) string {
	if tag, ok := scan(strings.ToLower(title)); ok {
		return tag
	}
	return Other
}

func fromHint(h string) string {
	for _, e := range hintTable {
		if e.key == h {
			return e.tag
		}
	}
	for _, e := range hintTable {
		if strings.Contains(h, e.key) || strings.Contains(e.key, h) {
			return e.tag
		}
	}
	if tag, ok := scan(h); ok {
		return tag
	}
	r, size := utf8.DecodeRuneInString(h)
	return string(unicode.ToUpper(r)) + h[size:]
}

func scan(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, b := range titleBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(text, kw) {
				return b.tag, true
			}
		}
	}
	return "", false
}
