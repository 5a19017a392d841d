package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/prophit/market-tracker/internal/normalize"
)

// flexFloat accepts a number, a numeric string, or null. Anything that does
// not parse decodes to zero rather than failing the whole payload.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*f = flexFloat(v)
			return nil
		}
	}
	*f = 0
	return nil
}

// flexString accepts a string or a number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

// optFloat records whether a price field was present at all.
type optFloat struct {
	set bool
	v   float64
}

func (o *optFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var f flexFloat
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	o.set, o.v = true, float64(f)
	return nil
}

func (o optFloat) ptr() *float64 {
	if !o.set {
		return nil
	}
	v := o.v
	return &v
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOutcome is an outcome entry in a CLOB market.
type APIOutcome struct {
	Name      string   `json:"name"`
	Title     string   `json:"title"`
	Price     optFloat `json:"price"`
	LastPrice optFloat `json:"last_price"`
}

// APIToken is a CLOB token entry; newer payloads carry outcomes here.
type APIToken struct {
	Outcome string   `json:"outcome"`
	Price   optFloat `json:"price"`
}

// APIMarket is a market as returned by GET {clob}/markets.
type APIMarket struct {
	ConditionID string       `json:"condition_id"`
	ID          flexString   `json:"id"`
	Question    string       `json:"question"`
	Slug        string       `json:"market_slug"`
	AltSlug     string       `json:"slug"`
	Category    string       `json:"category"`
	Outcomes    []APIOutcome `json:"outcomes"`
	Tokens      []APIToken   `json:"tokens"`
	Volume      flexFloat    `json:"volume"`
	Volume24hr  flexFloat    `json:"volume24hr"`
	Active      *bool        `json:"active"`
	EndDate     string       `json:"end_date"`
	EndDateISO  string       `json:"end_date_iso"`
	StartDate   string       `json:"start_date"`
}

// ToRaw maps the DTO into the normalizer's source-neutral shape.
func (m *APIMarket) ToRaw() normalize.RawMarket {
	raw := normalize.RawMarket{
		Source:    normalize.SourceCLOB,
		ID:        firstNonEmpty(m.ConditionID, string(m.ID)),
		Title:     m.Question,
		Slug:      firstNonEmpty(m.Slug, m.AltSlug),
		Category:  m.Category,
		Volume:    float64(m.Volume),
		Active:    m.Active == nil || *m.Active,
		EndDate:   firstNonEmpty(m.EndDate, m.EndDateISO),
		StartDate: m.StartDate,
	}
	if raw.Volume == 0 {
		raw.Volume = float64(m.Volume24hr)
	}

	switch {
	case len(m.Outcomes) > 0:
		for _, o := range m.Outcomes {
			price := o.Price.ptr()
			if price == nil {
				price = o.LastPrice.ptr()
			}
			raw.Explicit = append(raw.Explicit, normalize.RawOutcome{
				Name:  firstNonEmpty(o.Name, o.Title),
				Price: price,
			})
		}
	case len(m.Tokens) > 0:
		for _, t := range m.Tokens {
			raw.Explicit = append(raw.Explicit, normalize.RawOutcome{
				Name:  t.Outcome,
				Price: t.Price.ptr(),
			})
		}
	}
	return raw
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// GammaEventMarket is the nested market inside a Gamma event. Outcomes is
// usually a JSON-encoded string such as "[\"Yes\",\"No\"]".
type GammaEventMarket struct {
	Question string          `json:"question"`
	Outcomes json.RawMessage `json:"outcomes"`
}

// GammaEvent is an event as returned by GET {gamma}/events.
type GammaEvent struct {
	ID           flexString         `json:"id"`
	Title        string             `json:"title"`
	Slug         string             `json:"slug"`
	Category     string             `json:"category"`
	Volume24hr   flexFloat          `json:"volume24hr"`
	EndDateISO   string             `json:"endDateIso"`
	EndDate      string             `json:"endDate"`
	StartDateISO string             `json:"startDateIso"`
	Markets      []GammaEventMarket `json:"markets"`
}

// ToRaw maps the event into the normalizer's source-neutral shape. Gamma
// events are always treated as active.
func (e *GammaEvent) ToRaw() normalize.RawMarket {
	raw := normalize.RawMarket{
		Source:    normalize.SourceGamma,
		ID:        string(e.ID),
		Title:     e.Title,
		Slug:      e.Slug,
		Category:  e.Category,
		Volume:    float64(e.Volume24hr),
		Active:    true,
		EndDate:   firstNonEmpty(e.EndDateISO, e.EndDate),
		StartDate: e.StartDateISO,
	}
	if len(e.Markets) > 0 {
		raw.OutcomeNames = outcomeNames(e.Markets[0].Outcomes)
	}
	return raw
}

// outcomeNames returns the JSON array text for either an encoded string or
// an inline array.
func outcomeNames(msg json.RawMessage) string {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return ""
	}
	switch msg[0] {
	case '"':
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return ""
		}
		return s
	case '[':
		return string(msg)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
