// Package model defines the core domain types shared across the market tracker.
package model

import "time"

// OutcomePrice is one named outcome of a market with its implied probability.
type OutcomePrice struct {
	Outcome string  `json:"outcome" db:"outcome"`
	Price   float64 `json:"price" db:"price"` // 0..1
}

// Market is the canonical representation of an upstream prediction market.
// It is upserted with full-replace semantics on every poll cycle.
type Market struct {
	ID        string         `json:"id" db:"id"`
	Question  string         `json:"question" db:"question"`
	Slug      string         `json:"slug" db:"slug"`
	Category  string         `json:"category" db:"category"`
	Outcomes  []OutcomePrice `json:"outcomes" db:"outcomes"`
	Volume    float64        `json:"volume" db:"volume"`
	Active    bool           `json:"isActive" db:"active"`
	EndDate   *time.Time     `json:"endDate,omitempty" db:"end_date"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" db:"updated_at"`
}

// PriceHistoryEntry is one append-only sample of an outcome's price.
type PriceHistoryEntry struct {
	MarketID  string    `json:"marketId" db:"market_id"`
	Outcome   string    `json:"outcome" db:"outcome"`
	Price     float64   `json:"price" db:"price"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Movement is a detected price change exceeding the configured threshold.
// Movements are written once by the detector and never modified.
type Movement struct {
	ID            string    `json:"id" db:"id"`
	MarketID      string    `json:"marketId" db:"market_id"`
	Outcome       string    `json:"outcome" db:"outcome"`
	ChangePercent float64   `json:"changePercent" db:"change_percent"`
	OldPrice      float64   `json:"oldPrice" db:"old_price"`
	NewPrice      float64   `json:"newPrice" db:"new_price"`
	DetectedAt    time.Time `json:"detectedAt" db:"detected_at"`
	DedupKey      string    `json:"-" db:"dedup_key"`
}

// MovementView is a movement joined with its market for display.
type MovementView struct {
	ID             string    `json:"id"`
	MarketID       string    `json:"marketId"`
	MarketQuestion string    `json:"marketQuestion"`
	Category       string    `json:"category"`
	Outcome        string    `json:"outcome"`
	ChangePercent  float64   `json:"changePercent"`
	OldPrice       float64   `json:"oldPrice"`
	NewPrice       float64   `json:"newPrice"`
	DetectedAt     time.Time `json:"detectedAt"`
}

// StoreStats are aggregate counts reported by a storage backend.
type StoreStats struct {
	Markets         int64 `json:"markets"`
	Movements       int64 `json:"movements"`
	PriceHistory    int64 `json:"priceHistory"`
	RecentMovements int64 `json:"recentMovements"` // last 24h
}
