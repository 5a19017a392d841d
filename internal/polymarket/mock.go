package polymarket

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prophit/market-tracker/internal/category"
	"github.com/prophit/market-tracker/internal/model"
	"github.com/prophit/market-tracker/internal/normalize"
)

var mockQuestions = []string{
	"Will Trump win the 2024 Presidential Election?",
	"Will Bitcoin reach $100,000 by end of 2024?",
	"Will there be a recession in 2024?",
	"Will AI achieve AGI by 2025?",
	"Will Tesla stock hit $300 in 2024?",
}

var mockCategories = []string{
	category.Politics,
	category.Cryptocurrency,
	category.Economics,
	category.Technology,
	category.Sports,
}

var one = decimal.NewFromInt(1)

// MockMarkets builds the degraded-mode market set served when every
// upstream fails. Yes and No prices sum to exactly one.
func MockMarkets(limit int, rng normalize.Rand, now time.Time) []model.Market {
	if limit <= 0 || limit > len(mockQuestions) {
		limit = len(mockQuestions)
	}
	now = now.UTC()
	markets := make([]model.Market, 0, limit)
	for i := 0; i < limit; i++ {
		yes := decimal.NewFromFloat(0.2 + rng.Float64()*0.6).Round(4)
		no := one.Sub(yes)
		end := now.Add(time.Duration(rng.Float64() * float64(365*24*time.Hour)))
		created := now.Add(-time.Duration(rng.Float64() * float64(30*24*time.Hour)))

		markets = append(markets, model.Market{
			ID:       fmt.Sprintf("mock-market-%d", i+1),
			Question: mockQuestions[i],
			Slug:     normalize.Slug(mockQuestions[i]),
			Category: mockCategories[i],
			Outcomes: []model.OutcomePrice{
				{Outcome: "Yes", Price: yes.InexactFloat64()},
				{Outcome: "No", Price: no.InexactFloat64()},
			},
			Volume:    rng.Float64()*500000 + 10000,
			Active:    true,
			EndDate:   &end,
			CreatedAt: created,
			UpdatedAt: now,
		})
	}
	return markets
}
