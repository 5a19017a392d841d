package category_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prophit/market-tracker/internal/category"
)

func TestClassify_Hint(t *testing.T) {
	tests := []struct {
		name string
		hint string
		want string
	}{
		{"exact key", "Politics", category.Politics},
		{"exact key with padding", "  crypto ", category.Cryptocurrency},
		{"hint contains key", "US Politics", category.Politics},
		{"key contains hint", "basket", category.Sports},
		{"keyword scan of hint", "nfl week 3", category.Sports},
		{"culture", "POP CULTURE", category.Entertainment},
		{"unknown capitalized", "weather", "Weather"},
		{"unknown lowercased rest", "WEATHER", "Weather"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, category.Classify(tt.hint, "ignored title"))
		})
	}
}

func TestClassify_Title(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Will Bitcoin reach $100k?", category.Cryptocurrency},
		{"Lakers vs Celtics", category.Sports},
		{"Will the Fed cut interest rates?", category.Economics},
		{"Who will win the Oscar for Best Picture?", category.Entertainment},
		{"Will Trump win the 2024 Presidential Election?", category.Politics},
		{"Random question", category.Other},
		{"", category.Other},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, category.Classify("", tt.title))
		})
	}
}

func TestClassify_PlaceholderHintFallsBackToTitle(t *testing.T) {
	assert.Equal(t, category.Sports, category.Classify("undefined", "NBA Finals winner"))
	assert.Equal(t, category.Other, category.Classify("   ", ""))
}
