package api

import "strings"

var binaryQuestionWords = []string{"will", "reach", "hit", "election", "winner"}

// keepMovement drops generic Yes/No movements on markets whose question is
// not a yes/no question, such as head-to-head matches that should carry team
// names. Named outcomes are always kept.
func keepMovement(question, outcome string) bool {
	if outcome != "Yes" && outcome != "No" {
		return true
	}
	if strings.Contains(question, " vs ") || strings.Contains(question, " vs. ") {
		return false
	}
	if strings.Contains(question, "?") {
		return true
	}
	lower := strings.ToLower(question)
	for _, w := range binaryQuestionWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
