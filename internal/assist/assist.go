// Package assist answers document questions from a small keyword
// rulebook. Rules are checked in order and the first hit wins.
package assist

import "strings"

type rule struct {
	keywords []string
	answer   string
}

var rules = []rule{
	{[]string{"budget", "total"}, "Total budget: K1.2 billion (12% increase). Largest: Infrastructure K450M (37.5%)."},
	{[]string{"healthcare"}, "Healthcare: K320 million (26.7%). Includes 3 new regional hospitals."},
	{[]string{"risk"}, "Key risks: currency fluctuation, contractor delays, remote access challenges."},
	{[]string{"recommend"}, "Approval recommended for Cabinet consideration."},
	{[]string{"education"}, "Education: K280 million (23.3%). Focus on teacher training and facility upgrades."},
	{[]string{"infrastructure"}, "Infrastructure: K450 million (37.5%). Road networks connecting rural to urban areas."},
}

const fallback = "I'll analyze that for you..."

// Answer returns the canned analysis for a question.
func Answer(question string) string {
	q := strings.ToLower(question)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(q, kw) {
				return r.answer
			}
		}
	}
	return fallback
}
