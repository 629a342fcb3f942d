// Package query answers keyword queries against the sharded chunk index:
// it parses AND/OR/NOT queries, fans term lookups out to every shard, and
// ranks matching chunks with BM25.
package query

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/tokenizer"
)

type Type int

const (
	AND Type = iota
	OR
)

func (t Type) String() string {
	if t == OR {
		return "OR"
	}
	return "AND"
}

type Plan struct {
	Terms        []string
	Type         Type
	ExcludeTerms []string
	RawQuery     string
}

// Parse turns a query such as "invoice AND acme NOT draft" into a plan of
// normalised terms. The last AND/OR operator wins.
func Parse(query string) *Plan {
	plan := &Plan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         AND,
		RawQuery:     query,
	}
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch strings.ToUpper(word) {
		case "AND":
			plan.Type = AND
			continue
		case "OR":
			plan.Type = OR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		negated := excludeNext || strings.HasPrefix(word, "-")
		excludeNext = false
		term := tokenizer.Term(strings.TrimPrefix(word, "-"))
		if term == "" {
			continue
		}
		if negated {
			plan.ExcludeTerms = append(plan.ExcludeTerms, term)
		} else {
			plan.Terms = append(plan.Terms, term)
		}
	}
	return plan
}
