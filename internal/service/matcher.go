package service

import (
	"sort"
	"strings"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
)

// rule is one pattern → value mapping used by both resolvers.
type rule[T any] struct {
	kind    domain.MatchKind
	pattern string
	value   T
}

// ruleSet resolves an input in two phases: an exact rule (case-insensitive
// equality) wins outright; otherwise exactly one fragment rule may match as a
// case-insensitive substring. Two or more fragment matches are an integrity
// fault reported as *domain.ErrAmbiguousMatch.
type ruleSet[T any] struct {
	what      string
	exact     map[string]T
	fragments []rule[T]
}

func newRuleSet[T any](what string, rules []rule[T]) *ruleSet[T] {
	rs := &ruleSet[T]{what: what, exact: make(map[string]T)}
	for _, r := range rules {
		key := strings.ToLower(strings.TrimSpace(r.pattern))
		if key == "" {
			continue
		}
		switch r.kind {
		case domain.MatchExact:
			rs.exact[key] = r.value
		case domain.MatchFragment:
			r.pattern = key
			rs.fragments = append(rs.fragments, r)
		}
	}
	return rs
}

// resolve returns the matched value and whether anything matched.
func (rs *ruleSet[T]) resolve(input string) (T, bool, error) {
	var zero T
	key := strings.ToLower(strings.TrimSpace(input))

	if v, ok := rs.exact[key]; ok {
		return v, true, nil
	}

	var hits []rule[T]
	for _, f := range rs.fragments {
		if strings.Contains(key, f.pattern) {
			hits = append(hits, f)
		}
	}

	switch len(hits) {
	case 0:
		return zero, false, nil
	case 1:
		return hits[0].value, true, nil
	default:
		patterns := make([]string, len(hits))
		for i, h := range hits {
			patterns[i] = h.pattern
		}
		sort.Strings(patterns)
		return zero, false, &domain.ErrAmbiguousMatch{Kind: rs.what, Input: input, Patterns: patterns}
	}
}

func validateRule(kind domain.MatchKind, pattern string) error {
	if !kind.Valid() {
		return &domain.ErrValidation{Field: "kind", Message: "must be 'exact' or 'fragment'"}
	}
	if strings.TrimSpace(pattern) == "" {
		return &domain.ErrValidation{Field: "pattern", Message: "must not be empty"}
	}
	return nil
}
