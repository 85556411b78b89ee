package domain

import "strings"

// ============================================================
// Enrichment rules
// ============================================================

// MatchKind selects how a rule pattern is compared with an input name.
type MatchKind string

const (
	// MatchExact compares the whole name, case-insensitively.
	MatchExact MatchKind = "exact"
	// MatchFragment matches when the pattern is a case-insensitive substring.
	MatchFragment MatchKind = "fragment"
)

// Valid reports whether k is a known match kind.
func (k MatchKind) Valid() bool {
	return k == MatchExact || k == MatchFragment
}

// DisplayNameRule maps a raw counterparty name (or fragment of one) to a
// friendly display name. Rules are keyed by (Kind, lower(Pattern)).
type DisplayNameRule struct {
	Kind        MatchKind `json:"kind"`
	Pattern     string    `json:"pattern"`
	DisplayName string    `json:"display_name"`
}

// CategoryGroup groups categories for display, e.g. "Mandatory".
type CategoryGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Category is a spending category. ID is stable across renames and group moves.
type Category struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Group CategoryGroup `json:"group"`
}

// CategoryMapEntry assigns a category to a display name (exact) or to every
// display name containing a fragment.
type CategoryMapEntry struct {
	Kind     MatchKind `json:"kind"`
	Pattern  string    `json:"pattern"`
	Category Category  `json:"category"`
}

// Capitalize returns s with the first letter upper-cased and the rest
// lower-cased, the canonical form of category and group names.
func Capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	lower := []rune(strings.ToLower(s))
	lower[0] = []rune(strings.ToUpper(string(lower[0])))[0]
	return string(lower)
}
