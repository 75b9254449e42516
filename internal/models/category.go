package models

import "strings"

// Category groups templates and progress into certification tracks.
type Category string

const (
	CategoryPPL        Category = "PPL"
	CategoryIFR        Category = "IFR"
	CategoryCommercial Category = "Commercial"
	CategoryReview     Category = "Review"
)

// KnownCategories lists the canonical tracks in display order.
var KnownCategories = []Category{CategoryPPL, CategoryIFR, CategoryCommercial, CategoryReview}

var categorySynonyms = map[string]Category{
	"ppl":               CategoryPPL,
	"private":           CategoryPPL,
	"private pilot":     CategoryPPL,
	"pvt":               CategoryPPL,
	"ifr":               CategoryIFR,
	"instrument":        CategoryIFR,
	"instrument rating": CategoryIFR,
	"ir":                CategoryIFR,
	"commercial":        CategoryCommercial,
	"cpl":               CategoryCommercial,
	"comm":              CategoryCommercial,
	"review":            CategoryReview,
	"reviews":           CategoryReview,
	"flight review":     CategoryReview,
	"bfr":               CategoryReview,
	"ipc":               CategoryReview,
}

// NormalizeCategory folds case and known synonyms into the canonical form.
// Unknown values keep their trimmed text.
func NormalizeCategory(raw string) Category {
	trimmed := strings.TrimSpace(raw)
	if canonical, ok := categorySynonyms[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return Category(trimmed)
}

// CategoryFromLegacyID infers the category from a legacy template identifier
// such as "ppl_p1_l1" or "default_ifr_p2_l4".
func CategoryFromLegacyID(legacyID string) (Category, bool) {
	id := strings.ToLower(strings.TrimSpace(legacyID))
	id = strings.TrimPrefix(id, "default_")
	if id == "" {
		return "", false
	}
	token := id
	if idx := strings.Index(id, "_"); idx >= 0 {
		token = id[:idx]
	}
	canonical, ok := categorySynonyms[token]
	return canonical, ok
}

// Matches compares two categories after normalization, ignoring case.
func (c Category) Matches(other Category) bool {
	return strings.EqualFold(string(NormalizeCategory(string(c))), string(NormalizeCategory(string(other))))
}

// IsKnown reports whether c is one of the canonical tracks.
func (c Category) IsKnown() bool {
	for _, known := range KnownCategories {
		if c == known {
			return true
		}
	}
	return false
}

// IsReview reports whether c is the review track.
func (c Category) IsReview() bool {
	return c.Matches(CategoryReview)
}
