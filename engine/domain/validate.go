package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// MLM SKU format: "MLM" followed by digits.
var skuRegex = regexp.MustCompile(`^MLM\d{6,}$`)

const maxQueryLength = 2000

// ValidateRetrieval validates the caller contract of a retrieval request.
// Transient conditions (index missing, embedder not ready) are never validation
// errors; only contract violations are rejected here.
func ValidateRetrieval(text string, k int, filters []Category) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NewValidationError("text", text, ErrEmptyQuery)
	}
	if runes := []rune(trimmed); len(runes) > maxQueryLength {
		// Truncate by runes so accented text is not split mid-character.
		return NewValidationError("text", string(runes[:32])+"…", ErrQueryTooLong)
	}
	if k <= 0 {
		return NewValidationError("k", fmt.Sprintf("%d", k), ErrInvalidK)
	}
	for _, c := range filters {
		if !ValidCategories[c] {
			return NewValidationError("filters", string(c), ErrUnknownCategory)
		}
	}
	return nil
}

// ValidateEntry validates a catalog entry before indexing.
func ValidateEntry(e CatalogEntry) error {
	if !skuRegex.MatchString(e.ID) {
		return NewValidationError("id", e.ID, ErrInvalidSKU)
	}
	if strings.TrimSpace(e.Title) == "" {
		return NewValidationError("title", e.Title, ErrInvalidEntry)
	}
	if strings.TrimSpace(e.Text) == "" {
		return NewValidationError("text", e.Text, ErrInvalidEntry)
	}
	if !ValidCategories[e.Category] {
		return NewValidationError("category", string(e.Category), ErrUnknownCategory)
	}
	return nil
}
