package retrieve

import (
	"encoding/json"

	"github.com/GuerraLaser/laserbot-mvp/engine/catalog"
	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

// Kind discriminates the three result tiers.
type Kind int

const (
	// KindProducts is a ranked semantic result set.
	KindProducts Kind = iota
	// KindSuggestions is the degraded result: category suggestions with their
	// canonical storefront links, unordered by relevance.
	KindSuggestions
	// KindNoMatch means neither semantic search nor the keyword table produced
	// candidates; callers should escalate to a human.
	KindNoMatch
)

func (k Kind) String() string {
	switch k {
	case KindProducts:
		return "products"
	case KindSuggestions:
		return "suggestions"
	case KindNoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the kind as its string form for API clients.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Suggestion is one synthetic degraded-mode entry.
type Suggestion struct {
	Category domain.Category `json:"category"`
	Link     string          `json:"link"`
}

// Result is the orchestrator's answer. Exactly one of Hits or Suggestions is
// populated, matching Kind; both are read-only views and never alias index
// internals that callers could mutate.
type Result struct {
	Kind        Kind          `json:"kind"`
	Hits        []catalog.Hit `json:"hits,omitempty"`
	Suggestions []Suggestion  `json:"suggestions,omitempty"`
}

func productsResult(hits []catalog.Hit) *Result {
	out := make([]catalog.Hit, len(hits))
	copy(out, hits)
	return &Result{Kind: KindProducts, Hits: out}
}

func suggestionsResult(cats []domain.Category) *Result {
	if len(cats) == 0 {
		return &Result{Kind: KindNoMatch}
	}
	suggestions := make([]Suggestion, len(cats))
	for i, c := range cats {
		suggestions[i] = Suggestion{Category: c, Link: domain.CategoryLinks[c]}
	}
	return &Result{Kind: KindSuggestions, Suggestions: suggestions}
}
