// Package keyword maps free-form query text to catalog categories using a
// static keyword table. It backs both filter inference for semantic search and
// the degraded suggestion path when semantic search is unavailable.
// No I/O, no state: Suggest is a pure function.
package keyword

import (
	"strings"

	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

// categoryOrder fixes the iteration order so suggestions are deterministic.
var categoryOrder = []domain.Category{
	domain.CategoryCutter,
	domain.CategoryEngraver,
	domain.CategoryTube,
	domain.CategoryLens,
	domain.CategoryChiller,
	domain.CategoryAccessory,
}

// categoryKeywords holds lower-cased substrings per category. Spanish terms
// first since most traffic is Mexican marketplace buyers, with common English
// equivalents mixed in.
var categoryKeywords = map[domain.Category][]string{
	domain.CategoryCutter: {
		"cortadora", "corte laser", "cortar", "cutter", "cutting",
		"130w", "150w", "co2 laser cutter",
	},
	domain.CategoryEngraver: {
		"grabadora", "grabado", "grabar", "engraver", "engraving",
		"fibra", "fiber", "marcadora", "marcado",
	},
	domain.CategoryTube: {
		"tubo", "tubos", "tube", "reci", "efr", "puri", "yongli",
	},
	domain.CategoryLens: {
		"lente", "lentes", "lens", "espejo", "espejos", "mirror",
		"optica", "enfoque", "focal",
	},
	domain.CategoryChiller: {
		"chiller", "enfriador", "cw-3000", "cw-5000", "cw-5200",
		"refrigeracion", "agua fria",
	},
	domain.CategoryAccessory: {
		"refaccion", "refacciones", "repuesto", "accesorio", "boquilla",
		"banda", "rodamiento", "fuente", "laser power supply", "controlador",
		"ruida",
	},
}

// Suggest returns every category whose keyword list matches the text, in the
// fixed catalog order. An empty result is valid and means the caller should
// escalate.
func Suggest(text string) []domain.Category {
	lower := strings.ToLower(text)
	var out []domain.Category
	for _, cat := range categoryOrder {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				out = append(out, cat)
				break
			}
		}
	}
	return out
}

// InferFilters is Suggest under a name that matches its second role: producing
// category filter hints for the semantic path, independent of readiness.
func InferFilters(text string) []domain.Category {
	return Suggest(text)
}
