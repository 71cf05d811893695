// Package domain defines core domain types, constants, and validation for the
// Laserbot retrieval pipeline. It acts as the validation gate at pipeline entry points.
package domain

import "strings"

// Category classifies catalog entries into the fixed storefront sections.
type Category string

const (
	CategoryCutter    Category = "cortadora"
	CategoryEngraver  Category = "grabadora"
	CategoryTube      Category = "tubo"
	CategoryLens      Category = "lente"
	CategoryChiller   Category = "chiller"
	CategoryAccessory Category = "accesorio"
)

// ValidCategories is the set of recognised catalog categories.
var ValidCategories = map[Category]bool{
	CategoryCutter: true, CategoryEngraver: true, CategoryTube: true,
	CategoryLens: true, CategoryChiller: true, CategoryAccessory: true,
}

// CatalogEntry is a single indexed product. Entries are immutable after
// indexing; query traffic only ever receives copies.
type CatalogEntry struct {
	ID       string   `json:"id"` // marketplace SKU, e.g. "MLM2054839012"
	Title    string   `json:"title"`
	Text     string   `json:"text"` // the content that was embedded
	Category Category `json:"category"`
	Price    string   `json:"price,omitempty"`
	Link     string   `json:"link"` // product listing URL
}

const listingBaseURL = "https://articulo.mercadolibre.com.mx/MLM-"

// ListingLink derives the MercadoLibre listing URL from an MLM SKU.
// Returns "" for IDs that are not MLM SKUs.
func ListingLink(sku string) string {
	if !strings.HasPrefix(sku, "MLM") || len(sku) <= 3 {
		return ""
	}
	return listingBaseURL + sku[3:]
}

// CategoryLinks maps each category to its canonical storefront section link,
// used for degraded suggestion results.
var CategoryLinks = map[Category]string{
	CategoryCutter:    "https://listado.mercadolibre.com.mx/cortadora-laser-co2",
	CategoryEngraver:  "https://listado.mercadolibre.com.mx/grabadora-laser-fibra",
	CategoryTube:      "https://listado.mercadolibre.com.mx/tubo-laser-co2",
	CategoryLens:      "https://listado.mercadolibre.com.mx/lente-laser",
	CategoryChiller:   "https://listado.mercadolibre.com.mx/chiller-laser",
	CategoryAccessory: "https://listado.mercadolibre.com.mx/refacciones-laser",
}
