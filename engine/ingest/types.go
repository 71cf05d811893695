package ingest

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

// Product is one raw record from the catalog export. Field tags follow the
// export's Spanish schema.
type Product struct {
	ID       string            `json:"id"`
	Category string            `json:"categoria"`
	Price    string            `json:"precio"`
	Details  map[string]string `json:"detalles"`
}

// Entry converts a raw product into a catalog entry. The ID may also live
// under detalles.ID in older exports.
func (p Product) Entry() domain.CatalogEntry {
	id := p.ID
	if id == "" {
		id = p.Details["ID"]
	}
	return domain.CatalogEntry{
		ID:       id,
		Title:    p.Details["TITLE"],
		Text:     buildSearchText(p),
		Category: domain.Category(strings.ToLower(strings.TrimSpace(p.Category))),
		Price:    p.Price,
		Link:     domain.ListingLink(id),
	}
}

// buildSearchText concatenates the fields worth embedding: title, category,
// brand, model, then the remaining detail values in key order.
func buildSearchText(p Product) string {
	parts := []string{
		p.Details["TITLE"],
		p.Category,
		p.Details["BRAND"],
		p.Details["MODEL"],
	}

	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		switch k {
		case "TITLE", "BRAND", "MODEL", "ID":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := p.Details[k]; v != "" {
			parts = append(parts, k+": "+v)
		}
	}

	nonEmpty := parts[:0]
	for _, s := range parts {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, " \n ")
}

// EmbeddedEntry pairs a validated entry with its vector.
type EmbeddedEntry struct {
	Entry  domain.CatalogEntry
	Vector []float32
}

// decodeProduct parses one JSONL line. Blank lines return ok=false.
func decodeProduct(line []byte) (Product, bool, error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return Product{}, false, nil
	}
	var p Product
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}
