package catalog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

// Write builds a snapshot directory at dir atomically: everything is written
// to a sibling temp directory first and swapped in with a rename, so an old
// index stays queryable until the new one is complete and a crash mid-build
// never leaves a half-written index at dir.
func Write(dir, model string, entries []domain.CatalogEntry, vectors [][]float32) error {
	if len(entries) != len(vectors) {
		return fmt.Errorf("catalog: %d entries but %d vectors", len(entries), len(vectors))
	}
	if len(entries) == 0 {
		return fmt.Errorf("catalog: refusing to write empty index")
	}
	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("catalog: vector %d has %d dims, want %d", i, len(v), dims)
		}
	}

	tmp := dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("catalog: clear temp dir: %w", err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("catalog: create temp dir: %w", err)
	}

	if err := writeEntries(filepath.Join(tmp, entriesFile), entries); err != nil {
		return err
	}
	if err := writeVectors(filepath.Join(tmp, vectorsFile), vectors); err != nil {
		return err
	}

	m := Manifest{
		Collection: DefaultCollection,
		Model:      model,
		Dims:       dims,
		Count:      len(entries),
		BuiltAt:    time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: marshal manifest: %w", err)
	}
	// Manifest last: readers treat a manifest-less directory as absent.
	if err := os.WriteFile(filepath.Join(tmp, manifestFile), raw, 0o644); err != nil {
		return fmt.Errorf("catalog: write manifest: %w", err)
	}

	return swap(tmp, dir)
}

// swap replaces dir with tmp, keeping the displaced index around only long
// enough to complete the rename.
func swap(tmp, dir string) error {
	old := dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("catalog: clear old dir: %w", err)
	}
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("catalog: displace current index: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("catalog: swap in new index: %w", err)
	}
	return os.RemoveAll(old)
}

func writeEntries(path string, entries []domain.CatalogEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("catalog: create entries: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("catalog: write entry %s: %w", e.ID, err)
		}
	}
	return f.Sync()
}

func writeVectors(path string, vectors [][]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("catalog: create vectors: %w", err)
	}
	defer f.Close()

	for i, v := range vectors {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("catalog: write vector %d: %w", i, err)
		}
	}
	return f.Sync()
}
