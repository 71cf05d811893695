package catalog

import "github.com/google/uuid"

// PointID derives a deterministic Qdrant point UUID from a marketplace SKU,
// so re-indexing the same product overwrites its previous point.
func PointID(sku string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("laserbot:"+sku)).String()
}
