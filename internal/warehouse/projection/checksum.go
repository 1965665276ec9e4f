package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Checksum computes a deterministic digest over view rows. Rows are sorted
// by key and hashed field by field, so two views with identical contents
// produce identical checksums regardless of insertion order. Zero rows are
// skipped; a row that folded back to zero is equivalent to one that never
// existed.
func Checksum(rows []Row) string {
	filtered := make([]Row, 0, len(rows))
	for _, row := range rows {
		if row.OnHand == 0 && row.HardLocked == 0 {
			continue
		}
		filtered = append(filtered, row)
	}
	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.WarehouseID != b.WarehouseID {
			return a.WarehouseID < b.WarehouseID
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.SKU < b.SKU
	})

	h := sha256.New()
	for _, row := range filtered {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d\n",
			row.WarehouseID, row.Location, row.SKU, row.OnHand, row.HardLocked)
	}
	return hex.EncodeToString(h.Sum(nil))
}
