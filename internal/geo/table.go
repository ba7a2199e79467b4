package geo

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/cropprice/internal/model"
)

// Table is the read-only reference location set. It is built once at startup
// and shared by reference; nothing mutates it afterwards, so concurrent
// queries read it without locking.
type Table struct {
	locs []model.ReferenceLocation
}

// NewTable validates rows and freezes them into a Table. Rows with
// out-of-range or non-finite coordinates, or a blank district, are dropped
// with a warning. A repeated (state, district) pair, compared without regard
// to case or spacing, keeps its first row.
func NewTable(rows []model.ReferenceLocation) *Table {
	log := zap.L().With(zap.String("component", "geo.table"))

	locs := make([]model.ReferenceLocation, 0, len(rows))
	seen := make(map[string]int, len(rows))
	var dropped, duplicates int
	for i, r := range rows {
		r.State = strings.TrimSpace(r.State)
		r.District = strings.TrimSpace(r.District)
		if r.District == "" || !model.ValidCoordinates(r.Latitude, r.Longitude) {
			dropped++
			log.Warn("dropping invalid reference row",
				zap.Int("row", i),
				zap.String("state", r.State),
				zap.String("district", r.District),
				zap.Float64("latitude", r.Latitude),
				zap.Float64("longitude", r.Longitude),
			)
			continue
		}
		key := locationKey(r)
		if first, ok := seen[key]; ok {
			duplicates++
			log.Debug("dropping duplicate reference row",
				zap.Int("row", i),
				zap.Int("first_row", first),
				zap.String("state", r.State),
				zap.String("district", r.District),
			)
			continue
		}
		seen[key] = i
		locs = append(locs, r)
	}

	if dropped > 0 || duplicates > 0 {
		log.Warn("reference table loaded with dropped rows",
			zap.Int("kept", len(locs)),
			zap.Int("dropped", dropped),
			zap.Int("duplicates", duplicates),
		)
	}
	return &Table{locs: locs}
}

func locationKey(r model.ReferenceLocation) string {
	fold := func(s string) string { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }
	return fold(r.State) + "\x00" + fold(r.District)
}

// Len returns the number of valid locations.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.locs)
}

// Locations returns a copy of the table rows.
func (t *Table) Locations() []model.ReferenceLocation {
	if t == nil {
		return nil
	}
	out := make([]model.ReferenceLocation, len(t.locs))
	copy(out, t.locs)
	return out
}
