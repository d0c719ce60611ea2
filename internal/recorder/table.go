// Package recorder collects per-epoch records across runs and writes them out as CSV or
// Parquet tables.
package recorder

import (
	"github.com/hyperjump/chosei/internal/models"
)

// Table is an append-only list of epoch records from one or more runs.
type Table struct {
	records []models.EpochRecord
}

// NewTable returns a table holding records.
func NewTable(records ...models.EpochRecord) *Table {
	t := &Table{}
	t.Add(records...)
	return t
}

// Add appends records.
func (t *Table) Add(records ...models.EpochRecord) {
	t.records = append(t.records, records...)
}

// Records returns the records in insertion order.
func (t *Table) Records() []models.EpochRecord {
	return t.records
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// Best returns the record with the highest accuracy among records of split (any split
// when empty). The first maximum in insertion order wins.
func (t *Table) Best(split models.Split) (models.EpochRecord, bool) {
	var best models.EpochRecord
	found := false
	for _, rec := range t.records {
		if split != "" && rec.Split != split {
			continue
		}
		if !found || rec.Accuracy > best.Accuracy {
			best, found = rec, true
		}
	}
	return best, found
}

// RunIDs returns the distinct run IDs in order of first appearance.
func (t *Table) RunIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, rec := range t.records {
		if _, ok := seen[rec.RunID]; ok {
			continue
		}
		seen[rec.RunID] = struct{}{}
		ids = append(ids, rec.RunID)
	}
	return ids
}

// Run returns the records of one run.
func (t *Table) Run(id string) []models.EpochRecord {
	var out []models.EpochRecord
	for _, rec := range t.records {
		if rec.RunID == id {
			out = append(out, rec)
		}
	}
	return out
}
