// Package schema maps entity types to their local collections and to the
// sheets and column layouts used on the remote spreadsheet.
package schema

import (
	"encoding/json"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/kimhsiao/possync/internal/models"
)

// EntityType tags a logical record kind.
type EntityType string

// Known entity kinds. Any other tag is served by a generic descriptor.
const (
	Sale          EntityType = "sale"
	InventoryItem EntityType = "inventory_item"
	Customer      EntityType = "customer"
	Transfer      EntityType = "transfer"
	CashSession   EntityType = "cash_session"
	TouristReport EntityType = "tourist_report"
	Employee      EntityType = "employee"
	Branch        EntityType = "branch"
	Supplier      EntityType = "supplier"
)

const (
	// MaxSheetNameLength is the remote store's sheet title limit, in characters.
	MaxSheetNameLength = 100

	// BranchDelimiter joins a base sheet name and a branch id.
	BranchDelimiter = "_"

	// IndexSheet is the directory sheet listing every table and its row count.
	IndexSheet = "_INDEX"

	// Trailing columns present in every layout.
	HeaderSyncAction = "sync_action"
	HeaderSyncedAt   = "synced_at"
)

// Kind controls how a field is rendered into a cell.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindTime // unix ms or preformatted string
	KindJSON // nested values such as joined child rows
)

// Column maps a record field to a sheet column.
type Column struct {
	Header string
	Field  string
	Kind   Kind
}

// Child is a collection joined into the parent record under Field by
// matching ForeignKey against the parent id.
type Child struct {
	Field      string
	Collection string
	ForeignKey string
}

// Descriptor describes how one entity type is stored and shipped.
type Descriptor struct {
	Type        EntityType
	Collection  string
	Sheet       string
	Description string
	Columns     []Column
	Children    []Child

	// BranchField routes records to per-branch sheets when set.
	BranchField string

	// KeyField is the business key used to update rows in place. Types
	// without one are append-only.
	KeyField string

	// Generic descriptors have no fixed layout; columns are the records'
	// fields in alphabetical order, extended as new fields appear.
	Generic bool
}

// Sharded reports whether records are routed to per-branch sheets.
func (d *Descriptor) Sharded() bool {
	return d.BranchField != ""
}

// SheetFor returns the sheet a record belongs to.
func (d *Descriptor) SheetFor(rec models.Record) string {
	if !d.Sharded() {
		return d.Sheet
	}
	return SheetName(d.Sheet, rec.String(d.BranchField))
}

// Headers returns the header row for a sheet receiving records.
func (d *Descriptor) Headers(records []models.Record) []string {
	var headers []string
	if d.Generic {
		headers = genericKeys(records...)
	} else {
		headers = make([]string, 0, len(d.Columns)+2)
		for _, col := range d.Columns {
			headers = append(headers, col.Header)
		}
	}
	return append(headers, HeaderSyncAction, HeaderSyncedAt)
}

// Row converts a record into cell values in header order. Generic
// descriptors lay rec out over headers, the sheet's current header row;
// nil headers mean rec's own keys. Fixed layouts ignore headers.
func (d *Descriptor) Row(rec models.Record, headers []string, syncedAt time.Time) []interface{} {
	action := rec.String(models.FieldAction)
	if action == "" {
		action = string(models.ActionUpsert)
	}
	stamp := syncedAt.UTC().Format(time.RFC3339)

	if d.Generic {
		if headers == nil {
			headers = d.Headers([]models.Record{rec})
		}
		row := make([]interface{}, 0, len(headers))
		for _, h := range headers {
			switch h {
			case HeaderSyncAction:
				row = append(row, action)
			case HeaderSyncedAt:
				row = append(row, stamp)
			default:
				row = append(row, cell(rec, h, kindOf(rec[h])))
			}
		}
		return row
	}

	row := make([]interface{}, 0, len(d.Columns)+2)
	for _, col := range d.Columns {
		row = append(row, cell(rec, col.Field, col.Kind))
	}
	return append(row, action, stamp)
}

// MergeHeaders extends an existing generic header row with the fields of
// records it lacks. Existing columns keep their positions.
func (d *Descriptor) MergeHeaders(existing []string, records []models.Record) []string {
	merged := append([]string(nil), existing...)
	have := make(map[string]bool, len(existing))
	for _, h := range existing {
		have[h] = true
	}
	for _, key := range genericKeys(records...) {
		if !have[key] {
			merged = append(merged, key)
		}
	}
	return merged
}

// KeyColumn returns the zero-based column of KeyField, or -1.
func (d *Descriptor) KeyColumn() int {
	if d.KeyField == "" {
		return -1
	}
	for i, col := range d.Columns {
		if col.Field == d.KeyField {
			return i
		}
	}
	return -1
}

// SheetName joins base and branch, truncated to MaxSheetNameLength
// characters. An empty branch yields base.
func SheetName(base, branch string) string {
	name := base
	if branch != "" {
		name = base + BranchDelimiter + branch
	}
	if utf8.RuneCountInString(name) <= MaxSheetNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxSheetNameLength])
}

func cell(rec models.Record, field string, kind Kind) interface{} {
	v, ok := rec[field]
	switch kind {
	case KindNumber:
		return rec.Float(field)
	case KindTime:
		if !ok || v == nil {
			return ""
		}
		switch t := v.(type) {
		case string:
			return t
		default:
			ms := int64(rec.Float(field))
			if ms == 0 {
				return ""
			}
			return models.MillisTime(ms).UTC().Format(time.RFC3339)
		}
	case KindJSON:
		if !ok || v == nil {
			return ""
		}
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return rec.String(field)
	}
}

func kindOf(v interface{}) Kind {
	switch v.(type) {
	case float64, int, int64:
		return KindNumber
	case map[string]interface{}, []interface{}, models.Record, []models.Record:
		return KindJSON
	default:
		return KindText
	}
}

// genericKeys is the sorted union of the records' fields, minus transport markers.
func genericKeys(records ...models.Record) []string {
	seen := map[string]bool{}
	for _, rec := range records {
		for key := range rec {
			if key == models.FieldAction || key == models.FieldEntityType {
				continue
			}
			seen[key] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
