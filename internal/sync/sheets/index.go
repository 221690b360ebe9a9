package sheets

import (
	"context"
	"strings"
	"time"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/sync/schema"
)

// IndexHeaders is the header row of the index sheet.
var IndexHeaders = []string{"Table", "Description", "Rows", "Updated"}

// IndexEntry is one line of the index sheet.
type IndexEntry struct {
	Table       string
	Description string
	Rows        int
}

// IndexMaintainer keeps the index sheet listing every table with its row count.
type IndexMaintainer struct {
	gw    *Gateway
	clock clock.Clock
}

// NewIndexMaintainer creates an IndexMaintainer.
func NewIndexMaintainer(gw *Gateway, clk clock.Clock) *IndexMaintainer {
	return &IndexMaintainer{gw: gw, clock: clk}
}

// EnsureIndex creates the index sheet when missing.
func (m *IndexMaintainer) EnsureIndex(ctx context.Context) error {
	_, err := m.gw.EnsureSheet(ctx, schema.IndexSheet, IndexHeaders)
	return err
}

// RefreshIndex recounts the data rows of every sheet and rewrites the
// index. Known tables sum their branch shards; any other sheet is listed
// under its own name. This reads every sheet, so it runs once per pass.
func (m *IndexMaintainer) RefreshIndex(ctx context.Context) ([]IndexEntry, error) {
	listing, err := m.gw.Sheets(ctx)
	if err != nil {
		return nil, err
	}

	claimed := map[string]bool{schema.IndexSheet: true}
	var entries []IndexEntry

	for _, desc := range schema.Known() {
		entry := IndexEntry{Table: desc.Sheet, Description: desc.Description}
		for _, s := range listing {
			if !belongsTo(s.Title, desc) {
				continue
			}
			claimed[s.Title] = true
			n, err := m.countRows(ctx, s.Title)
			if err != nil {
				return nil, err
			}
			entry.Rows += n
		}
		entries = append(entries, entry)
	}

	for _, s := range listing {
		if claimed[s.Title] {
			continue
		}
		n, err := m.countRows(ctx, s.Title)
		if err != nil {
			return nil, err
		}
		entries = append(entries, IndexEntry{Table: s.Title, Description: schema.Lookup(s.Title).Description, Rows: n})
	}

	updated := m.clock.Now().UTC().Format(time.RFC3339)
	rows := make([][]interface{}, 0, len(entries)+1)
	header := make([]interface{}, len(IndexHeaders))
	for i, h := range IndexHeaders {
		header[i] = h
	}
	rows = append(rows, header)
	for _, e := range entries {
		rows = append(rows, []interface{}{e.Table, e.Description, e.Rows, updated})
	}

	if err := m.gw.Write(ctx, A1(schema.IndexSheet, "A1"), rows); err != nil {
		return nil, err
	}

	logging.Debug("Refreshed index sheet", map[string]interface{}{"tables": len(entries)})
	return entries, nil
}

// countRows returns the number of data rows below the header.
func (m *IndexMaintainer) countRows(ctx context.Context, title string) (int, error) {
	values, err := m.gw.Read(ctx, A1(title, "A:A"))
	if err != nil {
		return 0, err
	}
	if len(values) <= 1 {
		return 0, nil
	}
	return len(values) - 1, nil
}

func belongsTo(title string, desc *schema.Descriptor) bool {
	if title == desc.Sheet {
		return true
	}
	return desc.Sharded() && strings.HasPrefix(title, desc.Sheet+schema.BranchDelimiter)
}
