package sheets

import (
	"context"
	"fmt"
	"time"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/schema"
)

// Writer converts records to rows and writes them to their sheets.
type Writer struct {
	gw    *Gateway
	clock clock.Clock
}

// NewWriter creates a Writer.
func NewWriter(gw *Gateway, clk clock.Clock) *Writer {
	return &Writer{gw: gw, clock: clk}
}

// Deliver writes records of one entity type. Branch-sharded types are
// split per branch sheet. Types with a business key are updated in place
// when a row with the same key exists; all other rows are appended.
func (w *Writer) Deliver(ctx context.Context, entityType string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	desc := schema.Lookup(entityType)
	syncedAt := w.clock.Now()

	order := []string{}
	groups := map[string][]models.Record{}
	for _, rec := range records {
		sheet := desc.SheetFor(rec)
		if _, ok := groups[sheet]; !ok {
			order = append(order, sheet)
		}
		groups[sheet] = append(groups[sheet], rec)
	}

	for _, sheet := range order {
		group := groups[sheet]
		headers := desc.Headers(group)
		created, err := w.gw.EnsureSheet(ctx, sheet, headers)
		if err != nil {
			return fmt.Errorf("ensure sheet %q: %w", sheet, err)
		}
		if desc.Generic && !created {
			if headers, err = w.genericHeaders(ctx, desc, sheet, group); err != nil {
				return fmt.Errorf("read header of %q: %w", sheet, err)
			}
		}

		if desc.KeyColumn() >= 0 {
			err = w.upsertByKey(ctx, desc, sheet, group, headers, syncedAt)
		} else {
			err = w.append(ctx, desc, sheet, group, headers, syncedAt)
		}
		if err != nil {
			return fmt.Errorf("write sheet %q: %w", sheet, err)
		}

		logging.Debug("Delivered records", map[string]interface{}{
			"entity_type": entityType,
			"sheet":       sheet,
			"count":       len(group),
		})
	}
	return nil
}

// genericHeaders returns the header row of an existing generic sheet,
// extended in place with any fields of records it does not have yet.
func (w *Writer) genericHeaders(ctx context.Context, desc *schema.Descriptor, sheet string, records []models.Record) ([]string, error) {
	values, err := w.gw.Read(ctx, A1(sheet, "1:1"))
	if err != nil {
		return nil, err
	}
	var existing []string
	if len(values) > 0 {
		for _, v := range values[0] {
			existing = append(existing, fmt.Sprint(v))
		}
	}
	if len(existing) == 0 {
		existing = desc.Headers(nil)
	}

	headers := desc.MergeHeaders(existing, records)
	if len(headers) == len(existing) && len(values) > 0 && len(values[0]) > 0 {
		return headers, nil
	}
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := w.gw.Write(ctx, A1(sheet, "A1"), [][]interface{}{header}); err != nil {
		return nil, err
	}
	logging.Info("Extended sheet header", map[string]interface{}{
		"sheet":   sheet,
		"columns": len(headers),
	})
	return headers, nil
}

func (w *Writer) append(ctx context.Context, desc *schema.Descriptor, sheet string, records []models.Record, headers []string, syncedAt time.Time) error {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		rows = append(rows, desc.Row(rec, headers, syncedAt))
	}
	return w.gw.Append(ctx, A1(sheet, "A1"), rows)
}

// upsertByKey rewrites rows whose key column matches a record's key and
// appends the rest. Within one call the last record per key wins.
func (w *Writer) upsertByKey(ctx context.Context, desc *schema.Descriptor, sheet string, records []models.Record, headers []string, syncedAt time.Time) error {
	col := ColumnLetter(desc.KeyColumn())
	values, err := w.gw.Read(ctx, A1(sheet, col+":"+col))
	if err != nil {
		return err
	}

	// Sheet row numbers are 1-based and row 1 is the header.
	existing := map[string]int{}
	for i, row := range values {
		if i == 0 || len(row) == 0 {
			continue
		}
		key := fmt.Sprint(row[0])
		if key != "" {
			existing[key] = i + 1
		}
	}

	var appendOrder []string
	appends := map[string][]interface{}{}
	var unkeyed [][]interface{}
	for _, rec := range records {
		row := desc.Row(rec, headers, syncedAt)
		key := rec.String(desc.KeyField)
		switch {
		case key == "":
			unkeyed = append(unkeyed, row)
		case existing[key] > 0:
			if err := w.gw.Write(ctx, A1(sheet, fmt.Sprintf("A%d", existing[key])), [][]interface{}{row}); err != nil {
				return err
			}
		default:
			if _, ok := appends[key]; !ok {
				appendOrder = append(appendOrder, key)
			}
			appends[key] = row
		}
	}

	rows := make([][]interface{}, 0, len(appendOrder)+len(unkeyed))
	for _, key := range appendOrder {
		rows = append(rows, appends[key])
	}
	rows = append(rows, unkeyed...)
	if len(rows) == 0 {
		return nil
	}
	return w.gw.Append(ctx, A1(sheet, "A1"), rows)
}
