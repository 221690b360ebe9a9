// Package sheets delivers records to a Google Sheets spreadsheet: sheet
// provisioning, row conversion and the index sheet.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// SheetInfo identifies one sheet (tab) of the spreadsheet.
type SheetInfo struct {
	ID    int64
	Title string
}

// Client is the remote spreadsheet API. Ranges use A1 notation.
type Client interface {
	ListSheets(ctx context.Context) ([]SheetInfo, error)
	CreateSheet(ctx context.Context, title string) (SheetInfo, error)
	ReadRange(ctx context.Context, rng string) ([][]interface{}, error)
	WriteRange(ctx context.Context, rng string, rows [][]interface{}) error
	AppendRange(ctx context.Context, rng string, rows [][]interface{}) error
	FormatHeader(ctx context.Context, sheetID int64, columns int) error
}

// GoogleClient implements Client with the Sheets v4 API.
type GoogleClient struct {
	svc           *gsheets.Service
	spreadsheetID string
}

var _ Client = (*GoogleClient)(nil)

// NewGoogleClient creates a client for spreadsheetID. Authentication comes
// from opts, typically option.WithTokenSource.
func NewGoogleClient(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*GoogleClient, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client init failed: %w", err)
	}
	return &GoogleClient{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// ListSheets returns every sheet of the spreadsheet.
func (c *GoogleClient) ListSheets(ctx context.Context) ([]SheetInfo, error) {
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	out := make([]SheetInfo, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties == nil {
			continue
		}
		out = append(out, SheetInfo{ID: s.Properties.SheetId, Title: s.Properties.Title})
	}
	return out, nil
}

// CreateSheet adds a sheet titled title.
func (c *GoogleClient) CreateSheet(ctx context.Context, title string) (SheetInfo, error) {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: title},
			},
		}},
	}
	resp, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return SheetInfo{}, err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return SheetInfo{}, fmt.Errorf("create sheet %q: empty reply", title)
	}
	props := resp.Replies[0].AddSheet.Properties
	return SheetInfo{ID: props.SheetId, Title: props.Title}, nil
}

// ReadRange returns the values of rng.
func (c *GoogleClient) ReadRange(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// WriteRange overwrites rng starting at its top-left cell.
func (c *GoogleClient) WriteRange(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// AppendRange appends rows after the last row of rng's table.
func (c *GoogleClient) AppendRange(ctx context.Context, rng string, rows [][]interface{}) error {
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// FormatHeader makes the first row bold white on dark grey and freezes it.
func (c *GoogleClient) FormatHeader(ctx context.Context, sheetID int64, columns int) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{
			{
				RepeatCell: &gsheets.RepeatCellRequest{
					Range: &gsheets.GridRange{
						SheetId:          sheetID,
						StartRowIndex:    0,
						EndRowIndex:      1,
						StartColumnIndex: 0,
						EndColumnIndex:   int64(columns),
						ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
					},
					Cell: &gsheets.CellData{
						UserEnteredFormat: &gsheets.CellFormat{
							BackgroundColor: &gsheets.Color{Red: 0.2, Green: 0.2, Blue: 0.2},
							TextFormat: &gsheets.TextFormat{
								Bold:            true,
								ForegroundColor: &gsheets.Color{Red: 1, Green: 1, Blue: 1},
							},
						},
					},
					Fields: "userEnteredFormat(backgroundColor,textFormat)",
				},
			},
			{
				UpdateSheetProperties: &gsheets.UpdateSheetPropertiesRequest{
					Properties: &gsheets.SheetProperties{
						SheetId:         sheetID,
						GridProperties:  &gsheets.GridProperties{FrozenRowCount: 1},
						ForceSendFields: []string{"SheetId"},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
		},
	}
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	return err
}

// A1 returns the range "'title'!ref" with title quoted.
func A1(title, ref string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + ref
}

// ColumnLetter converts a zero-based column index to its A1 letters.
func ColumnLetter(index int) string {
	letters := ""
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		letters = string(rune('A'+(n-1)%26)) + letters
	}
	return letters
}
