package sheets

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
)

// fakeClient is an in-memory spreadsheet understanding the A1 forms the
// package emits: 'title'!A5 and 'title'!B:B.
type fakeClient struct {
	mu        sync.Mutex
	sheets    []SheetInfo
	data      map[string][][]interface{}
	formatted []int64
	listCalls int
	calls     []string

	failFormat bool
	throttle   int // fail the next n data calls with HTTP 429
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string][][]interface{}{}}
}

func (f *fakeClient) addSheet(title string, rows ...[]interface{}) {
	f.sheets = append(f.sheets, SheetInfo{ID: int64(len(f.sheets) + 1), Title: title})
	f.data[title] = rows
}

func (f *fakeClient) throttled() error {
	if f.throttle > 0 {
		f.throttle--
		return &googleapi.Error{Code: http.StatusTooManyRequests}
	}
	return nil
}

func (f *fakeClient) ListSheets(ctx context.Context) ([]SheetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.calls = append(f.calls, "list")
	return append([]SheetInfo(nil), f.sheets...), nil
}

func (f *fakeClient) CreateSheet(ctx context.Context, title string) (SheetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create "+title)
	for _, s := range f.sheets {
		if s.Title == title {
			return SheetInfo{}, errors.New("sheet already exists")
		}
	}
	info := SheetInfo{ID: int64(len(f.sheets) + 1), Title: title}
	f.sheets = append(f.sheets, info)
	f.data[title] = nil
	return info, nil
}

func (f *fakeClient) ReadRange(ctx context.Context, rng string) ([][]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "read "+rng)
	if err := f.throttled(); err != nil {
		return nil, err
	}
	title, col, row := parseA1(rng)
	rows, ok := f.data[title]
	if !ok {
		return nil, errors.New("unknown sheet " + title)
	}
	if col < 0 {
		// Whole-row range such as 1:1.
		if row >= 1 && row <= len(rows) {
			return [][]interface{}{rows[row-1]}, nil
		}
		return nil, nil
	}
	out := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		if col < len(row) {
			out = append(out, []interface{}{row[col]})
		} else {
			out = append(out, []interface{}{})
		}
	}
	return out, nil
}

func (f *fakeClient) WriteRange(ctx context.Context, rng string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "write "+rng)
	if err := f.throttled(); err != nil {
		return err
	}
	title, _, row := parseA1(rng)
	data := f.data[title]
	for i, r := range rows {
		idx := row - 1 + i
		for len(data) <= idx {
			data = append(data, nil)
		}
		data[idx] = r
	}
	f.data[title] = data
	return nil
}

func (f *fakeClient) AppendRange(ctx context.Context, rng string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "append "+rng)
	if err := f.throttled(); err != nil {
		return err
	}
	title, _, _ := parseA1(rng)
	f.data[title] = append(f.data[title], rows...)
	return nil
}

func (f *fakeClient) FormatHeader(ctx context.Context, sheetID int64, columns int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFormat {
		return errors.New("formatting rejected")
	}
	f.formatted = append(f.formatted, sheetID)
	return nil
}

func (f *fakeClient) rows(title string) [][]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[title]
}

// parseA1 returns the sheet title, zero-based column and 1-based row of rng.
func parseA1(rng string) (string, int, int) {
	sep := strings.LastIndex(rng, "!")
	title := strings.ReplaceAll(strings.Trim(rng[:sep], "'"), "''", "'")
	ref := rng[sep+1:]
	if i := strings.Index(ref, ":"); i >= 0 {
		ref = ref[:i]
	}

	col, i := 0, 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	row, _ := strconv.Atoi(ref[i:])
	return title, col - 1, row
}
