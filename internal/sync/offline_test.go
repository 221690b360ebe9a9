// End-to-end tests for offline recording: everything up to delivery works
// without the remote store, and the backlog drains once connectivity returns.
package sync_test

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/db"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/notify"
	syncpkg "github.com/kimhsiao/possync/internal/sync"
	"github.com/kimhsiao/possync/internal/sync/journal"
	"github.com/kimhsiao/possync/internal/sync/queue"
	"github.com/kimhsiao/possync/internal/sync/ratelimit"
	"github.com/kimhsiao/possync/internal/sync/recorder"
	"github.com/kimhsiao/possync/internal/sync/scheduler"
	"github.com/kimhsiao/possync/internal/sync/schema"
	"github.com/kimhsiao/possync/internal/sync/sheets"
)

// memSpreadsheet is a minimal in-memory sheets.Client.
type memSpreadsheet struct {
	mu     gosync.Mutex
	sheets []sheets.SheetInfo
	data   map[string][][]interface{}
}

func newMemSpreadsheet() *memSpreadsheet {
	return &memSpreadsheet{data: map[string][][]interface{}{}}
}

func (m *memSpreadsheet) ListSheets(ctx context.Context) ([]sheets.SheetInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sheets.SheetInfo(nil), m.sheets...), nil
}

func (m *memSpreadsheet) CreateSheet(ctx context.Context, title string) (sheets.SheetInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := sheets.SheetInfo{ID: int64(len(m.sheets) + 1), Title: title}
	m.sheets = append(m.sheets, info)
	m.data[title] = nil
	return info, nil
}

func (m *memSpreadsheet) ReadRange(ctx context.Context, rng string) ([][]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	title, col, row := splitRange(rng)
	if col < 0 {
		if row >= 1 && row <= len(m.data[title]) {
			return [][]interface{}{m.data[title][row-1]}, nil
		}
		return nil, nil
	}
	out := [][]interface{}{}
	for _, row := range m.data[title] {
		if col < len(row) {
			out = append(out, []interface{}{row[col]})
		} else {
			out = append(out, []interface{}{})
		}
	}
	return out, nil
}

func (m *memSpreadsheet) WriteRange(ctx context.Context, rng string, rows [][]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	title, _, start := splitRange(rng)
	data := m.data[title]
	for i, r := range rows {
		for len(data) <= start-1+i {
			data = append(data, nil)
		}
		data[start-1+i] = r
	}
	m.data[title] = data
	return nil
}

func (m *memSpreadsheet) AppendRange(ctx context.Context, rng string, rows [][]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	title, _, _ := splitRange(rng)
	m.data[title] = append(m.data[title], rows...)
	return nil
}

func (m *memSpreadsheet) FormatHeader(ctx context.Context, sheetID int64, columns int) error {
	return nil
}

func (m *memSpreadsheet) rows(title string) [][]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[title]
}

// splitRange returns the title, zero-based column and 1-based row of an
// A1 range such as 'Customers'!B:B or 'Customers'!A5.
func splitRange(rng string) (string, int, int) {
	sep := strings.LastIndex(rng, "!")
	title := strings.ReplaceAll(strings.Trim(rng[:sep], "'"), "''", "'")
	ref, _, _ := strings.Cut(rng[sep+1:], ":")

	col, i := 0, 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	row, _ := strconv.Atoi(ref[i:])
	return title, col - 1, row
}

type alwaysAuthed struct{}

func (alwaysAuthed) Authenticate(ctx context.Context) error { return nil }

// station is one POS terminal: a file-backed store plus the full sync stack.
type station struct {
	conn      *db.DB
	store     *db.Repository
	outbox    *queue.Outbox
	recorder  *recorder.Recorder
	scheduler *scheduler.Scheduler
}

func openStation(t *testing.T, dir string, remote sheets.Client) *station {
	t.Helper()
	conn, err := db.Open(dir)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := conn.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	store := db.NewRepository(conn.DB)

	clk := clock.NewManual(time.UnixMilli(1_700_000_000_000))
	j := journal.New(store, clk)
	outbox := queue.NewOutbox(store, clk, j)
	shadows := queue.NewShadows(store, clk)
	settings := syncpkg.NewSettingsStore(store, &models.SyncSettings{ClientID: "client", SpreadsheetID: "sheet"})
	gateway := sheets.NewGateway(remote, ratelimit.New(ratelimit.DefaultConfig(), clk), clk)

	engine := syncpkg.NewSyncEngine(syncpkg.Deps{
		Store:     store,
		Deliverer: sheets.NewWriter(gateway, clk),
		Index:     sheets.NewIndexMaintainer(gateway, clk),
		Auth:      alwaysAuthed{},
		Notifier:  &notify.Recorder{},
		Clock:     clk,
		Journal:   j,
		Outbox:    outbox,
		Shadows:   shadows,
		Settings:  settings,
	})

	return &station{
		conn:      conn,
		store:     store,
		outbox:    outbox,
		recorder:  recorder.New(store, outbox, shadows),
		scheduler: scheduler.NewScheduler(engine, settings, outbox, nil),
	}
}

func (s *station) close() {
	s.store.Close()
	s.conn.Close()
}

func (s *station) pending(t *testing.T) int {
	t.Helper()
	stats, err := s.outbox.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	return stats.Pending
}

func indexRows(t *testing.T, remote *memSpreadsheet, table string) int {
	t.Helper()
	for _, row := range remote.rows(schema.IndexSheet) {
		if len(row) >= 3 && row[0] == table {
			return row[2].(int)
		}
	}
	t.Fatalf("index sheet has no row for %s", table)
	return 0
}

// TestOfflineRecordingSurvivesRestart records changes while offline,
// restarts the station and drains the backlog once back online.
func TestOfflineRecordingSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	remote := newMemSpreadsheet()

	s := openStation(t, dir, remote)
	s.scheduler.SetOnlineStatus(false)

	for _, name := range []string{"Ana", "Luis"} {
		rec := models.Record{"id": "C-" + name, "name": name}
		if _, err := s.recorder.Save(ctx, "customer", rec); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	if _, err := s.scheduler.SyncNow(ctx); !apperrors.Is(err, apperrors.ErrSyncOffline) {
		t.Fatalf("SyncNow() offline error = %v, want %s", err, apperrors.ErrSyncOffline)
	}
	if got := s.pending(t); got != 2 {
		t.Errorf("pending while offline = %d, want 2", got)
	}
	if len(remote.sheets) != 0 {
		t.Errorf("remote touched while offline: %v", remote.sheets)
	}
	s.close()

	s = openStation(t, dir, remote)
	defer s.close()
	if got := s.pending(t); got != 2 {
		t.Fatalf("pending after restart = %d, want 2", got)
	}

	s.scheduler.SetOnlineStatus(true)
	result, err := s.scheduler.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow() failed: %v", err)
	}
	if result.Synced != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 synced", result)
	}
	if got := s.pending(t); got != 0 {
		t.Errorf("pending after sync = %d, want 0", got)
	}

	rows := remote.rows("Customers")
	if len(rows) != 3 {
		t.Fatalf("Customers rows = %d, want header + 2", len(rows))
	}
	if got := indexRows(t, remote, "Customers"); got != 2 {
		t.Errorf("index rows for Customers = %d, want 2", got)
	}
}

// TestOfflineConcurrentRecording records from several goroutines and
// checks a single pass delivers every change exactly once.
func TestOfflineConcurrentRecording(t *testing.T) {
	ctx := context.Background()
	remote := newMemSpreadsheet()
	s := openStation(t, t.TempDir(), remote)
	defer s.close()

	const workers, perWorker = 5, 10
	var wg gosync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				rec := models.Record{"id": fmt.Sprintf("C-%d-%d", w, i), "name": "walk-in"}
				if _, err := s.recorder.Save(ctx, "customer", rec); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Save() failed: %v", err)
	}

	if got := s.pending(t); got != workers*perWorker {
		t.Fatalf("pending = %d, want %d", got, workers*perWorker)
	}

	result, err := s.scheduler.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow() failed: %v", err)
	}
	if result.Synced != workers*perWorker {
		t.Errorf("Synced = %d, want %d", result.Synced, workers*perWorker)
	}
	if got := len(remote.rows("Customers")) - 1; got != workers*perWorker {
		t.Errorf("delivered rows = %d, want %d", got, workers*perWorker)
	}
}
