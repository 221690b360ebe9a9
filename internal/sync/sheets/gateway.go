package sheets

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/sync/ratelimit"
)

// ListingTTL is how long a sheet listing is reused.
const ListingTTL = 5 * time.Minute

// Gateway routes every Client call through the shared rate limiter and
// caches the sheet listing.
type Gateway struct {
	client  Client
	limiter *ratelimit.Limiter
	clock   clock.Clock

	mu        sync.Mutex
	listing   []SheetInfo
	fetchedAt time.Time
	cached    bool
}

// NewGateway creates a Gateway. The listing cache is dropped whenever the
// limiter reports a throttled call.
func NewGateway(client Client, limiter *ratelimit.Limiter, clk clock.Clock) *Gateway {
	g := &Gateway{client: client, limiter: limiter, clock: clk}
	limiter.OnThrottle(g.Invalidate)
	return g
}

// Invalidate forces the next listing to hit the remote store.
func (g *Gateway) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = false
	g.listing = nil
}

// Sheets returns the sheet listing, from cache when younger than ListingTTL.
func (g *Gateway) Sheets(ctx context.Context) ([]SheetInfo, error) {
	g.mu.Lock()
	if g.cached && g.clock.Now().Sub(g.fetchedAt) < ListingTTL {
		out := append([]SheetInfo(nil), g.listing...)
		g.mu.Unlock()
		return out, nil
	}
	g.mu.Unlock()

	var listing []SheetInfo
	err := g.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		listing, err = g.client.ListSheets(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.listing = listing
	g.fetchedAt = g.clock.Now()
	g.cached = true
	g.mu.Unlock()
	return append([]SheetInfo(nil), listing...), nil
}

// Find returns the sheet titled title, if present.
func (g *Gateway) Find(ctx context.Context, title string) (SheetInfo, bool, error) {
	listing, err := g.Sheets(ctx)
	if err != nil {
		return SheetInfo{}, false, err
	}
	for _, s := range listing {
		if s.Title == title {
			return s, true, nil
		}
	}
	return SheetInfo{}, false, nil
}

// EnsureSheet creates title with a header row when it does not exist.
// Header formatting is best effort. It reports whether the sheet was created.
func (g *Gateway) EnsureSheet(ctx context.Context, title string, headers []string) (bool, error) {
	if _, ok, err := g.Find(ctx, title); err != nil || ok {
		return false, err
	}

	var info SheetInfo
	err := g.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		info, err = g.client.CreateSheet(ctx, title)
		return err
	})
	if err != nil {
		return false, err
	}
	g.Invalidate()

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := g.Write(ctx, A1(title, "A1"), [][]interface{}{header}); err != nil {
		return true, err
	}

	err = g.limiter.Do(ctx, func(ctx context.Context) error {
		return g.client.FormatHeader(ctx, info.ID, len(headers))
	})
	if err != nil {
		logging.WarnErr("Failed to format sheet header", err, map[string]interface{}{"sheet": title})
	}

	logging.Info("Created sheet", map[string]interface{}{"sheet": title, "columns": len(headers)})
	return true, nil
}

// Read returns the values of rng.
func (g *Gateway) Read(ctx context.Context, rng string) ([][]interface{}, error) {
	var values [][]interface{}
	err := g.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		values, err = g.client.ReadRange(ctx, rng)
		return err
	})
	return values, err
}

// Write overwrites rng with rows.
func (g *Gateway) Write(ctx context.Context, rng string, rows [][]interface{}) error {
	return g.limiter.Do(ctx, func(ctx context.Context) error {
		return g.client.WriteRange(ctx, rng, rows)
	})
}

// Append appends rows to the table at rng.
func (g *Gateway) Append(ctx context.Context, rng string, rows [][]interface{}) error {
	return g.limiter.Do(ctx, func(ctx context.Context) error {
		return g.client.AppendRange(ctx, rng, rows)
	})
}
