package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type row struct {
	ID   string
	Rank int
}

func testFetcher(ttl time.Duration, batch int, now *time.Time) *Fetcher[row] {
	f := New(Options[row]{
		TTL:       ttl,
		BatchSize: batch,
		Identity:  func(r row) string { return r.ID },
	})
	f.now = func() time.Time { return *now }
	return f
}

// pagedUpstream simulates a paginated listing of total rows, counting
// calls and optionally failing.
type pagedUpstream struct {
	total int
	calls int
	err   error

	// overlap shifts each page back so its first rows repeat the tail
	// of the previous page.
	overlap int
}

func (u *pagedUpstream) page(_ context.Context, limit, offset int) ([]row, int, error) {
	u.calls++
	if u.err != nil {
		return nil, 0, u.err
	}
	start := offset
	if u.overlap > 0 && offset > 0 {
		start = offset - u.overlap
	}
	var out []row
	for i := start; i < start+limit && i < u.total; i++ {
		out = append(out, row{ID: fmt.Sprintf("r%04d", i), Rank: i})
	}
	return out, u.total, nil
}

func TestFetch_BatchesUntilTotal(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := testFetcher(time.Minute, 1000, &now)
	up := &pagedUpstream{total: 2500}

	items, stale, err := f.Fetch(context.Background(), "k", 0, up.page)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("fresh fill reported stale")
	}
	if len(items) != 2500 {
		t.Errorf("items = %d, want 2500", len(items))
	}
	if up.calls != 3 {
		t.Errorf("upstream calls = %d, want 3 for 2500 rows at batch 1000", up.calls)
	}
}

func TestFetch_DeduplicatesAcrossBatches(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := testFetcher(time.Minute, 100, &now)
	up := &pagedUpstream{total: 250, overlap: 10}

	items, _, err := f.Fetch(context.Background(), "k", 0, up.page)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]int)
	for _, it := range items {
		seen[it.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Fatalf("row %s appears %d times", id, n)
		}
	}
}

func TestFetch_TotalLimitTruncates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := testFetcher(time.Minute, 1000, &now)
	up := &pagedUpstream{total: 5000}

	items, _, err := f.Fetch(context.Background(), "k", 1500, up.page)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1500 {
		t.Errorf("items = %d, want 1500", len(items))
	}
	if up.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", up.calls)
	}
}

func TestFetch_CacheHitSkipsUpstream(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var hits, misses int
	f := New(Options[row]{
		TTL:       time.Minute,
		BatchSize: 1000,
		Identity:  func(r row) string { return r.ID },
		OnHit:     func() { hits++ },
		OnMiss:    func() { misses++ },
	})
	f.now = func() time.Time { return now }
	up := &pagedUpstream{total: 10}

	f.Fetch(context.Background(), "k", 0, up.page)
	f.Fetch(context.Background(), "k", 0, up.page)

	if up.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", up.calls)
	}
	if hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", hits, misses)
	}
}

func TestFetch_KeysIsolated(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := testFetcher(time.Minute, 1000, &now)
	a := &pagedUpstream{total: 5}
	b := &pagedUpstream{total: 7}

	itemsA, _, _ := f.Fetch(context.Background(), "a", 0, a.page)
	itemsB, _, _ := f.Fetch(context.Background(), "b", 0, b.page)

	if len(itemsA) != 5 || len(itemsB) != 7 {
		t.Errorf("got %d/%d items, want 5/7", len(itemsA), len(itemsB))
	}
}

func TestFetch_ExpiredRefetches(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := testFetcher(time.Minute, 1000, &now)
	up := &pagedUpstream{total: 10}

	f.Fetch(context.Background(), "k", 0, up.page)
	now = now.Add(2 * time.Minute)
	f.Fetch(context.Background(), "k", 0, up.page)

	if up.calls != 2 {
		t.Errorf("upstream calls = %d, want refetch after TTL", up.calls)
	}
}

func TestFetch_StaleOnRefreshFailure(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var stales int
	f := New(Options[row]{
		TTL:       time.Minute,
		BatchSize: 1000,
		Identity:  func(r row) string { return r.ID },
		OnStale:   func() { stales++ },
	})
	f.now = func() time.Time { return now }
	up := &pagedUpstream{total: 10}

	f.Fetch(context.Background(), "k", 0, up.page)

	now = now.Add(2 * time.Minute)
	up.err = errors.New("upstream down")
	items, stale, err := f.Fetch(context.Background(), "k", 0, up.page)
	if err != nil {
		t.Fatalf("warm cache + failed refresh returned error: %v", err)
	}
	if !stale {
		t.Error("stale = false, want true")
	}
	if len(items) != 10 {
		t.Errorf("items = %d, want previous payload", len(items))
	}
	if stales != 1 {
		t.Errorf("OnStale calls = %d, want 1", stales)
	}

	// the warm entry survives the failed refresh
	up.err = errors.New("still down")
	items, stale, err = f.Fetch(context.Background(), "k", 0, up.page)
	if err != nil || !stale || len(items) != 10 {
		t.Errorf("second stale read: items=%d stale=%v err=%v", len(items), stale, err)
	}
}

func TestFetch_ColdFailureReturnsError(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := testFetcher(time.Minute, 1000, &now)
	up := &pagedUpstream{err: errors.New("upstream down")}

	_, stale, err := f.Fetch(context.Background(), "k", 0, up.page)
	if err == nil {
		t.Fatal("cold cache + failed fetch returned nil error")
	}
	if stale {
		t.Error("stale = true with no cached payload")
	}
}
