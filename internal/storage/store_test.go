package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/history"
)

var drivers = []string{DriverCGO, DriverPure}

// openTestStore creates a migrated, file-backed store in a temp dir. A file
// rather than :memory: keeps every pooled connection on the same database.
func openTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	return openTestStoreWith(t, DriverCGO, opts...)
}

func openTestStoreWith(t *testing.T, driver string, opts ...Option) *SQLiteStore {
	t.Helper()
	db, err := Open(OpenOptions{Driver: driver, Path: filepath.Join(t.TempDir(), "trail.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func visitAt(url, title string, ts int64) history.Visit {
	return history.Visit{URL: url, Title: title, VisitTime: ts, Transition: history.TransitionLink}
}

func mustInsert(t *testing.T, store *SQLiteStore, v history.Visit) history.VisitID {
	t.Helper()
	id, err := store.Insert(context.Background(), v)
	require.NoError(t, err)
	return id
}

// --- Insert + Get roundtrip ---

func TestInsert_GetRoundtrip(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			store := openTestStoreWith(t, driver)
			ctx := context.Background()

			in := history.Visit{
				URL:        "https://example.com/article",
				Title:      "Test Article",
				VisitTime:  1_700_000_000,
				Duration:   history.Int64(12),
				FromURL:    "https://news.example.org/",
				Transition: history.TransitionTyped,
			}

			id, err := store.Insert(ctx, in)
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			got, err := store.Get(ctx, id)
			require.NoError(t, err)

			want := in
			want.ID = id
			assert.Equal(t, want, *got)
		})
	}
}

func TestInsert_WithoutDurationRoundtripsNil(t *testing.T) {
	store := openTestStore(t)
	id := mustInsert(t, store, visitAt("https://example.com", "", 10))

	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got.Duration)
	assert.Equal(t, "", got.Title)
}

func TestInsert_GeneratesUniqueIDs(t *testing.T) {
	store := openTestStore(t)

	seen := map[history.VisitID]bool{}
	for i := 0; i < 50; i++ {
		id := mustInsert(t, store, visitAt("https://a.example", "A", 100))
		assert.False(t, seen[id], "id %s reused", id)
		seen[id] = true
	}
}

func TestInsert_IDsNotReusedAfterDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := mustInsert(t, store, visitAt("https://a.example", "A", 100))
	_, err := store.DeleteAll(ctx)
	require.NoError(t, err)

	second := mustInsert(t, store, visitAt("https://a.example", "A", 100))
	assert.NotEqual(t, first, second)
}

func TestInsert_ConstraintViolationIsStorageError(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Insert(context.Background(), history.Visit{
		URL: "https://example.com", VisitTime: 1, Transition: "teleport",
	})
	require.Error(t, err)
	assert.True(t, history.IsStorage(err))
}

// --- Get / Delete / UpdateDuration ---

func TestGet_NotFound(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, history.ErrNotFound)
	assert.Nil(t, got)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, store, visitAt("https://example.com", "Delete Me", 100))

	existed, err := store.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, history.ErrNotFound)

	existed, err = store.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestUpdateDuration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, store, visitAt("https://example.com", "Tab", 100))

	require.NoError(t, store.UpdateDuration(ctx, id, 30))
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Duration)
	assert.Equal(t, int64(30), *got.Duration)

	// Later updates overwrite.
	require.NoError(t, store.UpdateDuration(ctx, id, 45))
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(45), *got.Duration)
	assert.Equal(t, int64(100), got.VisitTime, "visit_time is immutable")
}

func TestUpdateDuration_NotFound(t *testing.T) {
	store := openTestStore(t)

	err := store.UpdateDuration(context.Background(), "missing", 5)
	assert.ErrorIs(t, err, history.ErrNotFound)
}

// --- Counts ---

func TestCountAndCountForURL(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustInsert(t, store, visitAt("https://a.example", "A", int64(i)))
	}
	mustInsert(t, store, visitAt("https://b.example", "B", 0))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = store.CountForURL(ctx, "https://a.example")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = store.CountForURL(ctx, "https://nowhere.example")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// --- Bulk deletion ---

func TestDeleteOlderThan(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old1 := mustInsert(t, store, visitAt("https://old1.example", "Old 1", 100))
	old2 := mustInsert(t, store, visitAt("https://old2.example", "Old 2", 199))
	edge := mustInsert(t, store, visitAt("https://edge.example", "Edge", 200))
	recent := mustInsert(t, store, visitAt("https://recent.example", "Recent", 300))

	pending, err := store.CountOlderThan(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	removed, err := store.DeleteOlderThan(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	for _, id := range []history.VisitID{old1, old2} {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, history.ErrNotFound)
	}
	for _, id := range []history.VisitID{edge, recent} {
		_, err := store.Get(ctx, id)
		assert.NoError(t, err, "visit at or after threshold must survive")
	}
}

func TestDeleteOlderThan_MostRowsExpired(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			store := openTestStoreWith(t, driver, WithAuditLog(true))
			ctx := context.Background()

			for i := 0; i < 30; i++ {
				mustInsert(t, store, visitAt(fmt.Sprintf("https://old%d.example", i), "Old", int64(100+i)))
			}
			first := mustInsert(t, store, history.Visit{
				URL: "https://keep.example/a", Title: "Keep A", VisitTime: 500,
				Duration: history.Int64(42), FromURL: "https://ref.example/", Transition: history.TransitionTyped,
			})
			second := mustInsert(t, store, visitAt("https://keep.example/b", "Keep B", 500))

			removed, err := store.DeleteOlderThan(ctx, 200)
			require.NoError(t, err)
			assert.Equal(t, int64(30), removed)

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			got, err := store.Get(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, "Keep A", got.Title)
			assert.Equal(t, history.Int64(42), got.Duration)
			assert.Equal(t, "https://ref.example/", got.FromURL)

			// Same-second ties still come back in reverse insertion order,
			// and later inserts sort after the survivors.
			third := mustInsert(t, store, visitAt("https://keep.example/c", "Keep C", 500))
			visits, err := store.Scan(ctx, Filter{})
			require.NoError(t, err)
			require.Len(t, visits, 3)
			assert.Equal(t, []history.VisitID{third, second, first},
				[]history.VisitID{visits[0].ID, visits[1].ID, visits[2].ID})

			// Folded columns survive the copy.
			hits, err := store.Scan(ctx, Filter{Text: "KEEP A"})
			require.NoError(t, err)
			require.Len(t, hits, 1)

			entries, err := store.AuditLog(ctx, 10)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, int64(30), entries[0].Removed)
		})
	}
}

func TestDeleteOlderThan_NothingExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, store, visitAt("https://a.example", "A", 500))

	removed, err := store.DeleteOlderThan(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = openTestStore(t).DeleteOlderThan(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestDeleteAll(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, visitAt("https://a.example", "A", 1))
	mustInsert(t, store, visitAt("https://b.example", "B", 2))

	removed, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	removed, err = store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestBulkDelete_CancelledContextLeavesStoreIntact(t *testing.T) {
	store := openTestStore(t)

	mustInsert(t, store, visitAt("https://a.example", "A", 1))
	mustInsert(t, store, visitAt("https://b.example", "B", 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.DeleteAll(ctx)
	require.Error(t, err)
	assert.True(t, history.IsStorage(err))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAuditLog(t *testing.T) {
	fixed := time.Unix(5_000, 0)
	store := openTestStore(t, WithAuditLog(true), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	mustInsert(t, store, visitAt("https://a.example", "A", 1))
	mustInsert(t, store, visitAt("https://b.example", "B", 50))

	_, err := store.DeleteOlderThan(ctx, 10)
	require.NoError(t, err)
	_, err = store.DeleteAll(ctx)
	require.NoError(t, err)

	entries, err := store.AuditLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, AuditClearAll, entries[0].Action)
	assert.Equal(t, int64(1), entries[0].Removed)
	assert.Equal(t, AuditClearOlderThan, entries[1].Action)
	assert.Equal(t, int64(1), entries[1].Removed)
	assert.Equal(t, "visit_time < 10", entries[1].Detail)
	assert.Equal(t, fixed.Unix(), entries[1].TS)
}

func TestAuditLog_DisabledByDefault(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, visitAt("https://a.example", "A", 1))
	_, err := store.DeleteAll(ctx)
	require.NoError(t, err)

	entries, err := store.AuditLog(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// --- Stats ---

func TestStats_EmptyDB(t *testing.T) {
	store := openTestStore(t)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalVisits)
	assert.Equal(t, int64(0), stats.DistinctURLs)
	assert.Empty(t, stats.TopHosts)
}

func TestStats_WithData(t *testing.T) {
	store := openTestStore(t)

	mustInsert(t, store, visitAt("https://A.example/1", "A1", 10))
	mustInsert(t, store, visitAt("https://a.example/2", "A2", 20))
	mustInsert(t, store, visitAt("https://b.example/", "B", 30))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalVisits)
	assert.Equal(t, int64(3), stats.DistinctURLs)
	assert.Equal(t, int64(10), stats.OldestVisit)
	assert.Equal(t, int64(30), stats.NewestVisit)
	require.NotEmpty(t, stats.TopHosts)
	assert.Equal(t, history.HostCount{Host: "a.example", Count: 2}, stats.TopHosts[0])
}

// --- Failure surfacing ---

func TestClosedDatabaseSurfacesStorageError(t *testing.T) {
	db, err := Open(OpenOptions{Path: filepath.Join(t.TempDir(), "trail.db")})
	require.NoError(t, err)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = store.Insert(context.Background(), visitAt("https://a.example", "A", 1))
	var serr *history.StorageError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, "insert visit", serr.Op)

	_, err = store.Count(context.Background())
	assert.True(t, history.IsStorage(err))
}

// --- Isolation ---

func TestReadersNeverSeePartialClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const total = 500
	for i := 0; i < total; i++ {
		mustInsert(t, store, visitAt(fmt.Sprintf("https://site%d.example", i%20), "t", int64(i)))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	observed := make(chan int64, 10_000)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n, err := store.Count(ctx)
				if err == nil {
					select {
					case observed <- n:
					default:
					}
				}
			}
		}()
	}

	removed, err := store.DeleteAll(ctx)
	close(stop)
	wg.Wait()
	close(observed)

	require.NoError(t, err)
	assert.Equal(t, int64(total), removed)
	for n := range observed {
		assert.True(t, n == total || n == 0, "reader saw partial state: %d", n)
	}
}

func TestReadersNeverSeePartialClearOlderThan(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			store := openTestStoreWith(t, driver)
			ctx := context.Background()

			const total, kept = 400, 40
			for i := 0; i < total; i++ {
				mustInsert(t, store, visitAt(fmt.Sprintf("https://site%d.example", i%20), "t", int64(i)))
			}

			var wg sync.WaitGroup
			stop := make(chan struct{})
			observed := make(chan int64, 10_000)
			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
						}
						if n, err := store.Count(ctx); err == nil {
							select {
							case observed <- n:
							default:
							}
						}
					}
				}()
			}

			removed, err := store.DeleteOlderThan(ctx, total-kept)
			close(stop)
			wg.Wait()
			close(observed)

			require.NoError(t, err)
			assert.Equal(t, int64(total-kept), removed)
			for n := range observed {
				assert.True(t, n == total || n == kept, "reader saw partial state: %d", n)
			}
		})
	}
}

// --- Close ---

func TestClose(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.Close())
}
