// Package query answers read requests over the visit store: filtered
// search, recency listings, per-URL visit lists, and the two per-page
// rankings (most visited and frecent).
//
// Every method reads through a single store call, and every store call is a
// single SQL statement, so each result reflects one committed snapshot even
// while writers are active.
package query

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/runnerr0/trail/internal/frecency"
	"github.com/runnerr0/trail/internal/history"
	"github.com/runnerr0/trail/internal/storage"
)

// Reader is the part of the store the query engine needs.
type Reader interface {
	Scan(ctx context.Context, f storage.Filter) ([]history.Visit, error)
	VisitsForURL(ctx context.Context, url string) ([]history.Visit, error)
	ForEachPageRow(ctx context.Context, fn func(storage.PageRow) error) error
}

// Engine runs queries against a Reader.
type Engine struct {
	store Reader
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source frecency ages are measured against.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a query Engine.
func New(store Reader, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns visits matching q, newest first, ties broken by newer
// insertion first. An inverted time range yields an empty result rather
// than an error.
func (e *Engine) Search(ctx context.Context, q history.SearchQuery) ([]history.Visit, error) {
	if err := history.ValidateQuery(q); err != nil {
		return nil, err
	}
	if q.Start != nil && q.End != nil && *q.Start > *q.End {
		return []history.Visit{}, nil
	}

	// Whitespace-only text means no text filter; otherwise the text is
	// matched as given, surrounding spaces included.
	text := q.Text
	if strings.TrimSpace(text) == "" {
		text = ""
	}

	return e.store.Scan(ctx, storage.Filter{
		Text:   text,
		Prefix: q.Match == history.MatchPrefix,
		Start:  q.Start,
		End:    q.End,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// GetRecent returns the limit most recent visits.
func (e *Engine) GetRecent(ctx context.Context, limit int) ([]history.Visit, error) {
	return e.Search(ctx, history.SearchQuery{Limit: limit})
}

// GetVisitsForURL returns every visit to exactly pageURL, newest first.
// The URL is normalized the same way RecordVisit normalizes it.
func (e *Engine) GetVisitsForURL(ctx context.Context, pageURL string) ([]history.Visit, error) {
	normalized, err := history.ValidateURL(pageURL)
	if err != nil {
		return nil, err
	}
	return e.store.VisitsForURL(ctx, normalized)
}

// GetMostVisited ranks pages by visit count.
func (e *Engine) GetMostVisited(ctx context.Context, limit int) ([]history.PageAggregate, error) {
	return e.ranked(ctx, limit, func(p history.PageAggregate) int64 { return p.VisitCount })
}

// GetFrecent ranks pages by frecency score.
func (e *Engine) GetFrecent(ctx context.Context, limit int) ([]history.PageAggregate, error) {
	return e.ranked(ctx, limit, func(p history.PageAggregate) int64 { return p.FrecencyScore })
}

// ranked orders pages by metric descending, then last visit descending,
// then URL ascending, and keeps the first limit.
func (e *Engine) ranked(ctx context.Context, limit int, metric func(history.PageAggregate) int64) ([]history.PageAggregate, error) {
	if err := history.ValidateLimit(limit); err != nil {
		return nil, err
	}

	pages, err := e.Aggregate(ctx)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(pages, func(a, b history.PageAggregate) int {
		if c := cmp.Compare(metric(b), metric(a)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.LastVisit, a.LastVisit); c != 0 {
			return c
		}
		return strings.Compare(a.URL, b.URL)
	})

	if len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

// Aggregate computes a PageAggregate for every stored URL in one pass over
// the by-URL ordering. Results come back in URL order.
func (e *Engine) Aggregate(ctx context.Context) ([]history.PageAggregate, error) {
	acc := frecency.NewAccumulator(e.now().Unix())
	pages := []history.PageAggregate{}

	var cur *history.PageAggregate
	flush := func() {
		if cur == nil {
			return
		}
		cur.VisitCount = acc.Count()
		cur.FrecencyScore = acc.Score()
		pages = append(pages, *cur)
		acc.Reset()
	}

	err := e.store.ForEachPageRow(ctx, func(r storage.PageRow) error {
		if cur == nil || cur.URL != r.URL {
			flush()
			// Rows within a URL arrive newest first.
			cur = &history.PageAggregate{URL: r.URL, LastVisit: r.VisitTime}
		}
		if cur.Title == "" && r.Title != "" {
			cur.Title = r.Title
		}
		acc.Add(r.VisitTime)
		return nil
	})
	if err != nil {
		return nil, err
	}
	flush()

	return pages, nil
}
