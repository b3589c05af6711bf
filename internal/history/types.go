package history

import "time"

// VisitID is the opaque identifier the store assigns to a visit.
type VisitID string

// Transition describes how a navigation happened.
type Transition string

const (
	TransitionLink       Transition = "link"
	TransitionTyped      Transition = "typed"
	TransitionReload     Transition = "reload"
	TransitionBookmark   Transition = "bookmark"
	TransitionRedirect   Transition = "redirect"
	TransitionFormSubmit Transition = "form_submit"
)

// Transitions lists every accepted transition type.
var Transitions = []Transition{
	TransitionLink,
	TransitionTyped,
	TransitionReload,
	TransitionBookmark,
	TransitionRedirect,
	TransitionFormSubmit,
}

// Valid reports whether t is one of the known transition types.
func (t Transition) Valid() bool {
	for _, known := range Transitions {
		if t == known {
			return true
		}
	}
	return false
}

// Visit is one browsing event. VisitTime and Duration are whole seconds.
type Visit struct {
	ID         VisitID    `json:"id"`
	URL        string     `json:"url"`
	Title      string     `json:"title"`
	VisitTime  int64      `json:"visit_time"`
	Duration   *int64     `json:"visit_duration"` // nil until the tab closes or navigates away
	FromURL    string     `json:"from_url,omitempty"`
	Transition Transition `json:"transition_type"`
}

// Time returns VisitTime as a UTC time.Time.
func (v Visit) Time() time.Time {
	return time.Unix(v.VisitTime, 0).UTC()
}

// PageAggregate is the per-URL rollup computed at query time.
type PageAggregate struct {
	URL           string `json:"url"`
	Title         string `json:"title"` // most recent non-empty title
	VisitCount    int64  `json:"visit_count"`
	LastVisit     int64  `json:"last_visit"`
	FrecencyScore int64  `json:"frecency_score"`
}

// MatchMode selects how SearchQuery.Text is compared.
type MatchMode string

const (
	MatchSubstring MatchMode = "substring"
	MatchPrefix    MatchMode = "prefix"
)

// SearchQuery filters visits. Start and End are inclusive bounds in epoch
// seconds; nil means unbounded.
type SearchQuery struct {
	Text   string
	Match  MatchMode
	Start  *int64
	End    *int64
	Limit  int
	Offset int
}

// Stats holds aggregate statistics about the history database.
type Stats struct {
	TotalVisits       int64       `json:"total_visits"`
	DistinctURLs      int64       `json:"distinct_urls"`
	OldestVisit       int64       `json:"oldest_visit"`
	NewestVisit       int64       `json:"newest_visit"`
	DatabaseSizeBytes int64       `json:"database_size_bytes"`
	TopHosts          []HostCount `json:"top_hosts"`
}

// HostCount pairs a host with its visit count.
type HostCount struct {
	Host  string `json:"host"`
	Count int64  `json:"count"`
}

// Int64 returns a pointer to v, for optional fields.
func Int64(v int64) *int64 {
	return &v
}
