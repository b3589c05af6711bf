package history

import (
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Input limits applied by Validate.
const (
	MaxURLBytes   = 8192
	MaxTitleRunes = 1024
	MaxClockSkew  = 60 * time.Second
)

// Validate checks a visit before it reaches storage and returns a sanitized
// copy. It has no side effects, so callers may run it before taking any lock.
// The returned visit has no ID; the store assigns one on insert.
func Validate(v Visit, now time.Time) (Visit, error) {
	out := v
	out.ID = ""

	u, err := ValidateURL(v.URL)
	if err != nil {
		return Visit{}, err
	}
	out.URL = u

	out.Title = SanitizeTitle(v.Title)

	if v.VisitTime < 0 {
		return Visit{}, invalid(InvalidTimestamp, "visit_time", "%d is negative", v.VisitTime)
	}
	if limit := now.Add(MaxClockSkew).Unix(); v.VisitTime > limit {
		return Visit{}, invalid(InvalidTimestamp, "visit_time", "%d is more than %s ahead of now", v.VisitTime, MaxClockSkew)
	}

	if v.Duration != nil {
		if err := ValidateDuration(*v.Duration); err != nil {
			return Visit{}, err
		}
		d := *v.Duration
		out.Duration = &d
	}

	if out.Transition == "" {
		out.Transition = TransitionLink
	}
	if !out.Transition.Valid() {
		return Visit{}, invalid(InvalidTransition, "transition_type", "unknown transition %q", v.Transition)
	}

	// A broken referrer is not worth rejecting the visit over.
	out.FromURL = ""
	if v.FromURL != "" {
		if ref, err := ValidateURL(v.FromURL); err == nil {
			out.FromURL = ref
		}
	}

	return out, nil
}

// ValidateURL trims raw and checks that it is an absolute URL with a scheme
// and a host.
func ValidateURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalid(InvalidURL, "url", "empty")
	}
	if len(s) > MaxURLBytes {
		return "", invalid(InvalidURL, "url", "%d bytes exceeds the %d byte limit", len(s), MaxURLBytes)
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", invalid(InvalidURL, "url", "%v", err)
	}
	if u.Scheme == "" {
		return "", invalid(InvalidURL, "url", "%q has no scheme", s)
	}
	if u.Host == "" {
		return "", invalid(InvalidURL, "url", "%q has no host", s)
	}
	return s, nil
}

// ValidateDuration rejects negative visit durations.
func ValidateDuration(seconds int64) error {
	if seconds < 0 {
		return invalid(InvalidDuration, "visit_duration", "%d is negative", seconds)
	}
	return nil
}

// ValidateQuery checks the paging parameters of a search.
func ValidateQuery(q SearchQuery) error {
	if err := ValidateLimit(q.Limit); err != nil {
		return err
	}
	if q.Offset < 0 {
		return invalid(InvalidQuery, "offset", "%d is negative", q.Offset)
	}
	switch q.Match {
	case "", MatchSubstring, MatchPrefix:
	default:
		return invalid(InvalidQuery, "match", "unknown match mode %q", q.Match)
	}
	return nil
}

// ValidateLimit requires limit >= 1.
func ValidateLimit(limit int) error {
	if limit < 1 {
		return invalid(InvalidLimit, "limit", "%d is below 1", limit)
	}
	return nil
}

// SanitizeTitle replaces invalid UTF-8, drops control characters (line
// breaks and tabs become spaces), trims, and truncates to MaxTitleRunes.
func SanitizeTitle(title string) string {
	s := strings.ToValidUTF8(title, "\uFFFD")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) <= MaxTitleRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxTitleRunes {
			return s[:i]
		}
		n++
	}
	return s
}
