// Package search implements metadata retrieval over files and page
// contents: keyword matching, text filters, date ranges, ranking and
// pagination.
package search

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidMatchLogic is returned for a match logic value other
	// than AND or OR.
	ErrInvalidMatchLogic = errors.New("search: match logic must be AND or OR")

	// ErrInvalidPageIndex is returned when the requested result page is
	// out of range.
	ErrInvalidPageIndex = errors.New("search: page index out of range")
)

// MatchLogic selects how multiple keywords combine.
type MatchLogic string

const (
	MatchAll MatchLogic = "AND"
	MatchAny MatchLogic = "OR"
)

// ParseMatchLogic accepts AND/OR in any case. Empty defaults to AND.
func ParseMatchLogic(s string) (MatchLogic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return MatchAll, nil
	case "OR":
		return MatchAny, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMatchLogic, s)
	}
}

// Criteria is one search request. Zero-valued fields do not constrain
// the result set.
type Criteria struct {
	Keywords   []string
	Title      string
	Content    string
	Publisher  string
	StartDate  *time.Time
	EndDate    *time.Time
	MatchLogic MatchLogic
}

// matchKeywords reports whether the candidate keyword set satisfies the
// query under the given logic and returns the matched query keywords.
// An exact-case hit is preferred; a case-insensitive hit still counts.
func matchKeywords(query, candidates []string, logic MatchLogic) (bool, []string) {
	if len(query) == 0 {
		return true, nil
	}
	exact := make(map[string]struct{}, len(candidates))
	folded := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		exact[c] = struct{}{}
		folded[strings.ToLower(c)] = struct{}{}
	}

	var matched []string
	for _, q := range query {
		if _, ok := exact[q]; ok {
			matched = append(matched, q)
			continue
		}
		if _, ok := folded[strings.ToLower(q)]; ok {
			matched = append(matched, q)
		}
	}

	switch logic {
	case MatchAny:
		return len(matched) > 0, matched
	default:
		return len(matched) == len(query), matched
	}
}

// matchText is a case-insensitive substring filter. An empty query
// passes everything.
func matchText(query, candidate string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(candidate), strings.ToLower(query))
}

// dateLayouts are tried in order when parsing stored published dates.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// matchDate applies an inclusive date range using the date part only.
// A candidate that cannot be parsed fails any bounded query.
func matchDate(published string, start, end *time.Time) bool {
	if start == nil && end == nil {
		return true
	}
	t, ok := parseDate(published)
	if !ok {
		return false
	}
	day := truncateToDay(t)
	if start != nil && day.Before(truncateToDay(*start)) {
		return false
	}
	if end != nil && day.After(truncateToDay(*end)) {
		return false
	}
	return true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
