package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownFilter is returned for a filter token the site does not accept.
var ErrUnknownFilter = errors.New("unknown listing filter")

// Filter selects a campaign-status subset of the listing.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterPreICO   Filter = "preico"
	FilterPast     Filter = "past"
	FilterUpcoming Filter = "upcoming"
	FilterOngoing  Filter = "ongoing"
)

// Filters returns every supported filter.
func Filters() []Filter {
	return []Filter{FilterAll, FilterPreICO, FilterPast, FilterUpcoming, FilterOngoing}
}

// ParseFilter maps a token such as "preico" to its Filter.
func ParseFilter(token string) (Filter, error) {
	candidate := Filter(strings.ToLower(strings.TrimSpace(token)))
	for _, f := range Filters() {
		if f == candidate {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFilter, token)
}

// Valid reports whether f is one of the supported filters.
func (f Filter) Valid() bool {
	for _, candidate := range Filters() {
		if candidate == f {
			return true
		}
	}
	return false
}

// Response is the raw outcome of one listing fetch.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// ElapsedSeconds returns the fetch duration in seconds.
func (r *Response) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

// ListingResult holds the records extracted from one filtered listing page.
type ListingResult struct {
	Filter         Filter           `json:"filter"`
	StatusCode     int              `json:"status_code"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	Count          int              `json:"count"`
	Records        []*ProjectRecord `json:"records"`
	SkippedRows    []RowError       `json:"skipped_rows,omitempty"`
}

// NewListingResult combines fetch metadata with extracted records.
// Count always equals len(Records).
func NewListingResult(filter Filter, resp *Response, records []*ProjectRecord, skipped []RowError) *ListingResult {
	if records == nil {
		records = []*ProjectRecord{}
	}
	result := &ListingResult{
		Filter:      filter,
		Count:       len(records),
		Records:     records,
		SkippedRows: skipped,
	}
	if resp != nil {
		result.StatusCode = resp.StatusCode
		result.ElapsedSeconds = resp.ElapsedSeconds()
	}
	return result
}
