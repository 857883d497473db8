// Package models defines data structures for the scraper.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Field names an optional column of a ProjectRecord.
type Field string

const (
	FieldSymbol    Field = "symbol"
	FieldURL       Field = "url"
	FieldStartDate Field = "start_date"
	FieldEndDate   Field = "end_date"
	FieldHypeScore Field = "hype_score"
	FieldRiskScore Field = "risk_score"
	FieldReviewURL Field = "review_url"
	FieldRating    Field = "rating"
	FieldIndustry  Field = "industry"
)

// Reason explains why an optional field is absent.
type Reason string

const (
	// ReasonMissing means the site did not offer the field for this row.
	ReasonMissing Reason = "missing"
	// ReasonMalformed means the field was present but could not be parsed.
	ReasonMalformed Reason = "malformed"
)

// ProjectRecord is one ICO entry from a listing table.
type ProjectRecord struct {
	Name         string   `json:"name"`
	Symbol       *string  `json:"symbol,omitempty"`
	URL          *string  `json:"url,omitempty"`
	StartDate    *Date    `json:"start_date,omitempty"`
	EndDate      *Date    `json:"end_date,omitempty"`
	HypeScore    *float64 `json:"hype_score,omitempty"`
	RiskScore    *float64 `json:"risk_score,omitempty"`
	ExpertReview bool     `json:"expert_review"`
	ReviewURL    *string  `json:"review_url,omitempty"`
	Rating       *string  `json:"rating,omitempty"`
	Industry     *string  `json:"industry,omitempty"`

	Diagnostics map[Field]Reason `json:"diagnostics,omitempty"`
}

// Absent reports why field is missing from the record, if it is.
func (p *ProjectRecord) Absent(field Field) (Reason, bool) {
	if p == nil || p.Diagnostics == nil {
		return "", false
	}
	reason, ok := p.Diagnostics[field]
	return reason, ok
}

// Diagnose marks field as absent for the given reason.
func (p *ProjectRecord) Diagnose(field Field, reason Reason) {
	if p.Diagnostics == nil {
		p.Diagnostics = make(map[Field]Reason)
	}
	p.Diagnostics[field] = reason
}

// DedupeKey identifies a project across rows and tables.
func (p *ProjectRecord) DedupeKey() string {
	if p.URL != nil && *p.URL != "" {
		return "url:" + *p.URL
	}
	symbol := ""
	if p.Symbol != nil {
		symbol = *p.Symbol
	}
	return "name:" + p.Name + "|" + symbol
}

// Date is a calendar date without a time of day.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate returns the calendar date for year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// MarshalJSON encodes the date as YYYY-MM-DD.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// RowError describes a table row that could not be turned into a record.
type RowError struct {
	Table  int    `json:"table"`
	Row    int    `json:"row"`
	Cells  int    `json:"cells"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("table %d row %d: %s (%d cells)", e.Table, e.Row, e.Reason, e.Cells)
}
