package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-icorating/models"
)

const (
	// TableSelector matches the listing's data tables.
	TableSelector = "table.uk-table"
	// SearchElementClass marks the filter widget that shares the data table styling.
	SearchElementClass = "search-element"
	// ExpertHeader is the 6th header cell text of tables scored by reviewers.
	ExpertHeader = "Rating"

	expertHeaderColumn = 5
)

// Column positions of a listing row.
const (
	labelColumn    = 1
	datesColumn    = 2
	hypeColumn     = 3
	riskColumn     = 4
	ratingColumn   = 5
	industryColumn = 6
)

// fieldRule binds a logical field to the cell it is read from.
type fieldRule struct {
	name   string
	column int
	apply  func(cell *goquery.Selection, rec *models.ProjectRecord)
}

var fieldRules = []fieldRule{
	{name: "label", column: labelColumn, apply: applyLabel},
	{name: "dates", column: datesColumn, apply: applyDates},
	{name: "hype_score", column: hypeColumn, apply: applyScore(models.FieldHypeScore)},
	{name: "risk_score", column: riskColumn, apply: applyScore(models.FieldRiskScore)},
	{name: "rating", column: ratingColumn, apply: applyRating},
	{name: "industry", column: industryColumn, apply: applyIndustry},
}

// minCells is the number of cells a row needs for every field rule.
var minCells = func() int {
	n := 0
	for _, rule := range fieldRules {
		if rule.column+1 > n {
			n = rule.column + 1
		}
	}
	return n
}()

// Extraction is the outcome of parsing one listing page.
type Extraction struct {
	Records []*models.ProjectRecord
	Skipped []models.RowError
}

// Extract parses a listing page body.
func Extract(body []byte) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	return ExtractDocument(doc), nil
}

// ExtractDocument collects records from every qualifying table in document
// order. A page without qualifying tables yields an empty extraction.
func ExtractDocument(doc *goquery.Document) *Extraction {
	out := &Extraction{Records: []*models.ProjectRecord{}}

	QualifyingTables(doc.Selection).Each(func(tableIdx int, table *goquery.Selection) {
		expert := IsExpertTable(table)
		bodyRows(table).Each(func(rowIdx int, row *goquery.Selection) {
			record, rowErr := parseRow(row, expert)
			if rowErr != nil {
				rowErr.Table = tableIdx
				rowErr.Row = rowIdx
				out.Skipped = append(out.Skipped, *rowErr)
				return
			}
			out.Records = append(out.Records, record)
		})
	})

	return out
}

// QualifyingTables returns the data tables under root, minus search widgets.
func QualifyingTables(root *goquery.Selection) *goquery.Selection {
	return root.Find(TableSelector).Not("." + SearchElementClass)
}

// IsExpertTable reports whether the table's 6th header cell reads "Rating".
func IsExpertTable(table *goquery.Selection) bool {
	cells := headerRow(table).ChildrenFiltered("th, td")
	if cells.Length() <= expertHeaderColumn {
		return false
	}
	return strings.TrimSpace(cells.Eq(expertHeaderColumn).Text()) == ExpertHeader
}

func headerRow(table *goquery.Selection) *goquery.Selection {
	if head := ownRows(table, "thead tr").First(); head.Length() > 0 {
		return head
	}
	return ownRows(table, "tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.ChildrenFiltered("th").Length() > 0
	}).First()
}

// bodyRows returns the data rows of table: rows with td cells that are neither
// inside its thead nor the row used as its header.
func bodyRows(table *goquery.Selection) *goquery.Selection {
	header := headerRow(table)
	return ownRows(table, "tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
		if row.ChildrenFiltered("td").Length() == 0 || row.IsSelection(header) {
			return false
		}
		head := row.Closest("thead")
		return head.Length() == 0 || !head.Closest("table").IsSelection(table)
	})
}

// ownRows skips rows that belong to tables nested inside table.
func ownRows(table *goquery.Selection, selector string) *goquery.Selection {
	return table.Find(selector).FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.Closest("table").IsSelection(table)
	})
}

func parseRow(row *goquery.Selection, expert bool) (*models.ProjectRecord, *models.RowError) {
	cells := row.ChildrenFiltered("td, th")
	if cells.Length() < minCells {
		return nil, &models.RowError{
			Cells:  cells.Length(),
			Reason: fmt.Sprintf("expected at least %d cells", minCells),
		}
	}

	record := &models.ProjectRecord{ExpertReview: expert}
	for _, rule := range fieldRules {
		rule.apply(cells.Eq(rule.column), record)
	}

	if href, ok := row.Attr("data-href"); ok && strings.TrimSpace(href) != "" {
		href = strings.TrimSpace(href)
		record.URL = &href
	} else {
		record.Diagnose(models.FieldURL, models.ReasonMissing)
	}

	return record, nil
}

func applyLabel(cell *goquery.Selection, rec *models.ProjectRecord) {
	name, symbol := ParseLabel(cell.Text())
	rec.Name = name
	rec.Symbol = symbol
	if symbol == nil {
		rec.Diagnose(models.FieldSymbol, models.ReasonMissing)
	}
}

func applyDates(cell *goquery.Selection, rec *models.ProjectRecord) {
	start, end := SplitDateRange(cell.Text())

	var reason models.Reason
	if rec.StartDate, reason = dateField(start); reason != "" {
		rec.Diagnose(models.FieldStartDate, reason)
	}
	if rec.EndDate, reason = dateField(end); reason != "" {
		rec.Diagnose(models.FieldEndDate, reason)
	}
}

func applyScore(field models.Field) func(*goquery.Selection, *models.ProjectRecord) {
	return func(cell *goquery.Selection, rec *models.ProjectRecord) {
		score, reason := scoreField(cell)
		if reason != "" {
			rec.Diagnose(field, reason)
		}
		switch field {
		case models.FieldHypeScore:
			rec.HypeScore = score
		case models.FieldRiskScore:
			rec.RiskScore = score
		}
	}
}

func applyRating(cell *goquery.Selection, rec *models.ProjectRecord) {
	var reason models.Reason
	if rec.ReviewURL, reason = linkField(cell); reason != "" {
		rec.Diagnose(models.FieldReviewURL, reason)
	}
	if rec.Rating, reason = optionalText(cell.Text()); reason != "" {
		rec.Diagnose(models.FieldRating, reason)
	}
}

func applyIndustry(cell *goquery.Selection, rec *models.ProjectRecord) {
	var reason models.Reason
	if rec.Industry, reason = optionalText(cell.Text()); reason != "" {
		rec.Diagnose(models.FieldIndustry, reason)
	}
}
