package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/aluiziolira/go-scrape-icorating/models"
)

var (
	errEmpty = errors.New("empty value")

	symbolPattern = regexp.MustCompile(`\(([^()]*)\)`)
	widthPattern  = regexp.MustCompile(`(?i)width\s*:\s*(\d+(?:\.\d+)?)\s*%`)
	// A bare year such as "2018." would otherwise parse as January 1st.
	yearOnlyPattern = regexp.MustCompile(`^\d{4}\.?$`)

	dateLayouts = []string{
		"02.01.2006",
		"2.1.2006",
		"02.01.06",
		"2006.01.02",
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
		"2 January 2006",
	}
)

// markerSelector finds the progress-bar element whose width carries a score.
const markerSelector = "span"

// ParseLabel splits a label such as "Bitcoin (BTC)" into name and symbol.
// Without a parenthesized segment the whole label is the name.
func ParseLabel(label string) (name string, symbol *string) {
	loc := symbolPattern.FindStringSubmatchIndex(label)
	if loc == nil {
		return label, nil
	}
	name = strings.TrimSpace(label[:loc[0]])
	if name == "" {
		name = strings.TrimSpace(label)
	}
	inner := strings.TrimSpace(label[loc[2]:loc[3]])
	if inner == "" {
		return name, nil
	}
	return name, &inner
}

// ParseDate parses a single listing date, e.g. "28.02.2018".
func ParseDate(text string) (models.Date, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Date{}, errEmpty
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return models.DateOf(t), nil
		}
	}
	if yearOnlyPattern.MatchString(text) {
		return models.Date{}, fmt.Errorf("parse date %q: year without day and month", text)
	}
	t, err := dateparse.ParseAny(text, dateparse.PreferMonthFirst(false))
	if err != nil {
		return models.Date{}, fmt.Errorf("parse date %q: %w", text, err)
	}
	return models.DateOf(t), nil
}

// SplitDateRange cuts "start - end" on the first hyphen.
func SplitDateRange(text string) (start, end string) {
	start, end, _ = strings.Cut(text, "-")
	return strings.TrimSpace(start), strings.TrimSpace(end)
}

// ParseWidthPercent reads N from an inline style containing "width: N%".
func ParseWidthPercent(style string) (float64, error) {
	match := widthPattern.FindStringSubmatch(style)
	if match == nil {
		return 0, fmt.Errorf("no width percentage in style %q", style)
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parse width %q: %w", match[1], err)
	}
	if !inPercentRange(value) {
		return 0, fmt.Errorf("width %.2f out of range", value)
	}
	return value, nil
}

func dateField(text string) (*models.Date, models.Reason) {
	d, err := ParseDate(text)
	if errors.Is(err, errEmpty) {
		return nil, models.ReasonMissing
	}
	if err != nil {
		return nil, models.ReasonMalformed
	}
	return &d, ""
}

func scoreField(cell *goquery.Selection) (*float64, models.Reason) {
	marker := cell.Find(markerSelector).First()
	if marker.Length() == 0 {
		return nil, models.ReasonMissing
	}
	style, ok := marker.Attr("style")
	if !ok {
		return nil, models.ReasonMalformed
	}
	value, err := ParseWidthPercent(style)
	if err != nil {
		return nil, models.ReasonMalformed
	}
	return &value, ""
}

func linkField(cell *goquery.Selection) (*string, models.Reason) {
	href, ok := cell.Find("a[href]").First().Attr("href")
	if !ok {
		return nil, models.ReasonMissing
	}
	return optionalText(href)
}
