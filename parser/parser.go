// Package parser turns ICO listing markup into project records.
package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-icorating/models"
)

// ValidateRecord ensures the extractor captured the required fields.
func ValidateRecord(r *models.ProjectRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("record missing name")
	}
	if r.HypeScore != nil && !inPercentRange(*r.HypeScore) {
		return fmt.Errorf("hype score %.2f out of range for %s", *r.HypeScore, r.Name)
	}
	if r.RiskScore != nil && !inPercentRange(*r.RiskScore) {
		return fmt.Errorf("risk score %.2f out of range for %s", *r.RiskScore, r.Name)
	}
	return nil
}

func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100
}

func optionalText(text string) (*string, models.Reason) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.ReasonMissing
	}
	return &text, ""
}
