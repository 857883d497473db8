package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-icorating/models"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL   string
	Filters   []models.Filter
	Timeout   time.Duration
	UserAgent string
	// InsecureSkipVerify disables certificate checks on the scraper's own
	// transport. The listing site serves a certificate chain that fails
	// verification; no other client in the process is affected.
	InsecureSkipVerify bool

	Parallelism        int
	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int

	OutputFile   string
	OutputFormat string // csv, json, dual, or postgres
	PostgresDSN  string

	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns defaults for icorating.com.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://icorating.com",
		Filters:            []models.Filter{models.FilterAll},
		Timeout:            30 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		InsecureSkipVerify: true,
		Parallelism:        4,
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
		OutputFile:         "output/icos.csv",
		OutputFormat:       "csv",
		MetricsAddr:        "",
		Verbose:            false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if len(c.Filters) == 0 {
		return fmt.Errorf("at least one filter is required")
	}
	for _, f := range c.Filters {
		if !f.Valid() {
			return fmt.Errorf("invalid filter %q", f)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	switch c.OutputFormat {
	case "csv", "json", "dual":
		if c.OutputFile == "" {
			return fmt.Errorf("output file cannot be empty")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres DSN is required for postgres output")
		}
	default:
		return fmt.Errorf("output format must be csv, json, dual, or postgres")
	}

	return nil
}

// ParseFilters reads a comma separated list such as "preico,ongoing".
func ParseFilters(list string) ([]models.Filter, error) {
	var filters []models.Filter
	seen := make(map[models.Filter]struct{})
	for _, token := range strings.Split(list, ",") {
		if strings.TrimSpace(token) == "" {
			continue
		}
		f, err := models.ParseFilter(token)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("no filters in %q", list)
	}
	return filters, nil
}
