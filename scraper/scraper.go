// Package scraper fetches icorating.com listing pages and extracts their projects.
package scraper

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-icorating/config"
	"github.com/aluiziolira/go-scrape-icorating/models"
	"github.com/aluiziolira/go-scrape-icorating/parser"
)

const listingPath = "/ico/"

// Scraper issues listing requests through a dedicated colly collector.
type Scraper struct {
	baseURL   *url.URL
	collector *colly.Collector
	Metrics   *Metrics
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithTransport replaces the HTTP transport used for listing requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) {
		s.collector.WithTransport(rt)
	}
}

// WithMetrics shares a metrics bundle across scrapers.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) {
		s.Metrics = m
	}
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	domains := []string{parsed.Hostname()}
	if parsed.Host != parsed.Hostname() {
		domains = append(domains, parsed.Host)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(domains...),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(newTransport(cfg))

	s := &Scraper{
		baseURL:   parsed,
		collector: collector,
		Metrics:   NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// newTransport builds the only transport that carries the TLS override.
func newTransport(cfg *config.Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// ListingURL returns {base}/ico/?filter={token}.
func (s *Scraper) ListingURL(filter models.Filter) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + listingPath
	u.RawQuery = url.Values{"filter": []string{string(filter)}}.Encode()
	u.Fragment = ""
	return u.String()
}

// Fetch performs one GET for the filtered listing. Responses with any status
// code are returned; only transport failures produce an error.
func (s *Scraper) Fetch(ctx context.Context, filter models.Filter) (*models.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !filter.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownFilter, filter)
	}

	target := s.ListingURL(filter)
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Filter: filter, URL: target, Err: err}
	}

	// Each fetch gets its own callbacks; the clone shares the HTTP backend.
	// colly has no request context, so ctx is only checked before sending.
	c := s.collector.Clone()

	var resp *models.Response
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		slog.Debug("listing request", slog.String("filter", string(filter)), slog.String("url", r.URL.String()))
	})
	c.OnResponse(func(r *colly.Response) {
		body := make([]byte, len(r.Body))
		copy(body, r.Body)
		resp = &models.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       body,
		}
	})

	s.Metrics.IncRequest(filter)
	start := time.Now()
	err := c.Visit(target)
	elapsed := time.Since(start)
	s.Metrics.ObserveDuration(elapsed)

	if err == nil && resp == nil {
		err = ctx.Err()
		if err == nil {
			err = errors.New("no response received")
		}
	}
	if err != nil {
		classified := classifyError(err)
		category := errorTypeLabel(classified)
		s.Metrics.IncError(category)
		slog.Error("listing request failed",
			slog.String("filter", string(filter)),
			slog.String("url", target),
			slog.String("category", category),
			slog.Any("error", err),
		)
		return nil, &FetchError{Filter: filter, URL: target, Err: classified}
	}

	resp.Elapsed = elapsed
	s.Metrics.IncResponse(resp.StatusCode)
	if resp.StatusCode >= http.StatusBadRequest {
		slog.Warn("non-2xx listing response",
			slog.Int("status", resp.StatusCode),
			slog.String("url", resp.URL),
		)
	}
	return resp, nil
}

// Listing fetches one filtered listing page and extracts its records.
func (s *Scraper) Listing(ctx context.Context, filter models.Filter) (*models.ListingResult, error) {
	resp, err := s.Fetch(ctx, filter)
	if err != nil {
		return nil, err
	}

	extraction, err := parser.Extract(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("extract %s listing: %w", filter, err)
	}
	s.Metrics.AddRecords(filter, len(extraction.Records), len(extraction.Skipped))

	for _, skipped := range extraction.Skipped {
		slog.Warn("skipped listing row",
			slog.String("filter", string(filter)),
			slog.Int("table", skipped.Table),
			slog.Int("row", skipped.Row),
			slog.Int("cells", skipped.Cells),
		)
	}

	result := models.NewListingResult(filter, resp, extraction.Records, extraction.Skipped)
	slog.Info("listing scraped",
		slog.String("filter", string(filter)),
		slog.Int("status", result.StatusCode),
		slog.Int("count", result.Count),
		slog.Float64("elapsed_seconds", result.ElapsedSeconds),
	)
	return result, nil
}

// All returns every listed project.
func (s *Scraper) All(ctx context.Context) (*models.ListingResult, error) {
	return s.Listing(ctx, models.FilterAll)
}

// PreICO returns projects in their pre-sale phase.
func (s *Scraper) PreICO(ctx context.Context) (*models.ListingResult, error) {
	return s.Listing(ctx, models.FilterPreICO)
}

// Past returns finished campaigns.
func (s *Scraper) Past(ctx context.Context) (*models.ListingResult, error) {
	return s.Listing(ctx, models.FilterPast)
}

// Upcoming returns campaigns that have not started.
func (s *Scraper) Upcoming(ctx context.Context) (*models.ListingResult, error) {
	return s.Listing(ctx, models.FilterUpcoming)
}

// Ongoing returns running campaigns.
func (s *Scraper) Ongoing(ctx context.Context) (*models.ListingResult, error) {
	return s.Listing(ctx, models.FilterOngoing)
}

// ListingAll fetches several filters concurrently. Results for filters that
// succeeded are returned alongside the joined errors of those that failed.
func (s *Scraper) ListingAll(ctx context.Context, filters ...models.Filter) (map[models.Filter]*models.ListingResult, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		results = make(map[models.Filter]*models.ListingResult, len(filters))
	)

	for _, filter := range filters {
		wg.Add(1)
		go func(filter models.Filter) {
			defer wg.Done()
			result, err := s.Listing(ctx, filter)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results[filter] = result
		}(filter)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}
