package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-scrape-icorating/config"
	"github.com/aluiziolira/go-scrape-icorating/models"
)

const testBaseURL = "https://icorating.test"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newMockedScraper(t *testing.T, transport *httpmock.MockTransport) *Scraper {
	t.Helper()
	s, err := NewScraper(testConfig(), WithTransport(transport))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	return s
}

func htmlResponder(status int, body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildListingPage(reviewHeader string, names ...string) string {
	var builder strings.Builder
	builder.WriteString("<html><body>")
	builder.WriteString(`<table class="uk-table search-element"><tr><th>Search</th></tr>`)
	builder.WriteString(`<tr><td>x</td><td>Ghost (GST)</td><td></td><td></td><td></td><td></td><td></td></tr></table>`)
	builder.WriteString(`<table class="uk-table"><thead><tr><th></th><th>Name</th><th>Dates</th><th>Hype</th><th>Risk</th>`)
	fmt.Fprintf(&builder, "<th>%s</th><th>Industry</th></tr></thead><tbody>", reviewHeader)
	for i, name := range names {
		slug := strings.ToLower(name)
		fmt.Fprintf(&builder, `<tr data-href="/ico/%s">`, slug)
		fmt.Fprintf(&builder, "<td>%d</td><td>%s (%s)</td>", i+1, name, strings.ToUpper(slug[:3]))
		builder.WriteString("<td>01.03.2018 - 01.04.2018</td>")
		fmt.Fprintf(&builder, `<td><span style="width:%d%%"></span></td>`, 10+i)
		builder.WriteString(`<td><span style="width:5%"></span></td>`)
		fmt.Fprintf(&builder, `<td><a href="/review/%s">B+</a></td><td>Blockchain</td></tr>`, slug)
	}
	builder.WriteString("</tbody></table></body></html>")
	return builder.String()
}

func TestListingURL(t *testing.T) {
	tests := []struct {
		base   string
		filter models.Filter
		want   string
	}{
		{base: "https://icorating.com", filter: models.FilterAll, want: "https://icorating.com/ico/?filter=all"},
		{base: "https://icorating.com/", filter: models.FilterPreICO, want: "https://icorating.com/ico/?filter=preico"},
		{base: "https://example.test/mirror", filter: models.FilterOngoing, want: "https://example.test/mirror/ico/?filter=ongoing"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cfg := testConfig()
			cfg.BaseURL = tt.base
			s, err := NewScraper(cfg)
			if err != nil {
				t.Fatalf("new scraper: %v", err)
			}
			if got := s.ListingURL(tt.filter); got != tt.want {
				t.Fatalf("ListingURL(%s) = %q, want %q", tt.filter, got, tt.want)
			}
		})
	}
}

func TestNewScraperRejectsHostlessURL(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = "/relative"
	if _, err := NewScraper(cfg); err == nil {
		t.Fatalf("expected error for base url without host")
	}
}

func TestScraperPublicOperations(t *testing.T) {
	transport := httpmock.NewMockTransport()
	pages := map[models.Filter][]string{
		models.FilterAll:      {"Ether", "Bitcoin", "Cardano"},
		models.FilterPreICO:   {"Presale"},
		models.FilterPast:     {"Finished", "Ended"},
		models.FilterUpcoming: {},
		models.FilterOngoing:  {"Running"},
	}
	for filter, names := range pages {
		url := testBaseURL + "/ico/?filter=" + string(filter)
		transport.RegisterResponder("GET", url, htmlResponder(http.StatusOK, buildListingPage("Rating", names...)))
	}

	s := newMockedScraper(t, transport)
	ctx := context.Background()

	operations := map[models.Filter]func(context.Context) (*models.ListingResult, error){
		models.FilterAll:      s.All,
		models.FilterPreICO:   s.PreICO,
		models.FilterPast:     s.Past,
		models.FilterUpcoming: s.Upcoming,
		models.FilterOngoing:  s.Ongoing,
	}

	for filter, op := range operations {
		t.Run(string(filter), func(t *testing.T) {
			result, err := op(ctx)
			if err != nil {
				t.Fatalf("%s: %v", filter, err)
			}
			if result.Filter != filter {
				t.Fatalf("filter = %q, want %q", result.Filter, filter)
			}
			if result.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", result.StatusCode)
			}
			if result.ElapsedSeconds < 0 {
				t.Fatalf("elapsed = %v, want >= 0", result.ElapsedSeconds)
			}
			if result.Count != len(result.Records) || result.Count != len(pages[filter]) {
				t.Fatalf("count = %d, records = %d, want %d", result.Count, len(result.Records), len(pages[filter]))
			}
			for i, record := range result.Records {
				if record.Name != pages[filter][i] {
					t.Fatalf("record %d name = %q, want %q", i, record.Name, pages[filter][i])
				}
				if !record.ExpertReview {
					t.Fatalf("record %d should be expert reviewed", i)
				}
			}
		})
	}

	if got := transport.GetTotalCallCount(); got != len(operations) {
		t.Fatalf("requests = %d, want %d", got, len(operations))
	}
}

func TestScraperListingRecordShape(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL+"/ico/?filter=ongoing",
		htmlResponder(http.StatusOK, buildListingPage("Basic Review", "Ether")))

	s := newMockedScraper(t, transport)
	result, err := s.Ongoing(context.Background())
	if err != nil {
		t.Fatalf("ongoing: %v", err)
	}

	symbol, url, reviewURL, rating, industry := "ETH", "/ico/ether", "/review/ether", "B+", "Blockchain"
	hype, risk := 10.0, 5.0
	start, end := models.NewDate(2018, time.March, 1), models.NewDate(2018, time.April, 1)
	want := []*models.ProjectRecord{{
		Name:      "Ether",
		Symbol:    &symbol,
		URL:       &url,
		StartDate: &start,
		EndDate:   &end,
		HypeScore: &hype,
		RiskScore: &risk,
		ReviewURL: &reviewURL,
		Rating:    &rating,
		Industry:  &industry,
	}}
	if diff := cmp.Diff(want, result.Records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestScraperRepeatsSameFilter(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL+"/ico/?filter=all",
		htmlResponder(http.StatusOK, buildListingPage("Rating", "Ether")))

	s := newMockedScraper(t, transport)
	first, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if diff := cmp.Diff(first.Records, second.Records); diff != "" {
		t.Fatalf("repeat scrape differs (-first +second):\n%s", diff)
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
}

func TestScraperHTTPStatusIsReturned(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusServiceUnavailable, expected: "server_error"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testBaseURL+"/ico/?filter=past", htmlResponder(tt.status, "<html></html>"))

			s := newMockedScraper(t, transport)
			result, err := s.Past(context.Background())
			if err != nil {
				t.Fatalf("past: %v", err)
			}
			if result.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", result.StatusCode, tt.status)
			}
			if result.Count != 0 || len(result.Records) != 0 {
				t.Fatalf("count = %d, want 0", result.Count)
			}
			if got := testutil.ToFloat64(s.Metrics.ResponsesTotal.WithLabelValues(tt.expected)); got != 1 {
				t.Fatalf("responses{%s} = %v, want 1", tt.expected, got)
			}
		})
	}
}

func TestScraperFetchFailure(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL+"/ico/?filter=upcoming",
		httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

	s := newMockedScraper(t, transport)
	result, err := s.Upcoming(context.Background())
	if err == nil {
		t.Fatalf("expected error, got result %+v", result)
	}
	if result != nil {
		t.Fatalf("no partial result expected on fetch failure")
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fetchErr.Filter != models.FilterUpcoming {
		t.Fatalf("filter = %q", fetchErr.Filter)
	}
	var connErr ErrConnection
	if !errors.As(err, &connErr) {
		t.Fatalf("expected connection classification, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("requests = %d, want exactly 1 (no retries)", got)
	}
	if got := testutil.ToFloat64(s.Metrics.ErrorsTotal.WithLabelValues("connection")); got != 1 {
		t.Fatalf("errors{connection} = %v, want 1", got)
	}
}

func TestScraperRejectsUnknownFilter(t *testing.T) {
	transport := httpmock.NewMockTransport()
	s := newMockedScraper(t, transport)

	if _, err := s.Listing(context.Background(), models.Filter("finished")); !errors.Is(err, models.ErrUnknownFilter) {
		t.Fatalf("expected ErrUnknownFilter, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("requests = %d, want 0", got)
	}
}

func TestScraperCanceledContext(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL+"/ico/?filter=all", htmlResponder(http.StatusOK, "<html></html>"))
	s := newMockedScraper(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.All(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("requests = %d, want 0", got)
	}
}

func TestScraperListingAll(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBaseURL+"/ico/?filter=preico",
		htmlResponder(http.StatusOK, buildListingPage("Rating", "Presale")))
	transport.RegisterResponder("GET", testBaseURL+"/ico/?filter=ongoing",
		htmlResponder(http.StatusOK, buildListingPage("Basic Review", "Running", "Walking")))
	transport.RegisterResponder("GET", testBaseURL+"/ico/?filter=past",
		httpmock.NewErrorResponder(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}))

	s := newMockedScraper(t, transport)
	results, err := s.ListingAll(context.Background(), models.FilterPreICO, models.FilterOngoing, models.FilterPast)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Filter != models.FilterPast {
		t.Fatalf("expected past fetch error, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if got := results[models.FilterOngoing].Count; got != 2 {
		t.Fatalf("ongoing count = %d, want 2", got)
	}
	if got := testutil.ToFloat64(s.Metrics.RecordsExtractedTotal.WithLabelValues("preico")); got != 1 {
		t.Fatalf("records{preico} = %v, want 1", got)
	}
}

func TestScraperTLSOverrideIsPerClient(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ico/" || r.URL.Query().Get("filter") != "all" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, buildListingPage("Rating", "Secure"))
	}))
	defer server.Close()

	insecure := testConfig()
	insecure.BaseURL = server.URL
	insecure.InsecureSkipVerify = true
	s, err := NewScraper(insecure)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	result, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("all with verification disabled: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("count = %d, want 1", result.Count)
	}

	if def, ok := http.DefaultTransport.(*http.Transport); ok && def.TLSClientConfig != nil && def.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("default transport must keep certificate verification")
	}

	strict := testConfig()
	strict.BaseURL = server.URL
	strict.InsecureSkipVerify = false
	verifying, err := NewScraper(strict)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	_, err = verifying.All(context.Background())
	var tlsErr ErrTLS
	if !errors.As(err, &tlsErr) {
		t.Fatalf("expected tls classification for self-signed certificate, got %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "context canceled", err: context.Canceled, expected: "canceled"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "connection"},
		{name: "other", err: errors.New("some other error"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err)); got != tt.expected {
				t.Fatalf("classifyError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}
