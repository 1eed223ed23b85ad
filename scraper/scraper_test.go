package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-fasteners/catalogue"
	"github.com/aluiziolira/go-scrape-fasteners/config"
	"github.com/aluiziolira/go-scrape-fasteners/models"
	"github.com/aluiziolira/go-scrape-fasteners/pipeline"
)

const testBase = "http://example.test/"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Parallelism = 2
	cfg.Delay = 0
	cfg.RandomDelay = 0
	cfg.RespectRobotsTxt = false
	cfg.MaxRetries = 0
	cfg.PipelineBufferSize = 16
	cfg.BatchSize = 1
	return cfg
}

func mustRequest(t *testing.T, raw string) *colly.Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return &colly.Request{URL: u}
}

func TestRetryManagerScheduleRespectsLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Hour
	cfg.RetryBackoffMax = time.Hour

	rm := newRetryManager(cfg, NewMetrics())
	req := mustRequest(t, "http://example.com/page")

	if !rm.Schedule(req) {
		t.Fatalf("first retry should be scheduled")
	}
	if !rm.Schedule(req) {
		t.Fatalf("second retry should be scheduled")
	}
	if rm.Schedule(req) {
		t.Fatalf("third retry should not be scheduled")
	}
	if !rm.Pending() {
		t.Fatalf("expected an armed retry timer")
	}

	rm.Stop()
	if rm.Pending() {
		t.Fatalf("stop should disarm timers")
	}
	if got := rm.TotalRetries(); got != 2 {
		t.Fatalf("total retries = %d, want 2", got)
	}
}

func TestRetryManagerDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 0

	rm := newRetryManager(cfg, nil)
	if rm.Schedule(mustRequest(t, "http://example.com/page")) {
		t.Fatalf("retry should not be scheduled when retries are disabled")
	}
}

func TestRetryManagerBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	rm := newRetryManager(cfg, NewMetrics())

	if delay := rm.backoff(1); delay != 200*time.Millisecond {
		t.Fatalf("first delay = %v, want 200ms", delay)
	}
	if delay := rm.backoff(4); delay != cfg.RetryBackoffMax {
		t.Fatalf("delay %v should be capped at %v", delay, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestErrorTypeLabelParse(t *testing.T) {
	err := fmt.Errorf("handler: %w", ErrParse{URL: "http://example.test/x", Err: errors.New("boom")})
	if got := errorTypeLabel(err); got != "parse" {
		t.Fatalf("label = %q, want parse", got)
	}
}

type collectingWriter struct {
	mu      sync.Mutex
	records []models.Record
}

func (cw *collectingWriter) Write(records []models.Record) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.records = append(cw.records, records...)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) All() []models.Record {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]models.Record, len(cw.records))
	copy(out, cw.records)
	return out
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func runWalker(t *testing.T, cfg *config.Config, walker catalogue.Walker, transport http.RoundTripper) (*models.ScraperResult, *collectingWriter) {
	t.Helper()

	s, err := NewScraper(cfg, walker, nil)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.WithTransport(transport)

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
	result.TotalCount = int(p.Processed())
	return result, writer
}

func TestScraperHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			walker := catalogue.Walker{Name: "bolts", StartURLs: []string{testBase + "Hex_bolts.aspx"}}

			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testBase+"Hex_bolts.aspx", httpmock.NewStringResponder(tt.status, ""))

			result, _ := runWalker(t, testConfig(), walker, transport)

			if got := result.ErrorsByType[tt.expected]; got == 0 {
				t.Fatalf("expected %q classification for status %d", tt.expected, tt.status)
			}
			if len(result.FailedURLs) != 1 {
				t.Fatalf("failed urls = %v, want 1", result.FailedURLs)
			}
		})
	}
}

const listingPage = `<html><body>
<table class="product-catalog-table"><tr><td><ul>
	<li><a href="Hex_bolts_grade5.aspx">Grade 5</a></li>
</ul></td></tr></table>
<table id="product-list-table">
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?product=1">1</a></td></tr>
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?product=2">2</a></td></tr>
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?ref=broken">?</a></td></tr>
</table>
</body></html>`

const subListingPage = `<html><body>
<table id="product-list-table">
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?product=3">3</a></td></tr>
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?product=1">1</a></td></tr>
</table>
</body></html>`

func detailPage(id string) string {
	return fmt.Sprintf(`<html><body>
<div id="catalog-header-title"><h1>Hex bolt %s</h1></div>
<img class="catalog-header-product-image" src="/images/%s.jpg">
<table id="product-property-list">
	<tr><td class="name"><span>Diameter</span></td><td class="value"><span>1/4"</span></td></tr>
	<tr><td class="name"><span>Length</span></td><td class="value"><span>%s"</span></td></tr>
</table>
<table class="product-catalog-table"><tr><td><ul><li><a href="Should_not_follow.aspx">x</a></li></ul></td></tr></table>
</body></html>`, id, id, id)
}

func TestScraperProductWalker(t *testing.T) {
	cfg := testConfig()
	walker := catalogue.Walker{Name: "bolts", StartURLs: []string{testBase + "Hex_bolts.aspx"}}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"Hex_bolts.aspx", htmlResponder(listingPage))
	transport.RegisterResponder("GET", testBase+"Hex_bolts_grade5.aspx", htmlResponder(subListingPage))
	for _, id := range []string{"1", "2", "3"} {
		transport.RegisterResponder("GET", testBase+"Product-Details.aspx?product="+id, htmlResponder(detailPage(id)))
	}
	transport.RegisterResponder("GET", testBase+"Product-Details.aspx?ref=broken", htmlResponder(detailPage("x")))

	result, writer := runWalker(t, cfg, walker, transport)

	var ids []string
	var sample *models.Product
	for _, record := range writer.All() {
		product, ok := record.(*models.Product)
		if !ok {
			t.Fatalf("unexpected record type %T", record)
		}
		ids = append(ids, product.ID)
		if product.ID == "2" {
			sample = product
		}
	}
	sort.Strings(ids)
	if fmt.Sprint(ids) != "[1 2 3]" {
		t.Fatalf("product ids = %v, want [1 2 3]", ids)
	}

	if sample == nil {
		t.Fatalf("expected product 2")
	}
	if sample.Name != "Hex bolt 2" {
		t.Fatalf("name = %q", sample.Name)
	}
	if sample.URL != testBase+"Product-Details.aspx?product=2" {
		t.Fatalf("url = %q", sample.URL)
	}
	if sample.ImageURL != testBase+"images/2.jpg" {
		t.Fatalf("image url = %q", sample.ImageURL)
	}
	if sample.Details["Length"] != `2"` {
		t.Fatalf("details = %v", sample.Details)
	}

	if result.ErrorsByType["parse"] != 1 {
		t.Fatalf("parse errors = %d, want 1 (%v)", result.ErrorsByType["parse"], result.ErrorsByType)
	}
	if result.Feed != "bolts" || result.TotalCount != 3 {
		t.Fatalf("result = %+v", result)
	}
	if info := transport.GetCallCountInfo(); info["GET "+testBase+"Should_not_follow.aspx"] != 0 {
		t.Fatalf("detail pages must not be walked as listings")
	}
}

const metricsPage = `<html><body>
<table class="fastener-info-table">
	<tr><th colspan="2">Metric thread pitch</th></tr>
	<tr><th>Diameter</th><th>Coarse</th></tr>
	<tr><td>M3</td><td>0.5</td></tr>
	<tr><td>M4</td><td>0.7</td></tr>
	<tr><td></td><td></td></tr>
</table>
</body></html>`

func TestScraperMetricsWalker(t *testing.T) {
	walker := catalogue.Walker{Name: "d-met-threadpitch", Kind: catalogue.KindMetrics, StartURLs: []string{testBase + "Metric-Thread-Pitch.aspx"}}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"Metric-Thread-Pitch.aspx", htmlResponder(metricsPage))

	result, writer := runWalker(t, testConfig(), walker, transport)

	records := writer.All()
	if len(records) != 2 {
		t.Fatalf("rows = %d, want 2", len(records))
	}
	first, ok := records[0].(models.MetricsRow)
	if !ok {
		t.Fatalf("unexpected record type %T", records[0])
	}
	if first["Diameter"] != "M3" || first["Coarse"] != "0.5" {
		t.Fatalf("first row = %v", first)
	}
	if result.ErrorCount != 0 {
		t.Fatalf("errors = %v", result.ErrorsByType)
	}
}

func TestScraperMetricsWalkerWithoutTable(t *testing.T) {
	walker := catalogue.Walker{Name: "d-us-tpi", Kind: catalogue.KindMetrics, StartURLs: []string{testBase + "US-TPI.aspx"}}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"US-TPI.aspx", htmlResponder("<html><body><p>moved</p></body></html>"))

	result, writer := runWalker(t, testConfig(), walker, transport)

	if len(writer.All()) != 0 {
		t.Fatalf("expected no rows")
	}
	if result.ErrorsByType["parse"] != 1 {
		t.Fatalf("expected a parse error, got %v", result.ErrorsByType)
	}
}

func TestScraperRetriesFailedRequest(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond

	walker := catalogue.Walker{Name: "d-us-tpi", Kind: catalogue.KindMetrics, StartURLs: []string{testBase + "US-TPI.aspx"}}

	var calls int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"US-TPI.aspx", func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, metricsPage)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	result, writer := runWalker(t, cfg, walker, transport)

	if result.RetryCount != 1 {
		t.Fatalf("retries = %d, want 1", result.RetryCount)
	}
	if len(result.FailedURLs) != 0 {
		t.Fatalf("failed urls = %v, want none", result.FailedURLs)
	}
	if got := len(writer.All()); got != 2 {
		t.Fatalf("rows after retry = %d, want 2", got)
	}
}

func TestScraperPageLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	walker := catalogue.Walker{Name: "bolts", StartURLs: []string{testBase + "Hex_bolts.aspx"}}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"Hex_bolts.aspx", htmlResponder(listingPage))
	transport.RegisterNoResponder(htmlResponder(detailPage("1")))

	result, _ := runWalker(t, cfg, walker, transport)

	if result.RequestCount > 2 {
		t.Fatalf("requests = %d, want at most 2", result.RequestCount)
	}
}

func TestScraperPageLimitBelowStartURLs(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 1
	walker := catalogue.Walker{
		Name:      "d-us-tpi",
		Kind:      catalogue.KindMetrics,
		StartURLs: []string{testBase + "a.aspx", testBase + "b.aspx"},
	}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"a.aspx", htmlResponder(metricsPage))
	transport.RegisterResponder("GET", testBase+"b.aspx", htmlResponder(metricsPage))

	result, writer := runWalker(t, cfg, walker, transport)

	if result.RequestCount != 1 {
		t.Fatalf("requests = %d, want 1", result.RequestCount)
	}
	if got := len(writer.All()); got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}
	if info := transport.GetCallCountInfo(); info["GET "+testBase+"b.aspx"] != 0 {
		t.Fatalf("start url past the page limit must not be fetched")
	}
}

const duplicateLinksPage = `<html><body>
<table id="product-list-table">
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?product=1">1</a></td></tr>
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?product=1">1</a></td></tr>
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?product=1">1</a></td></tr>
	<tr><td class="cell-prod-no"><a href="Product-Details.aspx?product=2">2</a></td></tr>
</table>
</body></html>`

func TestScraperPageLimitIgnoresDuplicateLinks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 3
	walker := catalogue.Walker{Name: "bolts", StartURLs: []string{testBase + "Hex_bolts.aspx", testBase + "Hex_bolts.aspx"}}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"Hex_bolts.aspx", htmlResponder(duplicateLinksPage))
	for _, id := range []string{"1", "2"} {
		transport.RegisterResponder("GET", testBase+"Product-Details.aspx?product="+id, htmlResponder(detailPage(id)))
	}

	result, writer := runWalker(t, cfg, walker, transport)

	if result.RequestCount != 3 {
		t.Fatalf("requests = %d, want 3", result.RequestCount)
	}
	if got := len(writer.All()); got != 2 {
		t.Fatalf("products = %d, want 2", got)
	}
}

func TestScraperRetryNearPollInterval(t *testing.T) {
	backoffs := []time.Duration{
		retryPollInterval - time.Millisecond,
		retryPollInterval,
		retryPollInterval + time.Millisecond,
		2 * retryPollInterval,
	}
	for _, backoff := range backoffs {
		t.Run(backoff.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRetries = 1
			cfg.RetryBackoff = backoff
			cfg.RetryBackoffMax = backoff
			walker := catalogue.Walker{Name: "d-us-tpi", Kind: catalogue.KindMetrics, StartURLs: []string{testBase + "US-TPI.aspx"}}

			var calls int32
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testBase+"US-TPI.aspx", func(req *http.Request) (*http.Response, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
				}
				// keep the retried request in flight across a poll tick
				time.Sleep(retryPollInterval)
				resp := httpmock.NewStringResponse(http.StatusOK, metricsPage)
				resp.Header.Set("Content-Type", "text/html")
				return resp, nil
			})

			_, writer := runWalker(t, cfg, walker, transport)

			if got := atomic.LoadInt32(&calls); got != 2 {
				t.Fatalf("calls = %d, want 2", got)
			}
			if got := len(writer.All()); got != 2 {
				t.Fatalf("rows after retry = %d, want 2", got)
			}
		})
	}
}

func TestRetryManagerKeepsRearmedTimer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Hour
	cfg.RetryBackoffMax = time.Hour

	rm := newRetryManager(cfg, NewMetrics())
	req := mustRequest(t, "http://example.com/page")
	if !rm.Schedule(req) {
		t.Fatalf("first retry should be scheduled")
	}
	rm.mu.Lock()
	first := rm.timers["http://example.com/page"]
	rm.mu.Unlock()

	if !rm.Schedule(req) {
		t.Fatalf("second retry should be scheduled")
	}

	// a cancelled context makes fireRetry skip Retry and only clean up
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rm.SetContext(ctx)

	rm.fireRetry("http://example.com/page", req, &first)
	if !rm.Pending() {
		t.Fatalf("stale timer firing must not drop the re-armed retry")
	}

	rm.mu.Lock()
	second := rm.timers["http://example.com/page"]
	rm.mu.Unlock()
	rm.fireRetry("http://example.com/page", req, &second)
	if rm.Pending() {
		t.Fatalf("expected no pending retries once the current timer fired")
	}
	rm.Stop()
}

func TestNewScraperRejectsBadWalker(t *testing.T) {
	cfg := testConfig()
	if _, err := NewScraper(cfg, catalogue.Walker{Name: "empty"}, nil); err == nil {
		t.Fatalf("expected error for walker without start urls")
	}
	if _, err := NewScraper(cfg, catalogue.Walker{Name: "relative", StartURLs: []string{"/Hex_bolts.aspx"}}, nil); err == nil {
		t.Fatalf("expected error for start url without host")
	}
}
