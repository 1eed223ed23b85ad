package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-fasteners/catalogue"
	"github.com/aluiziolira/go-scrape-fasteners/config"
	"github.com/aluiziolira/go-scrape-fasteners/models"
	"github.com/aluiziolira/go-scrape-fasteners/parser"
	"github.com/aluiziolira/go-scrape-fasteners/pipeline"
)

// Page roles, carried in the colly request context under pageKey.
const (
	pageKey     = "page"
	pageListing = "listing"
	pageDetail  = "detail"
	pageMetrics = "metrics"
)

const (
	catalogueLinkSelector = "table.product-catalog-table li a"
	productLinkSelector   = "#product-list-table td.cell-prod-no"
	metricsTableSelector  = "table.fastener-info-table"
)

const retryPollInterval = 20 * time.Millisecond

// ErrPageLimit is returned by visit once cfg.MaxPages requests were issued.
var ErrPageLimit = errors.New("page limit reached")

// Scraper walks one catalogue or metrics feed with a colly collector.
type Scraper struct {
	cfg       *config.Config
	walker    catalogue.Walker
	collector *colly.Collector
	retry     *retryManager
	Metrics   *Metrics

	requestCount int64
	pageCount    int64
	errorCount   int64

	visitMu    sync.Mutex
	visitCount int

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper for walker. Requests are restricted to the hosts
// of the walker's start URLs. A nil metrics gets a private registry.
func NewScraper(cfg *config.Config, walker catalogue.Walker, metrics *Metrics) (*Scraper, error) {
	if len(walker.StartURLs) == 0 {
		return nil, fmt.Errorf("walker %q has no start urls", walker.Name)
	}

	var hosts []string
	for _, raw := range walker.StartURLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse start url: %w", err)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("start url %q must include a host", raw)
		}
		hosts = append(hosts, parsed.Host)
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(hosts...),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Scraper{
		cfg:          cfg,
		walker:       walker,
		collector:    collector,
		errorsByType: make(map[string]int),
		Metrics:      metrics,
	}
	s.retry = newRetryManager(cfg, s.Metrics)
	return s, nil
}

// WithTransport replaces the HTTP transport used by the collector.
func (s *Scraper) WithTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
}

// Run visits every start URL and streams records through the pipeline until
// the crawl settles. TotalCount only covers records the pipeline had
// processed when the crawl settled; callers re-read it after closing p.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.retry.SetContext(ctx)
	s.configureHandlers(ctx, p)

	start := time.Now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.retry.Stop()
		case <-done:
		}
	}()

	entry := pageListing
	if s.walker.Kind == catalogue.KindMetrics {
		entry = pageMetrics
	}
	for _, u := range s.walker.StartURLs {
		err := s.visit(u, entry)
		if errors.Is(err, ErrPageLimit) {
			slog.Warn("page limit reached while seeding",
				slog.String("feed", s.walker.Name),
				slog.String("url", u),
				slog.Int("max_pages", s.cfg.MaxPages),
			)
			break
		}
		if err != nil && !errors.Is(err, colly.ErrAlreadyVisited) {
			s.collector.Wait()
			s.retry.Stop()
			return nil, fmt.Errorf("initial visit %s: %w", u, err)
		}
	}

	s.waitIdle(ctx)
	s.retry.Stop()

	return &models.ScraperResult{
		Feed:         s.walker.Name,
		StartTime:    start,
		EndTime:      time.Now(),
		TotalCount:   int(p.Processed()),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
		RetryCount:   s.retry.TotalRetries(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		PageCount:    int(atomic.LoadInt64(&s.pageCount)),
	}, nil
}

// waitIdle blocks until no request is in flight and no retry is armed. A
// retry that fired after the last Wait is already registered with the
// collector, so the trailing Wait covers it.
func (s *Scraper) waitIdle(ctx context.Context) {
	s.collector.Wait()
	for s.retry.Pending() && ctx.Err() == nil {
		time.Sleep(retryPollInterval)
		s.collector.Wait()
	}
	s.collector.Wait()
}

// visit queues link with the given page role. Only requests the collector
// accepts count against cfg.MaxPages.
func (s *Scraper) visit(link, page string) error {
	s.visitMu.Lock()
	defer s.visitMu.Unlock()

	if s.cfg.MaxPages > 0 && s.visitCount >= s.cfg.MaxPages {
		return ErrPageLimit
	}
	ctx := colly.NewContext()
	ctx.Put(pageKey, page)
	if err := s.collector.Request(http.MethodGet, link, nil, ctx, nil); err != nil {
		return err
	}
	s.visitCount++
	return nil
}

func (s *Scraper) follow(e *colly.HTMLElement, href, page string) {
	if href == "" {
		return
	}
	abs := e.Request.AbsoluteURL(href)
	if abs == "" {
		return
	}
	if err := s.visit(abs, page); err != nil && !errors.Is(err, colly.ErrAlreadyVisited) {
		slog.Debug("skipping link",
			slog.String("feed", s.walker.Name),
			slog.String("url", abs),
			slog.Any("error", err),
		)
	}
}

func (s *Scraper) configureHandlers(ctx context.Context, p *pipeline.Pipeline) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			if ctx.Err() != nil {
				r.Abort()
				return
			}
			r.Ctx.Put("start", time.Now())
			current := atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest("started")
			if current%50 == 0 {
				slog.Debug("scraper request progress",
					slog.String("feed", s.walker.Name),
					slog.Int64("requests", current),
					slog.Int64("pages", atomic.LoadInt64(&s.pageCount)),
					slog.String("url", r.URL.String()),
				)
			}
		})

		s.collector.OnResponse(func(r *colly.Response) {
			atomic.AddInt64(&s.pageCount, 1)
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			link := ""
			if r != nil && r.Request != nil && r.Request.URL != nil {
				link = r.Request.URL.String()
			}
			s.recordError(link, classifyError(err, statusCode))

			if r == nil || r.Request == nil || !s.retry.Schedule(r.Request) {
				s.mu.Lock()
				s.failedURLs = append(s.failedURLs, link)
				s.mu.Unlock()
			}
		})

		s.collector.OnHTML(catalogueLinkSelector, func(e *colly.HTMLElement) {
			if e.Request.Ctx.Get(pageKey) != pageListing {
				return
			}
			s.follow(e, e.Attr("href"), pageListing)
		})

		s.collector.OnHTML(productLinkSelector, func(e *colly.HTMLElement) {
			if e.Request.Ctx.Get(pageKey) != pageListing {
				return
			}
			s.follow(e, e.ChildAttr("a", "href"), pageDetail)
		})

		s.collector.OnHTML("html", func(e *colly.HTMLElement) {
			switch e.Request.Ctx.Get(pageKey) {
			case pageDetail:
				s.handleDetail(e, p)
			case pageMetrics:
				s.handleMetrics(e, p)
			}
		})
	})
}

func (s *Scraper) handleDetail(e *colly.HTMLElement, p *pipeline.Pipeline) {
	link := e.Request.URL.String()
	product, err := parser.ExtractProduct(link, e.DOM)
	if err != nil {
		s.recordError(link, ErrParse{URL: link, Err: err})
		return
	}
	if product.ImageURL != "" {
		product.ImageURL = e.Request.AbsoluteURL(product.ImageURL)
	}
	slog.Info("product scraped",
		slog.String("feed", s.walker.Name),
		slog.String("id", product.ID),
		slog.String("name", product.Name),
	)
	s.emit(p, product)
}

func (s *Scraper) handleMetrics(e *colly.HTMLElement, p *pipeline.Pipeline) {
	link := e.Request.URL.String()
	rows, err := parser.ExtractMetrics(e.DOM.Find(metricsTableSelector))
	if err != nil {
		s.recordError(link, ErrParse{URL: link, Err: err})
		return
	}
	slog.Info("metrics table scraped",
		slog.String("feed", s.walker.Name),
		slog.Int("rows", len(rows)),
	)
	for _, row := range rows {
		s.emit(p, row)
	}
}

func (s *Scraper) emit(p *pipeline.Pipeline, record models.Record) {
	s.Metrics.IncItems(s.walker.Name)
	if err := p.Process(record); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
		slog.Error("pipeline process error", slog.Any("error", err))
	}
}

func (s *Scraper) recordError(link string, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	category := errorTypeLabel(err)

	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()

	slog.Error("request error",
		slog.String("feed", s.walker.Name),
		slog.String("url", link),
		slog.String("category", category),
		slog.Any("error", err),
	)
	s.Metrics.IncError(category)
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
