package actions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-fasteners/catalogue"
	"github.com/aluiziolira/go-scrape-fasteners/config"
	"github.com/aluiziolira/go-scrape-fasteners/models"
	"github.com/aluiziolira/go-scrape-fasteners/pipeline"
	"github.com/aluiziolira/go-scrape-fasteners/scraper"
)

// Runner implements the scrape, csv and build actions over a registry.
type Runner struct {
	cfg       *config.Config
	registry  *catalogue.Registry
	metrics   *scraper.Metrics
	transport http.RoundTripper

	mu      sync.Mutex
	results []*models.ScraperResult
}

// NewRunner returns a Runner acting on cfg.Catalogues.
func NewRunner(cfg *config.Config, registry *catalogue.Registry, metrics *scraper.Metrics) *Runner {
	return &Runner{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
	}
}

// WithTransport makes every scraper use rt instead of the network.
func (r *Runner) WithTransport(rt http.RoundTripper) *Runner {
	r.transport = rt
	return r
}

// Handlers returns the action table for NewSequencer.
func (r *Runner) Handlers() map[Action]Handler {
	return map[Action]Handler{
		Scrape: r.Scrape,
		CSV:    r.CSV,
		Build:  r.Build,
	}
}

// Results returns the per-feed results of the last scrape.
func (r *Runner) Results() []*models.ScraperResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.ScraperResult, len(r.results))
	copy(out, r.results)
	return out
}

// feedNames lists the feeds a scrape produces: the selected catalogues unless
// only metrics were asked for, then every metrics table.
func (r *Runner) feedNames() []string {
	var names []string
	if !r.cfg.OnlyMetrics {
		names = append(names, r.cfg.Catalogues...)
	}
	return append(names, r.registry.Names(catalogue.KindMetrics)...)
}

// Scrape deletes the target feed files and re-scrapes each one from scratch.
func (r *Runner) Scrape(ctx context.Context) error {
	names := r.feedNames()
	walkers := make([]catalogue.Walker, 0, len(names))
	for _, name := range names {
		w, ok := r.registry.Get(name)
		if !ok {
			return fmt.Errorf("unknown catalogue %q", name)
		}
		walkers = append(walkers, w)
	}

	for _, name := range names {
		path := r.cfg.FeedPath(name)
		removed, err := pipeline.RemoveFeed(path)
		if err != nil {
			return err
		}
		if removed {
			slog.Debug("removed previous feed", slog.String("path", path))
		}
	}

	r.mu.Lock()
	r.results = nil
	r.mu.Unlock()

	for _, w := range walkers {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := r.scrapeFeed(ctx, w)
		if err != nil {
			return fmt.Errorf("feed %s: %w", w.Name, err)
		}
		r.mu.Lock()
		r.results = append(r.results, result)
		r.mu.Unlock()
	}
	return nil
}

func (r *Runner) scrapeFeed(ctx context.Context, w catalogue.Walker) (result *models.ScraperResult, err error) {
	path := r.cfg.FeedPath(w.Name)
	slog.Info("scraping feed",
		slog.String("feed", w.Name),
		slog.String("kind", w.Kind.String()),
		slog.String("path", path),
	)

	writer, err := pipeline.NewJSONWriter(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close feed: %w", cerr)
		}
	}()

	s, err := scraper.NewScraper(r.cfg, w, r.metrics)
	if err != nil {
		return nil, err
	}
	if r.transport != nil {
		s.WithTransport(r.transport)
	}

	p := pipeline.NewPipeline(ctx, writer, r.cfg)
	p.Start(r.cfg.PipelineWorkers)
	if r.cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, runErr := s.Run(ctx, p)
	if closeErr := p.Close(); closeErr != nil && runErr == nil {
		runErr = fmt.Errorf("pipeline shutdown: %w", closeErr)
	}
	if runErr != nil {
		return nil, runErr
	}
	result.TotalCount = int(p.Processed())
	if err := writer.Validate(); err != nil {
		slog.Warn("feed has no records", slog.String("feed", w.Name), slog.Any("error", err))
	}
	return result, nil
}

// CSV flattens each selected catalogue feed into a CSV file beside it.
func (r *Runner) CSV(ctx context.Context) error {
	for _, name := range r.cfg.Catalogues {
		if err := ctx.Err(); err != nil {
			return err
		}
		feedPath := r.cfg.FeedPath(name)
		products, err := pipeline.ReadProducts(feedPath)
		if err != nil {
			return fmt.Errorf("catalogue %s: %w", name, err)
		}
		csvPath := pipeline.CSVPath(feedPath)
		if err := pipeline.WriteProductsCSV(csvPath, products); err != nil {
			return fmt.Errorf("catalogue %s: %w", name, err)
		}
		slog.Info("csv written",
			slog.String("catalogue", name),
			slog.String("path", csvPath),
			slog.Int("rows", len(products)),
		)
	}
	return nil
}

// Build will assemble a parametric-parts catalogue from the feeds. It always
// fails until that exists.
func (r *Runner) Build(ctx context.Context) error {
	slog.Warn("build is a work in progress", slog.Any("catalogues", r.cfg.Catalogues))
	return fmt.Errorf("build catalogue: %w", ErrNotImplemented)
}
