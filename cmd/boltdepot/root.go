package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-fasteners/actions"
	"github.com/aluiziolira/go-scrape-fasteners/catalogue"
	"github.com/aluiziolira/go-scrape-fasteners/config"
	"github.com/aluiziolira/go-scrape-fasteners/models"
	"github.com/aluiziolira/go-scrape-fasteners/scraper"
)

const longHelp = `Scrape fastener catalogues and reference metrics from boltdepot.com.

Actions:
  scrape  scrape product details from website
  csv     convert scraped output to csv
  build   build catalogue from scraped data (work in progress)

Actions always run in the order shown above, regardless of the order given.`

type rootOptions struct {
	configPath      string
	prefix          string
	onlyMetrics     bool
	list            bool
	catalogues      string
	parallel        int
	delay           time.Duration
	randomDelay     time.Duration
	timeout         time.Duration
	pages           int
	maxRetries      int
	retryBackoff    time.Duration
	retryBackoffMax time.Duration
	respectRobots   bool
	metricsAddr     string
	verbose         bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "boltdepot [action ...]",
		Short: "boltdepot scrapes fastener catalogue data from boltdepot.com.",
		Long:  longHelp,
		Args: func(cmd *cobra.Command, args []string) error {
			_, err := actions.ParseSet(args)
			return err
		},
		ValidArgs:     []string{string(actions.Scrape), string(actions.CSV), string(actions.Build)},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.StringVarP(&opts.prefix, "prefix", "p", defaults.Prefix, "scraper file prefix")
	flags.BoolVar(&opts.onlyMetrics, "onlymetrics", false, "when scraping, only scrape metrics data")
	flags.BoolVarP(&opts.list, "list", "l", false, "list selected catalogues and exit")
	flags.StringVarP(&opts.catalogues, "catalogues", "c", defaults.CataloguePatterns, "comma-separated glob patterns of catalogues to act on")
	flags.IntVar(&opts.parallel, "parallel", defaults.Parallelism, "number of concurrent requests")
	flags.DurationVar(&opts.delay, "delay", defaults.Delay, "delay between requests")
	flags.DurationVar(&opts.randomDelay, "random-delay", defaults.RandomDelay, "random jitter added to delay")
	flags.DurationVar(&opts.timeout, "timeout", defaults.Timeout, "request timeout")
	flags.IntVar(&opts.pages, "pages", defaults.MaxPages, "maximum requests per feed (0 = unlimited)")
	flags.IntVar(&opts.maxRetries, "max-retries", defaults.MaxRetries, "maximum retry attempts per URL")
	flags.DurationVar(&opts.retryBackoff, "retry-backoff", defaults.RetryBackoff, "initial retry backoff")
	flags.DurationVar(&opts.retryBackoffMax, "retry-backoff-max", defaults.RetryBackoffMax, "maximum retry backoff")
	flags.BoolVar(&opts.respectRobots, "respect-robots", defaults.RespectRobotsTxt, "respect robots.txt directives")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")

	return cmd
}

func run(cmd *cobra.Command, opts *rootOptions, args []string) error {
	cfg, err := buildConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, level := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	registry := catalogue.BoltDepot()
	cfg.Catalogues, err = registry.Filter(cfg.CataloguePatterns)
	if err != nil {
		return err
	}

	if opts.list {
		for _, name := range cfg.Catalogues {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	set, err := actions.ParseSet(args)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		_ = cmd.Usage()
		return actions.ErrNoActions
	}

	metrics := scraper.NewMetrics()
	stopMetrics := serveMetrics(cfg.MetricsAddr, metrics)
	defer stopMetrics()

	runner := actions.NewRunner(cfg, registry, metrics)
	seq, err := actions.NewSequencer(runner.Handlers())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := seq.Run(ctx, set)
	if results := runner.Results(); len(results) > 0 {
		printSummary(cmd.OutOrStdout(), results)
	}
	return runErr
}

// buildConfig layers explicitly set flags over the file/environment config.
func buildConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("prefix") {
		cfg.Prefix = opts.prefix
	}
	if flags.Changed("onlymetrics") {
		cfg.OnlyMetrics = opts.onlyMetrics
	}
	if flags.Changed("catalogues") {
		cfg.CataloguePatterns = opts.catalogues
	}
	if flags.Changed("parallel") {
		cfg.Parallelism = opts.parallel
	}
	if flags.Changed("delay") {
		cfg.Delay = opts.delay
	}
	if flags.Changed("random-delay") {
		cfg.RandomDelay = opts.randomDelay
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("pages") {
		cfg.MaxPages = opts.pages
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries = opts.maxRetries
	}
	if flags.Changed("retry-backoff") {
		cfg.RetryBackoff = opts.retryBackoff
	}
	if flags.Changed("retry-backoff-max") {
		cfg.RetryBackoffMax = opts.retryBackoffMax
	}
	if flags.Changed("respect-robots") {
		cfg.RespectRobotsTxt = opts.respectRobots
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if flags.Changed("verbose") {
		cfg.Verbose = opts.verbose
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serveMetrics exposes the scrape metrics until the returned func is called.
func serveMetrics(addr string, metrics *scraper.Metrics) func() {
	if addr == "" {
		return func() {}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func printSummary(w io.Writer, results []*models.ScraperResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Scrape complete")
	t.AppendHeader(table.Row{"Feed", "Records", "Requests", "Errors", "Retries", "Failed URLs", "Duration"})

	var records, requests, errs, retries, failed int
	for _, r := range results {
		t.AppendRow(table.Row{
			r.Feed,
			r.TotalCount,
			r.RequestCount,
			r.ErrorCount,
			r.RetryCount,
			len(r.FailedURLs),
			r.EndTime.Sub(r.StartTime).Round(time.Millisecond),
		})
		records += r.TotalCount
		requests += r.RequestCount
		errs += r.ErrorCount
		retries += r.RetryCount
		failed += len(r.FailedURLs)
	}
	t.AppendFooter(table.Row{"Total", records, requests, errs, retries, failed, ""})
	t.SetStyle(table.StyleRounded)
	t.Render()

	for _, r := range results {
		if len(r.ErrorsByType) > 0 {
			slog.Warn("feed errors", slog.String("feed", r.Feed), slog.Any("by_type", r.ErrorsByType))
		}
	}
}

func newLogger(w io.Writer, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
