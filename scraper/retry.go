package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-fasteners/config"
)

// retryManager re-issues failed requests with capped exponential backoff.
// Request.Retry keeps the request context, so a retried page keeps its role.
type retryManager struct {
	cfg     *config.Config
	metrics *Metrics
	ctx     context.Context

	mu           sync.Mutex
	attempts     map[string]int
	timers       map[string]*time.Timer
	totalRetries int
	stopped      bool
}

func newRetryManager(cfg *config.Config, metrics *Metrics) *retryManager {
	return &retryManager{
		cfg:      cfg,
		attempts: make(map[string]int),
		timers:   make(map[string]*time.Timer),
		metrics:  metrics,
		ctx:      context.Background(),
	}
}

func (rm *retryManager) Schedule(req *colly.Request) bool {
	if rm.cfg.MaxRetries == 0 || req == nil || req.URL == nil {
		return false
	}

	rm.mu.Lock()

	if rm.stopped {
		rm.mu.Unlock()
		return false
	}
	if rm.ctx != nil && rm.ctx.Err() != nil {
		rm.mu.Unlock()
		return false
	}

	key := req.URL.String()
	attempt := rm.attempts[key]
	if attempt >= rm.cfg.MaxRetries {
		rm.mu.Unlock()
		return false
	}

	attempt++
	rm.attempts[key] = attempt
	rm.totalRetries++
	rm.metrics.IncRetries()

	delay := rm.backoff(attempt)
	rm.resetTimerLocked(key)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		rm.fireRetry(key, req, &timer)
	})
	rm.timers[key] = timer
	rm.mu.Unlock()
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rm *retryManager) resetTimerLocked(key string) {
	if timer, ok := rm.timers[key]; ok {
		timer.Stop()
		delete(rm.timers, key)
	}
}

// fireRetry re-issues req. The timer stays registered until Retry has handed
// the request to the collector, so Pending never reports idle in between.
// self is read under mu; Schedule assigns it while holding mu.
func (rm *retryManager) fireRetry(key string, req *colly.Request, self **time.Timer) {
	rm.mu.Lock()
	if rm.stopped {
		rm.mu.Unlock()
		return
	}
	ctx := rm.ctx
	timer := *self
	rm.mu.Unlock()

	if ctx == nil || ctx.Err() == nil {
		if err := req.Retry(); err != nil {
			slog.Debug("retry visit failed", slog.String("url", key), slog.Any("error", err))
		}
	}

	rm.mu.Lock()
	// a failed retry may already have armed the next attempt under key
	if rm.timers[key] == timer {
		delete(rm.timers, key)
	}
	rm.mu.Unlock()
}

// Pending reports whether any retry timer is still armed.
func (rm *retryManager) Pending() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.timers) > 0
}

func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for key, timer := range rm.timers {
		timer.Stop()
		delete(rm.timers, key)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
