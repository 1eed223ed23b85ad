package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-fasteners/config"
	"github.com/aluiziolira/go-scrape-fasteners/models"
	"github.com/aluiziolira/go-scrape-fasteners/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: timed out draining workers")
)

// drainTimeout bounds how long Close waits for workers.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []models.Record) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, de-duplication, and output writing.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	recordCh  chan models.Record
	batchSize int

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	bufferSize := cfg.PipelineBufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	dedupeSize := cfg.DedupeMaxSize
	if dedupeSize <= 0 {
		dedupeSize = 10000
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		// only possible for a non-positive size, ruled out above
		panic(err)
	}

	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		recordCh:  make(chan models.Record, bufferSize),
		batchSize: batchSize,
		seen:      seen,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues records for downstream processing.
func (p *Pipeline) Process(records ...models.Record) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if record == nil {
			continue
		}
		if err := p.enqueue(record); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.signalShutdown()
		return ErrPipelineCloseTimeout
	}

	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// Processed returns how many records passed validation and de-duplication.
func (p *Pipeline) Processed() int64 {
	return p.metrics.processedCount()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				processed := metrics["processed_records"].(int64)
				validation := metrics["validation_errors"].(map[string]int)
				slog.Info("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int("validation_error_kinds", len(validation)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.Record, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for record := range p.recordCh {
		prepared := p.prepare(record)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(record models.Record) models.Record {
	if err := parser.ValidateRecord(record); err != nil {
		slog.Debug("dropping invalid record", slog.Any("error", err))
		p.metrics.addValidation("invalid_record")
		return nil
	}

	if key := record.Key(); key != "" {
		if found, _ := p.seen.ContainsOrAdd(key, struct{}{}); found {
			p.metrics.addValidation("duplicate_key")
			return nil
		}
	}

	p.metrics.incrementProcessed()
	return record
}

func (p *Pipeline) enqueue(record models.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.recordCh <- record:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) processedCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"validation_errors": copyValidation,
	}
}
