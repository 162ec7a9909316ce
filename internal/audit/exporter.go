package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"auth-security/internal/config"
	"auth-security/internal/metrics"
	"auth-security/internal/models"
)

var ErrExporterStopped = errors.New("audit exporter stopped")

// Record is one audit line plus the event it was built from. Structured sinks
// index the event; line-oriented sinks write Line verbatim.
type Record struct {
	Line  string
	Event *models.SecurityEvent
}

// Sink is an append-only audit destination
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
	Close() error
}

type ExporterConfig struct {
	BufferSize  int
	Workers     int
	SinkTimeout time.Duration
}

func DefaultExporterConfig() ExporterConfig {
	return ExporterConfig{
		BufferSize:  1024,
		Workers:     2,
		SinkTimeout: 5 * time.Second,
	}
}

func ExporterConfigFrom(cfg config.AuditConfig) ExporterConfig {
	return ExporterConfig{
		BufferSize:  cfg.BufferSize,
		Workers:     cfg.Workers,
		SinkTimeout: cfg.SinkTimeout,
	}
}

// Exporter queues audit records and writes them from background workers.
// Export never blocks: when the queue is full the record is dropped and counted.
type Exporter struct {
	header Header
	sink   Sink
	cfg    ExporterConfig
	logger *zap.Logger

	queue chan Record
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

func NewExporter(header Header, sink Sink, cfg ExporterConfig, logger *zap.Logger) *Exporter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultExporterConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultExporterConfig().SinkTimeout
	}
	return &Exporter{
		header: header,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Record, cfg.BufferSize),
	}
}

// Start launches the workers
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("audit exporter already started")
	}
	if e.stopped {
		return ErrExporterStopped
	}

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	e.started = true

	e.logger.Info("Audit exporter started",
		zap.String("sink", e.sink.Name()),
		zap.Int("workers", e.cfg.Workers),
		zap.Int("buffer_size", e.cfg.BufferSize))
	return nil
}

// Export formats a suspicious event and queues it. Non-suspicious events are
// ignored. It reports whether the record was queued.
func (e *Exporter) Export(event *models.SecurityEvent) bool {
	if event == nil || !event.IsSuspicious {
		return false
	}
	rec := Record{Line: Format(e.header, event), Event: event.Clone()}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.stopped {
		metrics.RecordExportDropped()
		return false
	}

	select {
	case e.queue <- rec:
		return true
	default:
		metrics.RecordExportDropped()
		e.logger.Warn("Audit queue full, dropping record",
			zap.String("user_id", event.UserID),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType))
		return false
	}
}

// Stop closes the queue, waits for queued records to drain and closes the sink
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	close(e.queue)
	e.mu.Unlock()

	e.logger.Info("Stopping audit exporter", zap.Int("pending", len(e.queue)))

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("audit exporter stop: %w", ctx.Err())
	}

	if err := e.sink.Close(); err != nil {
		return fmt.Errorf("failed to close audit sink: %w", err)
	}
	e.logger.Info("Audit exporter stopped")
	return nil
}

func (e *Exporter) worker(id int) {
	defer e.wg.Done()

	for rec := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SinkTimeout)
		err := e.sink.Write(ctx, rec)
		cancel()

		if err != nil {
			// MultiSink counts failures under each failing sink's own name
			if _, fanOut := e.sink.(*MultiSink); !fanOut {
				metrics.RecordExportFailure(e.sink.Name())
			}
			e.logger.Warn("Failed to export audit record",
				zap.Int("worker_id", id),
				zap.String("sink", e.sink.Name()),
				zap.String("event_id", rec.Event.ID),
				zap.Error(err))
		}
	}
}
