package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auth-security/internal/metrics"
)

// FileSink appends one line per record to a local file
type FileSink struct {
	path string
	file *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileSink{path: path, file: f}, nil
}

func (s *FileSink) Name() string { return "file" }

// Write relies on O_APPEND; each record is a single write call
func (s *FileSink) Write(_ context.Context, rec Record) error {
	if _, err := s.file.WriteString(rec.Line + "\n"); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	return s.file.Close()
}

// LogSink writes records through a dedicated zap logger
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("cef")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, rec Record) error {
	s.logger.Info(rec.Line)
	return nil
}

func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

// MultiSink writes every record to all sinks concurrently, each bounded by
// its own timeout. One failing sink does not stop the others.
type MultiSink struct {
	sinks   []Sink
	timeout time.Duration
}

func NewMultiSink(timeout time.Duration, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, timeout: timeout}
}

func (m *MultiSink) Name() string { return "multi" }

func (m *MultiSink) Len() int { return len(m.sinks) }

func (m *MultiSink) Write(ctx context.Context, rec Record) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, sink := range m.sinks {
		sink := sink
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			if err := sink.Write(sctx, rec); err != nil {
				metrics.RecordExportFailure(sink.Name())
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
