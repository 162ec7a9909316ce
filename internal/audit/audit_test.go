package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auth-security/internal/metrics"
	"auth-security/internal/models"
)

func suspiciousEvent() *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:           "ev-1",
		UserID:       "42",
		EventType:    models.EventTypeLogin,
		IPAddress:    "1.2**.***.4",
		DeviceInfo:   "Mozilla/5.0",
		CreatedAt:    time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Metadata:     map[string]string{models.MetaCountry: "UKR", models.MetaCity: "Kyiv"},
		BiometryUsed: false,
		IsSuspicious: true,
	}
}

func TestFormat(t *testing.T) {
	line := Format(DefaultHeader(), suspiciousEvent())

	assert.Equal(t,
		"CEF:0|YourCompany|modul26|1.0|1001|LOGIN|8|userId=42 eventType=LOGIN ip=1.2**.***.4 "+
			"device_info=Mozilla/5.0 biometry=false isSuspicious=true country=UKR city=Kyiv",
		line)
}

func TestFormat_OmitsAbsentDeviceInfo(t *testing.T) {
	e := suspiciousEvent()
	e.DeviceInfo = ""

	line := Format(DefaultHeader(), e)
	assert.NotContains(t, line, "device_info=")
	assert.Contains(t, line, "ip=1.2**.***.4 biometry=false")
}

func TestFormat_Escaping(t *testing.T) {
	e := suspiciousEvent()
	e.EventType = "CUSTOM|TYPE"
	e.DeviceInfo = "a=b\\c\nd"

	line := Format(DefaultHeader(), e)
	assert.Contains(t, line, `|CUSTOM\|TYPE|8|`)
	assert.Contains(t, line, `device_info=a\=b\\c\nd `)
	assert.Equal(t, 1, len(strings.Split(line, "\n")))
}

type recordingSink struct {
	mu      sync.Mutex
	records []Record
	block   chan struct{}
	err     error
	closed  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(ctx context.Context, rec Record) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestExporter_WritesSuspiciousOnly(t *testing.T) {
	sink := &recordingSink{}
	exp := NewExporter(DefaultHeader(), sink, DefaultExporterConfig(), zap.NewNop())
	require.NoError(t, exp.Start())

	assert.True(t, exp.Export(suspiciousEvent()))

	quiet := suspiciousEvent()
	quiet.IsSuspicious = false
	assert.False(t, exp.Export(quiet))

	require.NoError(t, exp.Stop(context.Background()))
	require.Equal(t, 1, sink.count())
	assert.True(t, strings.HasPrefix(sink.records[0].Line, "CEF:0|"))
	assert.True(t, sink.closed)
}

func TestExporter_FullQueueDropsWithoutBlocking(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	exp := NewExporter(DefaultHeader(), sink, ExporterConfig{BufferSize: 1, Workers: 1, SinkTimeout: time.Second}, zap.NewNop())
	require.NoError(t, exp.Start())

	done := make(chan int)
	go func() {
		queued := 0
		for i := 0; i < 20; i++ {
			if exp.Export(suspiciousEvent()) {
				queued++
			}
		}
		done <- queued
	}()

	select {
	case queued := <-done:
		assert.Less(t, queued, 20)
	case <-time.After(2 * time.Second):
		t.Fatal("Export blocked on a slow sink")
	}

	close(sink.block)
	require.NoError(t, exp.Stop(context.Background()))
}

func TestExporter_SinkFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	exp := NewExporter(DefaultHeader(), sink, DefaultExporterConfig(), zap.NewNop())
	require.NoError(t, exp.Start())

	assert.True(t, exp.Export(suspiciousEvent()))
	require.NoError(t, exp.Stop(context.Background()))
	assert.Equal(t, 1, sink.count())
}

func TestExporter_ExportAfterStop(t *testing.T) {
	exp := NewExporter(DefaultHeader(), &recordingSink{}, DefaultExporterConfig(), zap.NewNop())
	require.NoError(t, exp.Start())
	require.NoError(t, exp.Stop(context.Background()))

	assert.False(t, exp.Export(suspiciousEvent()))
	assert.NoError(t, exp.Stop(context.Background()))
	assert.ErrorIs(t, exp.Start(), ErrExporterStopped)
}

func TestMultiSink_OneFailureDoesNotStopOthers(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("unreachable")}
	multi := NewMultiSink(time.Second, bad, good)

	err := multi.Write(context.Background(), Record{Line: "x", Event: suspiciousEvent()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording: unreachable")
	assert.Equal(t, 1, good.count())
	assert.Equal(t, 2, multi.Len())
}

type namedSink struct {
	*recordingSink
	name string
}

func (s namedSink) Name() string { return s.name }

func TestExporter_FanOutFailureCountedOncePerSink(t *testing.T) {
	failing := namedSink{recordingSink: &recordingSink{err: errors.New("broker down")}, name: "flaky"}
	multi := NewMultiSink(time.Second, failing, &recordingSink{})

	flakyBefore := testutil.ToFloat64(metrics.AuditExportFailuresTotal.WithLabelValues("flaky"))
	multiBefore := testutil.ToFloat64(metrics.AuditExportFailuresTotal.WithLabelValues(multi.Name()))

	exp := NewExporter(DefaultHeader(), multi, DefaultExporterConfig(), zap.NewNop())
	require.NoError(t, exp.Start())
	assert.True(t, exp.Export(suspiciousEvent()))
	require.NoError(t, exp.Stop(context.Background()))

	assert.Equal(t, flakyBefore+1, testutil.ToFloat64(metrics.AuditExportFailuresTotal.WithLabelValues("flaky")))
	assert.Equal(t, multiBefore, testutil.ToFloat64(metrics.AuditExportFailuresTotal.WithLabelValues(multi.Name())))
}

func TestExporter_SingleSinkFailureCounted(t *testing.T) {
	sink := namedSink{recordingSink: &recordingSink{err: errors.New("disk full")}, name: "solo"}
	before := testutil.ToFloat64(metrics.AuditExportFailuresTotal.WithLabelValues("solo"))

	exp := NewExporter(DefaultHeader(), sink, DefaultExporterConfig(), zap.NewNop())
	require.NoError(t, exp.Start())
	assert.True(t, exp.Export(suspiciousEvent()))
	require.NoError(t, exp.Stop(context.Background()))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditExportFailuresTotal.WithLabelValues("solo")))
}

func TestFileSink_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cef.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), Record{Line: "first"}))
	require.NoError(t, sink.Write(context.Background(), Record{Line: "second"}))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	args := m.Called(ctx, topic, key, value, headers)
	return args.Error(0)
}

func TestKafkaSink_KeysByUser(t *testing.T) {
	producer := &mockProducer{}
	rec := Record{Line: Format(DefaultHeader(), suspiciousEvent()), Event: suspiciousEvent()}
	producer.On("ProduceMessage", mock.Anything, "audit", []byte("42"), []byte(rec.Line),
		map[string]string{"event_type": "LOGIN", "format": "cef"}).Return(nil)

	require.NoError(t, NewKafkaSink(producer, "audit").Write(context.Background(), rec))
	producer.AssertExpectations(t)
}

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	return m.Called(ctx, index, id, document).Error(0)
}

func TestElasticsearchSink_UsesEventID(t *testing.T) {
	indexer := &mockIndexer{}
	indexer.On("IndexDocument", mock.Anything, "security-audit", "ev-1", mock.AnythingOfType("audit.auditDocument")).
		Return(errors.New("cluster red"))

	err := NewElasticsearchSink(indexer, "security-audit").Write(context.Background(), Record{Line: "x", Event: suspiciousEvent()})
	require.Error(t, err)
	indexer.AssertExpectations(t)
}

type mockExecer struct {
	mock.Mock
}

func (m *mockExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	return m.Called(ctx, query, args).Error(0)
}

func TestClickHouseSink_InsertsRow(t *testing.T) {
	conn := &mockExecer{}
	e := suspiciousEvent()
	conn.On("Exec", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "INSERT INTO audit_records")
	}), []interface{}{e.ID, e.UserID, e.EventType, e.IPAddress, "UKR", "Kyiv", false, e.CreatedAt, "line"}).Return(nil)

	require.NoError(t, NewClickHouseSink(conn, "audit_records").Write(context.Background(), Record{Line: "line", Event: e}))
	conn.AssertExpectations(t)
}
