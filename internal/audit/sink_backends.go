package audit

import (
	"context"
	"fmt"
	"time"
)

// Producer is satisfied by client.KafkaProducer
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes the CEF line keyed by user id, so one user's records
// stay ordered within a partition.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, rec Record) error {
	headers := map[string]string{
		"event_type": rec.Event.EventType,
		"format":     "cef",
	}
	if err := s.producer.ProduceMessage(ctx, s.topic, []byte(rec.Event.UserID), []byte(rec.Line), headers); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}
	return nil
}

// Close leaves the shared producer to the factory
func (s *KafkaSink) Close() error { return nil }

// Indexer is satisfied by client.ESClient
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

type auditDocument struct {
	EventID      string            `json:"event_id"`
	UserID       string            `json:"user_id"`
	EventType    string            `json:"event_type"`
	IPAddress    string            `json:"ip_address"`
	DeviceInfo   string            `json:"device_info,omitempty"`
	BiometryUsed bool              `json:"biometry_used"`
	Metadata     map[string]string `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
	CEF          string            `json:"cef"`
}

// ElasticsearchSink indexes one document per record, using the event id as
// document id so retries do not duplicate.
type ElasticsearchSink struct {
	indexer Indexer
	index   string
}

func NewElasticsearchSink(indexer Indexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, rec Record) error {
	e := rec.Event
	doc := auditDocument{
		EventID:      e.ID,
		UserID:       e.UserID,
		EventType:    e.EventType,
		IPAddress:    e.IPAddress,
		DeviceInfo:   e.DeviceInfo,
		BiometryUsed: e.BiometryUsed,
		Metadata:     e.Metadata,
		CreatedAt:    e.CreatedAt,
		CEF:          rec.Line,
	}
	if err := s.indexer.IndexDocument(ctx, s.index, e.ID, doc); err != nil {
		return fmt.Errorf("failed to index audit record: %w", err)
	}
	return nil
}

func (s *ElasticsearchSink) Close() error { return nil }

// Execer is satisfied by client.ClickHouseClient
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// ClickHouseSink inserts one analytics row per record
type ClickHouseSink struct {
	conn   Execer
	insert string
}

func NewClickHouseSink(conn Execer, table string) *ClickHouseSink {
	return &ClickHouseSink{
		conn: conn,
		insert: fmt.Sprintf(`INSERT INTO %s
			(event_id, user_id, event_type, ip_address, country, city, biometry_used, created_at, cef)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
	}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, rec Record) error {
	e := rec.Event
	err := s.conn.Exec(ctx, s.insert,
		e.ID, e.UserID, e.EventType, e.IPAddress, e.Country(), e.City(), e.BiometryUsed, e.CreatedAt, rec.Line)
	if err != nil {
		return fmt.Errorf("failed to insert audit row: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error { return nil }
