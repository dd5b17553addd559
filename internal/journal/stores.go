package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"storefront-guard/internal/bucketing"
	"storefront-guard/internal/metrics"
	"storefront-guard/internal/models"
)

// Producer is satisfied by client.KafkaProducer.
type Producer interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes events as JSON keyed by session id, so one session's
// events stay ordered within a partition.
type KafkaSink struct {
	producer Producer
}

func NewKafkaSink(producer Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (k *KafkaSink) Append(ctx context.Context, event models.TransactionEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		metrics.JournalAppends.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("failed to encode event: %w", err)
	}

	key := event.Metadata.SessionID
	if key == "" {
		key = event.ID
	}
	err = k.producer.ProduceMessage(ctx, []byte(key), value, map[string]string{
		"event_type": event.Type,
		"event_id":   event.ID,
	})
	metrics.JournalAppends.WithLabelValues("kafka", metrics.Result(err)).Inc()
	return err
}

// Execer is satisfied by client.ClickHouseClient.
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSink writes one analytic row per event.
type ClickHouseSink struct {
	conn    Execer
	table   string
	buckets *bucketing.Manager
}

func NewClickHouseSink(conn Execer, table string, buckets *bucketing.Manager) (*ClickHouseSink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return &ClickHouseSink{conn: conn, table: table, buckets: buckets}, nil
}

// EnsureTable creates the events table when it does not exist yet.
func (c *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + c.table + ` (
		event_bucket UInt16,
		event_date Date,
		event_time DateTime64(3, 'UTC'),
		event_id String,
		event_type LowCardinality(String),
		session_id String,
		device_fingerprint String,
		user_agent String,
		timezone String,
		latitude Nullable(Float64),
		longitude Nullable(Float64),
		ip_address String,
		country String,
		payload String
	) ENGINE = MergeTree
	PARTITION BY event_date
	ORDER BY (event_bucket, event_type, event_time)`

	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create clickhouse table: %w", err)
	}
	return nil
}

// Row maps an event onto the ClickHouse row.
func (c *ClickHouseSink) Row(event models.TransactionEvent) (models.SecurityEvent, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return models.SecurityEvent{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	meta := event.Metadata
	return models.SecurityEvent{
		EventBucket:       c.buckets.EventBucket(meta.SessionID + event.ID),
		EventDate:         c.buckets.DateBucket(event.CapturedAt),
		EventTime:         event.CapturedAt,
		EventID:           event.ID,
		EventType:         event.Type,
		SessionID:         meta.SessionID,
		DeviceFingerprint: meta.DeviceFingerprint,
		UserAgent:         meta.UserAgent,
		Timezone:          meta.Timezone,
		Latitude:          meta.GeoLocation.Latitude,
		Longitude:         meta.GeoLocation.Longitude,
		IPAddress:         meta.GeoLocation.IP,
		Country:           meta.GeoLocation.Country,
		Payload:           string(payload),
	}, nil
}

func (c *ClickHouseSink) Append(ctx context.Context, event models.TransactionEvent) error {
	row, err := c.Row(event)
	if err != nil {
		metrics.JournalAppends.WithLabelValues("clickhouse", "error").Inc()
		return err
	}

	query := `INSERT INTO ` + c.table + ` (event_bucket, event_date, event_time, event_id, event_type,
		session_id, device_fingerprint, user_agent, timezone, latitude, longitude, ip_address, country, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = c.conn.Exec(ctx, query,
		uint16(row.EventBucket), row.EventDate, row.EventTime, row.EventID, row.EventType,
		row.SessionID, row.DeviceFingerprint, row.UserAgent, row.Timezone,
		row.Latitude, row.Longitude, row.IPAddress, row.Country, row.Payload)
	metrics.JournalAppends.WithLabelValues("clickhouse", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Indexer is satisfied by client.ESClient.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink indexes events by id for ad-hoc search.
type ElasticsearchSink struct {
	indexer Indexer
	index   string
}

func NewElasticsearchSink(indexer Indexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (e *ElasticsearchSink) Append(ctx context.Context, event models.TransactionEvent) error {
	err := e.indexer.IndexDocument(ctx, e.index, event.ID, event)
	metrics.JournalAppends.WithLabelValues("elasticsearch", metrics.Result(err)).Inc()
	return err
}
