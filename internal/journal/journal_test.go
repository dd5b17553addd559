package journal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-guard/internal/bucketing"
	"storefront-guard/internal/encryption"
	"storefront-guard/internal/models"
)

func testMeta() models.RiskMetadata {
	lat, lon := 18.5204, 73.8567
	return models.RiskMetadata{
		DeviceFingerprint: "fp",
		SessionID:         "sess_1_abc",
		GeoLocation:       models.GeoLocation{Latitude: &lat, Longitude: &lon, Country: "India"},
		UserAgent:         "test-agent",
		Timezone:          "Asia/Kolkata",
	}
}

func TestNewEventCopiesPayload(t *testing.T) {
	payload := map[string]interface{}{"orderId": "ORD-1"}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("IST", 5*3600+1800))

	ev := NewEvent("refund_requested", payload, testMeta(), at)
	payload["orderId"] = "changed"

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "ORD-1", ev.Payload["orderId"])
	assert.Equal(t, time.UTC, ev.CapturedAt.Location())
	assert.True(t, ev.CapturedAt.Equal(at))
}

func TestMemorySinkAppendOnly(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	for _, typ := range []string{"otp_sent", "otp_failed", "otp_verified", "otp_sent"} {
		require.NoError(t, sink.Append(ctx, NewEvent(typ, nil, testMeta(), time.Now())))
	}

	assert.Equal(t, 4, sink.Len())
	events := sink.Events()
	events[0].Type = "mutated"
	assert.Equal(t, "otp_sent", sink.Events()[0].Type)

	recent := sink.Recent(2, "")
	require.Len(t, recent, 2)
	assert.Equal(t, "otp_verified", recent[0].Type)
	assert.Equal(t, "otp_sent", recent[1].Type)

	assert.Len(t, sink.Recent(0, "otp_sent"), 2)
}

func TestBoundedMemorySinkDropsOldest(t *testing.T) {
	sink := NewBoundedMemorySink(2)
	ctx := context.Background()
	for _, typ := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Append(ctx, NewEvent(typ, nil, testMeta(), time.Now())))
	}

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Type)
	assert.Equal(t, "c", events[1].Type)

	unbounded := NewBoundedMemorySink(0)
	for i := 0; i < 50; i++ {
		require.NoError(t, unbounded.Append(ctx, NewEvent("x", nil, testMeta(), time.Now())))
	}
	assert.Equal(t, 50, unbounded.Len())
}

func TestMultiSinkFansOutAndJoinsErrors(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	boom := errors.New("boom")
	multi := NewMultiSink(zap.NewNop()).
		Add("a", a).
		Add("broken", SinkFunc(func(context.Context, models.TransactionEvent) error { return boom })).
		Add("b", b)

	err := multi.Append(context.Background(), NewEvent("x", nil, testMeta(), time.Now()))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []string{"a", "broken", "b"}, multi.Names())
}

type fakeProducer struct {
	key     string
	value   []byte
	headers map[string]string
}

func (f *fakeProducer) ProduceMessage(_ context.Context, key, value []byte, headers map[string]string) error {
	f.key, f.value, f.headers = string(key), value, headers
	return nil
}

func TestKafkaSinkKeysBySession(t *testing.T) {
	p := &fakeProducer{}
	ev := NewEvent("otp_sent", map[string]interface{}{"a": 1}, testMeta(), time.Now())

	require.NoError(t, NewKafkaSink(p).Append(context.Background(), ev))
	assert.Equal(t, "sess_1_abc", p.key)
	assert.Equal(t, "otp_sent", p.headers["event_type"])

	var decoded models.TransactionEvent
	require.NoError(t, json.Unmarshal(p.value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
}

type fakeExecer struct {
	mu      sync.Mutex
	queries []string
	args    [][]interface{}
}

func (f *fakeExecer) Exec(_ context.Context, query string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil
}

func TestClickHouseSink(t *testing.T) {
	_, err := NewClickHouseSink(&fakeExecer{}, "events; DROP TABLE x", bucketing.NewManager(8))
	assert.Error(t, err)

	conn := &fakeExecer{}
	sink, err := NewClickHouseSink(conn, "analytics.risk_events", bucketing.NewManager(8))
	require.NoError(t, err)
	require.NoError(t, sink.EnsureTable(context.Background()))

	at := time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC)
	ev := NewEvent("refund_requested", map[string]interface{}{"orderId": "ORD-1"}, testMeta(), at)
	require.NoError(t, sink.Append(context.Background(), ev))

	require.Len(t, conn.queries, 2)
	assert.True(t, strings.HasPrefix(conn.queries[0], "CREATE TABLE IF NOT EXISTS analytics.risk_events"))
	assert.Contains(t, conn.queries[1], "INSERT INTO analytics.risk_events")

	args := conn.args[1]
	require.Len(t, args, 14)
	assert.Less(t, args[0].(uint16), uint16(8))
	assert.Equal(t, "2024-05-06", args[1])
	assert.Equal(t, ev.ID, args[3])
	assert.JSONEq(t, `{"orderId":"ORD-1"}`, args[13].(string))
}

type fakeIndexer struct {
	index, id string
}

func (f *fakeIndexer) IndexDocument(_ context.Context, index, id string, _ interface{}) error {
	f.index, f.id = index, id
	return nil
}

func TestElasticsearchSink(t *testing.T) {
	idx := &fakeIndexer{}
	ev := NewEvent("otp_verified", nil, testMeta(), time.Now())
	require.NoError(t, NewElasticsearchSink(idx, "risk-events").Append(context.Background(), ev))
	assert.Equal(t, "risk-events", idx.index)
	assert.Equal(t, ev.ID, idx.id)
}

func TestSealingSinkEncryptsPhones(t *testing.T) {
	mem := NewMemorySink()
	enc := encryption.NewLocalManager("secret", 0, zap.NewNop())
	sink := NewSealingSink(mem, enc)

	payload := map[string]interface{}{"mobile": "+919876543210", "orderId": "ORD-1"}
	ev := NewEvent("otp_sent", payload, testMeta(), time.Now())
	require.NoError(t, sink.Append(context.Background(), ev))

	assert.Equal(t, "+919876543210", ev.Payload["mobile"], "caller's event untouched")

	stored := mem.Events()[0]
	sealed, ok := stored.Payload["mobile"].(*encryption.EncryptedData)
	require.True(t, ok)
	assert.Equal(t, "ORD-1", stored.Payload["orderId"])

	plain, err := enc.Open(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", plain)
}
