package tax_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tax-engine/tax"
	"github.com/warp/tax-engine/tax/store"
	"github.com/warp/tax-engine/tax/storetest"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordingTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	rec := tracetest.NewSpanRecorder()
	return rec, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
}

func attrs(kvs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestEngine_RecordsSpan(t *testing.T) {
	rec, tp := recordingTracer()
	engine := newEngine(t,
		[]tax.TransactionRecord{sale("s1", "2024-02-22T10:00:00Z", "123", item("item1", "1000", "0.2"))},
		nil)
	engine.Tracer = tp.Tracer("test")

	_, err := engine.TaxPosition(context.Background(), "2024-02-22T12:00:00Z")
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tax.Resolve", spans[0].Name())
	a := attrs(spans[0].Attributes())
	assert.Equal(t, "2024-02-22T12:00:00.000000000Z", a["tax.as_of"])
	assert.Equal(t, "200", a["tax.position"])
	assert.Equal(t, "1", a["tax.items"])
}

func TestEngine_SpanMarksRepositoryError(t *testing.T) {
	rec, tp := recordingTracer()
	failing := &storetest.Failing{Store: store.NewMemory(), Err: errors.New("boom"), FailAmendments: true}
	engine := &tax.PositionEngine{Transactions: failing, Amendments: failing, Tracer: tp.Tracer("test")}

	_, err := engine.TaxPosition(context.Background(), "2024-02-22")
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestEngine_InvalidDateStartsNoSpan(t *testing.T) {
	rec, tp := recordingTracer()
	engine := &tax.PositionEngine{Transactions: store.NewMemory(), Amendments: store.NewMemory(), Tracer: tp.Tracer("test")}

	_, err := engine.TaxPosition(context.Background(), "nope")

	require.Error(t, err)
	assert.Empty(t, rec.Ended())
}

func TestEngine_LogsSkippedRecords(t *testing.T) {
	var buf bytes.Buffer
	engine := newEngine(t, []tax.TransactionRecord{
		{ID: "bad", EventType: tax.EventTaxPayment, Date: at("2024-01-01")},
	}, nil)
	engine.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := engine.TaxPosition(context.Background(), "2024-02-01")

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "skipped malformed event")
	assert.Contains(t, buf.String(), "id=bad")
	assert.Contains(t, buf.String(), "skipped=1")
}
