package queue

import (
	"testing"

	"github.com/park285/blunderboard/internal/obslog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogMaxDeliveriesAdvisory(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	obslog.Set(zap.New(core))
	t.Cleanup(func() { obslog.Set(nil) })

	advisory := []byte(`{"type":"io.nats.jetstream.advisory.v1.max_deliver","stream":"ANALYSIS","consumer":"analysis-worker","stream_seq":42,"deliveries":5}`)
	logMaxDeliveries(advisory, func(seq uint64) string {
		if seq != 42 {
			t.Fatalf("lookup seq = %d", seq)
		}
		return "batch-1"
	})
	logMaxDeliveries(advisory, nil)
	logMaxDeliveries([]byte("{"), nil)

	dead := logs.FilterMessage("queue_dead_letter").All()
	if len(dead) != 2 {
		t.Fatalf("dead letter entries = %d", len(dead))
	}
	first := dead[0].ContextMap()
	if first["message_id"] != "batch-1" || first["deliveries"] != uint64(5) || first["queue"] != "analysis-worker" {
		t.Fatalf("first entry = %v", first)
	}
	if id := dead[1].ContextMap()["message_id"]; id != "ANALYSIS-42" {
		t.Fatalf("fallback id = %v", id)
	}
	if logs.FilterMessage("queue_advisory_malformed").Len() != 1 {
		t.Fatalf("malformed advisory must be logged")
	}
}
