package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/rendis/mapharvest/internal/model"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisherWithWriter(w, "run-123")

	b := model.Business{Name: "Shop A", Address: "Calle A 1", Email: "info@shop-a.test"}
	if err := p.Publish(context.Background(), b); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "run-123" {
		t.Fatalf("key = %q", w.msgs[0].Key)
	}
	var got Record
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if got.RunID != "run-123" || got.Business.Name != "Shop A" || got.Business.Email != b.Email {
		t.Fatalf("payload = %+v", got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close() = %v, closed=%v", err, w.closed)
	}
}

func TestPublishError(t *testing.T) {
	p := NewKafkaPublisherWithWriter(&recordingWriter{err: errors.New("broker down")}, "run-1")
	if err := p.Publish(context.Background(), model.Business{Name: "x"}); err == nil {
		t.Fatal("Publish() succeeded with a failing writer")
	}
}
