// Package sink publishes accepted records to downstream consumers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rendis/mapharvest/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is the published envelope of one business.
type Record struct {
	RunID    string         `json:"run_id"`
	Business model.Business `json:"business"`
	At       time.Time      `json:"at"`
}

// KafkaPublisher writes each accepted record to a topic, keyed by run.
type KafkaPublisher struct {
	writer messageWriter
	runID  string
}

// NewKafkaPublisher creates a publisher for a comma-separated broker list.
func NewKafkaPublisher(brokers, topic, runID string) *KafkaPublisher {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(addrs...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		runID: runID,
	}
}

// NewKafkaPublisherWithWriter builds a publisher over a custom writer.
func NewKafkaPublisherWithWriter(writer messageWriter, runID string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, runID: runID}
}

func (p *KafkaPublisher) Publish(ctx context.Context, b model.Business) error {
	payload, err := json.Marshal(Record{RunID: p.runID, Business: b, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(p.runID),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %q: %w", b.Name, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
