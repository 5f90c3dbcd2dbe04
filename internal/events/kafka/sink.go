// Package kafka publishes ledger events to a Kafka topic, one record per
// event keyed by aggregate id so a proof's or credential's events stay ordered.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"credrep/internal/events"
)

// Config selects brokers and topic. Partitions and ReplicationFactor only
// matter when the topic is created.
type Config struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	ProduceTimeout    time.Duration
}

type Sink struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
}

// record is the wire form of an event.
type record struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	AggregateID string            `json:"aggregate_id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

func NewSink(cfg Config) (*Sink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	timeout := cfg.ProduceTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{client: client, topic: cfg.Topic, timeout: timeout}, nil
}

// EnsureTopic creates the topic if the cluster does not have it yet.
func (s *Sink) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", s.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces the batch synchronously and returns the first failure.
func (s *Sink) Publish(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(batch))
	for _, e := range batch {
		value, err := Encode(e)
		if err != nil {
			return err
		}
		records = append(records, &kgo.Record{
			Key:   []byte(e.AggregateID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		})
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce ledger events: %w", err)
	}
	return nil
}

func (s *Sink) Close() {
	s.client.Close()
}

// Encode renders an event as the JSON value of a Kafka record.
func Encode(e events.Event) ([]byte, error) {
	return json.Marshal(record{
		ID:          e.ID.String(),
		Type:        string(e.Type),
		AggregateID: e.AggregateID,
		Attributes:  e.Attributes,
		OccurredAt:  e.OccurredAt.UTC(),
	})
}

// Decode is the inverse of Encode.
func Decode(b []byte) (events.Event, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return events.Event{}, err
	}
	e := events.Event{
		Type:        events.Type(r.Type),
		AggregateID: r.AggregateID,
		Attributes:  r.Attributes,
		OccurredAt:  r.OccurredAt,
	}
	if err := e.ID.UnmarshalText([]byte(r.ID)); err != nil {
		return events.Event{}, fmt.Errorf("event id: %w", err)
	}
	return e, nil
}
