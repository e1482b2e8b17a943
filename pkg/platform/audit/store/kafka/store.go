// Package kafka publishes audit events to a Kafka topic with franz-go. Reads
// are served from a local mirror since the topic is write-only from the kiosk.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "irisvault/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the store needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store appends events to Kafka and mirrors them into a local store.
type Store struct {
	producer Producer
	topic    string
	mirror   audit.Store
	logger   *slog.Logger
}

type Option func(*Store)

// WithMirror sets the store that serves ListByAccount.
func WithMirror(mirror audit.Store) Option {
	return func(s *Store) {
		s.mirror = mirror
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(producer Producer, topic string, opts ...Option) (*Store, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	s := &Store{
		producer: producer,
		topic:    topic,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewClient builds a franz-go client for the given seed brokers.
func NewClient(brokers []string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32) error {
	admin := kadm.NewClient(client)
	topics, err := admin.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	if topics.Has(topic) {
		return nil
	}
	resp, err := admin.CreateTopic(ctx, partitions, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create kafka topic: %w", err)
	}
	if resp.Err != nil {
		return fmt.Errorf("create kafka topic %s: %w", topic, resp.Err)
	}
	return nil
}

// payload is the JSON record value. Field names are stable for consumers.
type payload struct {
	ID            string         `json:"id"`
	Category      string         `json:"category"`
	Timestamp     string         `json:"timestamp"`
	Action        string         `json:"action"`
	AccountNumber string         `json:"account_number,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Success       bool           `json:"success"`
	Reason        string         `json:"reason,omitempty"`
	DeviceInfo    string         `json:"device_info,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	ClientIP      string         `json:"client_ip,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Encode renders an event as a Kafka record keyed by account number so all
// events for an account land on one partition.
func Encode(topic string, event audit.Event) (*kgo.Record, error) {
	category := event.Category
	if category == "" {
		category = event.Action.Category()
	}
	value, err := json.Marshal(payload{
		ID:            event.ID,
		Category:      string(category),
		Timestamp:     event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:        string(event.Action),
		AccountNumber: event.AccountNumber,
		UserID:        event.UserID,
		Success:       event.Success,
		Reason:        event.Reason,
		DeviceInfo:    event.DeviceInfo,
		RequestID:     event.RequestID,
		ClientIP:      event.ClientIP,
		Details:       event.Details,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(event.AccountNumber),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(category)},
			{Key: "action", Value: []byte(event.Action)},
		},
	}, nil
}

// Decode parses a record produced by Encode.
func Decode(record *kgo.Record) (audit.Event, error) {
	var p payload
	if err := json.Unmarshal(record.Value, &p); err != nil {
		return audit.Event{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return audit.Event{
		ID:            p.ID,
		Category:      audit.EventCategory(p.Category),
		Timestamp:     ts,
		Action:        audit.AuditEvent(p.Action),
		AccountNumber: p.AccountNumber,
		UserID:        p.UserID,
		Success:       p.Success,
		Reason:        p.Reason,
		DeviceInfo:    p.DeviceInfo,
		RequestID:     p.RequestID,
		ClientIP:      p.ClientIP,
		Details:       p.Details,
	}, nil
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	record, err := Encode(s.topic, event)
	if err != nil {
		return err
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Append(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to mirror audit event", "error", err)
		}
	}
	return nil
}

func (s *Store) ListByAccount(ctx context.Context, accountNumber string) ([]audit.Event, error) {
	if s.mirror == nil {
		return nil, nil
	}
	return s.mirror.ListByAccount(ctx, accountNumber)
}
