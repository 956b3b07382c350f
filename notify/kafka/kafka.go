// Package kafka publishes chronicle maintenance notices to Kafka topics
// using github.com/segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/notify"
)

// DefaultTopic receives notices without a kind-specific route.
const DefaultTopic = "chronicle.maintenance"

var _ chronicle.Notifier = (*Publisher)(nil)

// Publisher publishes maintenance notices to Kafka.
// Messages are keyed by stream ID, or by kind for store-wide notices.
type Publisher struct {
	brokers      []string
	topic        string
	routes       map[string]string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper
	mu           sync.RWMutex
	writers      map[string]*kafkago.Writer
}

// Option configures a Kafka Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithTopic sets the topic for notices without a kind route.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = topic
	}
}

// WithKindTopic routes notices of one kind to their own topic.
func WithKindTopic(kind, topic string) Option {
	return func(p *Publisher) {
		p.routes[kind] = topic
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// WithTransport sets the transport used by the writers.
func WithTransport(transport kafkago.RoundTripper) Option {
	return func(p *Publisher) {
		p.transport = transport
	}
}

// New creates a new Kafka Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		brokers:      []string{"localhost:9092"},
		topic:        DefaultTopic,
		routes:       make(map[string]string),
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
		writers:      make(map[string]*kafkago.Writer),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Notify writes a notice to its topic.
func (p *Publisher) Notify(ctx context.Context, notice chronicle.MaintenanceNotice) error {
	msg, err := message(notice)
	if err != nil {
		return err
	}

	topic := p.topicFor(notice.Kind)
	if topic == "" {
		return fmt.Errorf("kafka: no topic for notice kind %q", notice.Kind)
	}

	if err := p.getWriter(topic).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: failed to write to topic %s: %w", topic, err)
	}
	return nil
}

// Close closes all Kafka writers. All writers are closed even if some fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: failed to close writer for %s: %w", topic, err))
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}

func (p *Publisher) topicFor(kind string) string {
	if topic, ok := p.routes[kind]; ok {
		return topic
	}
	return p.topic
}

// getWriter returns or creates a Kafka writer for the given topic.
func (p *Publisher) getWriter(topic string) *kafkago.Writer {
	p.mu.RLock()
	if w, ok := p.writers[topic]; ok {
		p.mu.RUnlock()
		return w
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               p.balancer,
		BatchTimeout:           p.batchTimeout,
		Transport:              p.transport,
		AllowAutoTopicCreation: true,
	}

	p.writers[topic] = w
	return w
}

// message converts a notice into a Kafka message.
func message(notice chronicle.MaintenanceNotice) (kafkago.Message, error) {
	payload, err := notify.Encode(notice)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("kafka: failed to encode notice: %w", err)
	}

	key := notice.StreamID
	if key == "" {
		key = notice.Kind
	}

	msg := kafkago.Message{
		Key:   []byte(key),
		Value: payload,
	}
	for k, v := range notify.Headers(notice) {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}
