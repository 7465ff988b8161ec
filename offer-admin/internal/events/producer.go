// Package events publishes promotion transitions and cache invalidations to
// Kafka. Storefront caches and notification workers consume the topics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers []string

	// MaxAttempts is how many times a write is tried. Defaults to 3.
	MaxAttempts int

	// WriteTimeout bounds each attempt. Defaults to 5s.
	WriteTimeout time.Duration

	// Balancer picks the partition; defaults to key hashing so messages
	// for one store stay ordered.
	Balancer kafka.Balancer
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes to any topic; the topic is chosen per message.
type Producer struct {
	writer       messageWriter
	maxAttempts  int
	writeTimeout time.Duration
	sleep        func(time.Duration)
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     cfg.Balancer,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(w, cfg), nil
}

func newProducer(w messageWriter, cfg ProducerConfig) *Producer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Producer{writer: w, maxAttempts: cfg.MaxAttempts, writeTimeout: cfg.WriteTimeout, sleep: time.Sleep}
}

// Produce writes one message to topic, retrying with capped exponential
// backoff.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg := kafka.Message{Topic: topic, Key: key, Value: value, Time: time.Now().UTC()}
		attemptCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		err := p.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == p.maxAttempts {
			break
		}
		p.sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce to %s failed after %d attempts: %w", topic, p.maxAttempts, lastErr)
}

func (p *Producer) ProduceJSON(ctx context.Context, topic string, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return p.Produce(ctx, topic, key, b)
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
