// Package memory keeps completion notifications in-process. It backs
// `pubsub.backend: memory` for local runs and stands in for Pub/Sub in tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
	// Data is the JSON body a real topic would have received.
	Data []byte
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger logs every publish at info level.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger.Named("memory_publisher")
		}
	}
}

// WithCapacity keeps only the most recent n messages. Zero keeps all.
func WithCapacity(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// Publisher records payloads instead of sending them anywhere.
type Publisher struct {
	logger   *zap.Logger
	capacity int

	mu       sync.RWMutex
	seq      int
	messages []PublishedMessage
	err      error
}

// New returns an empty Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FailWith makes subsequent publishes return err. Nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish encodes payload the way the Pub/Sub publisher does and records it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return "", err
	}
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload, Data: data})
	if p.capacity > 0 && len(p.messages) > p.capacity {
		p.messages = append(p.messages[:0:0], p.messages[len(p.messages)-p.capacity:]...)
	}
	p.mu.Unlock()

	p.logger.Info("published message",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.Int("bytes", len(data)),
	)
	return id, nil
}

// Messages returns a copy of the retained messages, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
