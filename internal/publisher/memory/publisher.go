// Package memory contains an in-memory publisher used in development mode
// and tests when no broker is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one published payload as a broker would see it.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Publisher keeps published messages in memory, grouped by topic.
type Publisher struct {
	mu       sync.RWMutex
	seq      int
	messages []Message
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes the payload the same way the Pub/Sub publisher does and
// records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{Topic: topic, Data: data}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		msg.Attributes = a.Attributes()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg.ID = fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns the messages published to topic, or all messages when
// topic is empty.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, 0, len(p.messages))
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
