package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event names published after call state transitions.
const (
	NameCallInitiated = "call.initiated"
	NameCallRinging   = "call.ringing"
	NameCallAnswered  = "call.answered"
	NameCallEnded     = "call.ended"
)

// Publisher hands an event to the fan-out layer. Delivery is best effort;
// implementations must not block on subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic, name string, payload any) error
}

// OrganizationTopic scopes call events to one tenant.
func OrganizationTopic(organizationID string) string {
	if organizationID == "" {
		organizationID = "_unassigned"
	}
	return fmt.Sprintf("org:%s:calls", organizationID)
}

type CallInitiated struct {
	CallID         string    `json:"call_id"`
	OrganizationID string    `json:"organization_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	DID            string    `json:"did"`
	InitiatedAt    time.Time `json:"initiated_at"`
}

type CallRinging struct {
	CallID         string `json:"call_id"`
	OrganizationID string `json:"organization_id"`
	ExtensionID    string `json:"extension_id,omitempty"`
}

type CallAnswered struct {
	CallID         string    `json:"call_id"`
	OrganizationID string    `json:"organization_id"`
	ExtensionID    string    `json:"extension_id,omitempty"`
	AnsweredAt     time.Time `json:"answered_at"`
}

type CallEnded struct {
	CallID           string    `json:"call_id"`
	OrganizationID   string    `json:"organization_id"`
	Status           string    `json:"status"`
	EndedAt          time.Time `json:"ended_at"`
	DurationSeconds  int       `json:"duration"`
	DisconnectReason string    `json:"disconnect_reason,omitempty"`
}

// Envelope is the wire shape on the pub/sub channel.
type Envelope struct {
	Event      string          `json:"event"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func newEnvelope(topic, name string, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode %s: %w", name, err)
	}
	return Envelope{Event: name, Topic: topic, OccurredAt: now.UTC(), Payload: raw}, nil
}

// RedisPublisher publishes envelopes on a Redis channel named after the topic.
type RedisPublisher struct {
	rdb redis.UniversalClient
	Now func() time.Time
}

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, Now: time.Now}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, name string, payload any) error {
	env, err := newEnvelope(topic, name, payload, p.Now())
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	// The receiver count is ignored; zero subscribers is not an error.
	if err := p.rdb.Publish(ctx, topic, b).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", name, err)
	}
	return nil
}

// MemoryPublisher keeps envelopes in memory for tests and local runs.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Envelope
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(_ context.Context, topic, name string, payload any) error {
	env, err := newEnvelope(topic, name, payload, time.Now())
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *MemoryPublisher) Events() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns just the event names, in publish order.
func (p *MemoryPublisher) Names() []string {
	evs := p.Events()
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Event)
	}
	return out
}
