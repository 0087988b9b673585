// Package events publishes domain events to downstream consumers.
// Delivery is at most once: a lost event never undoes the write that produced it.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/oggyb/muzz-matchmaker/internal/metrics"
)

const (
	ChannelMatchCreated      = "events:match.created"
	ChannelMessageSent       = "events:message.sent"
	ChannelCurationCompleted = "events:curation.completed"
)

type MatchCreated struct {
	MatchID   string    `json:"match_id"`
	User1ID   uint64    `json:"user1_id"`
	User2ID   uint64    `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageSent struct {
	MessageID uint64    `json:"message_id"`
	MatchID   string    `json:"match_id"`
	SenderID  uint64    `json:"sender_id"`
	SentAt    time.Time `json:"sent_at"`
}

type CurationCompleted struct {
	Pairs      int       `json:"pairs"`
	Considered int       `json:"considered"`
	FinishedAt time.Time `json:"finished_at"`
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event any) error
}

// RedisPublisher sends JSON payloads over Redis PUBLISH.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, event any) error {
	if channel == "" {
		return errors.New("empty channel")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a subscription; the caller closes it.
func (p *RedisPublisher) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return p.client.Subscribe(ctx, channels...)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// Recorded is one event captured by RecordingPublisher.
type Recorded struct {
	Channel string
	Event   any
}

// RecordingPublisher keeps every event in memory. Err, when set, is returned
// instead of recording.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Recorded
	Err    error
}

func (p *RecordingPublisher) Publish(_ context.Context, channel string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, Recorded{Channel: channel, Event: event})
	return nil
}

func (p *RecordingPublisher) Events() []Recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Recorded(nil), p.events...)
}

// On returns the events published on channel.
func (p *RecordingPublisher) On(channel string) []any {
	var out []any
	for _, r := range p.Events() {
		if r.Channel == channel {
			out = append(out, r.Event)
		}
	}
	return out
}

// BestEffort wraps a Publisher and swallows failures after logging them.
type BestEffort struct {
	pub Publisher
	log *slog.Logger
}

func NewBestEffort(pub Publisher, log *slog.Logger) *BestEffort {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &BestEffort{pub: pub, log: log}
}

func (b *BestEffort) Publish(ctx context.Context, channel string, event any) {
	if err := b.pub.Publish(ctx, channel, event); err != nil {
		metrics.PublishFailures.WithLabelValues(channel).Inc()
		b.log.Warn("event publish failed", "channel", channel, "error", err)
	}
}
