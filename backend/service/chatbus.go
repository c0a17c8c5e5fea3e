package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tenantly/portal/backend/model"
)

// ChatBus fans stored messages out to live subscribers of the receiver.
type ChatBus interface {
	Publish(ctx context.Context, msg model.Message) error
	// Subscribe returns a channel of messages addressed to userID and a
	// function that unsubscribes and closes it.
	Subscribe(userID uint) (<-chan model.Message, func())
}

const subscriberBuffer = 16

// LocalBus delivers messages to subscribers within this process.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[uint]map[chan model.Message]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[uint]map[chan model.Message]struct{})}
}

// Publish never blocks: a subscriber whose buffer is full misses the message
// and catches up by polling the conversation.
func (b *LocalBus) Publish(_ context.Context, msg model.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[msg.ReceiverID] {
		select {
		case ch <- msg:
		default:
			slog.Warn("chat subscriber buffer full, dropping live event", "user_id", msg.ReceiverID, "message_id", msg.ID)
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(userID uint) (<-chan model.Message, func()) {
	ch := make(chan model.Message, subscriberBuffer)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan model.Message]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], ch)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// RedisBus distributes messages across instances over Redis Pub/Sub and
// delivers them locally through a LocalBus.
type RedisBus struct {
	client  *redis.Client
	channel string
	local   *LocalBus
}

func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channel,
		local:   NewLocalBus(),
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish chat event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(userID uint) (<-chan model.Message, func()) {
	return b.local.Subscribe(userID)
}

// Run relays events from Redis to local subscribers until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	slog.Info("subscribed to chat events", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				slog.Warn("chat event channel closed")
				return nil
			}
			var msg model.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				slog.Warn("failed to unmarshal chat event", "error", err)
				continue
			}
			b.local.Publish(ctx, msg)
		}
	}
}
