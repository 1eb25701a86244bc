package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
)

// DefaultChannel is the redis pub/sub channel for proactive messages.
const DefaultChannel = "companion:proactive"

// RedisSubscriber relays proactive messages through a redis channel.
// Publish sends to the channel; Run receives from it and hands every
// message to the local hub, so all server processes reach their clients.
type RedisSubscriber struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	origin  string
	log     *logging.Logger
}

// NewRedisSubscriber creates a relay for hub over rdb.
func NewRedisSubscriber(rdb *redis.Client, channel string, hub *Hub) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		origin:  uuid.NewString(),
		log:     logging.Component("notifications").WithField("channel", channel),
	}
}

// Publish sends m to the channel. If redis is unreachable the message is
// delivered to local clients directly and the error is returned.
func (r *RedisSubscriber) Publish(ctx context.Context, m *core.ProactiveMessage) error {
	data, err := json.Marshal(envelope{Origin: r.origin, Message: m})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.hub.Deliver(m)
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and delivers until ctx is done.
func (r *RedisSubscriber) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.log.Info("relaying proactive messages")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisSubscriber) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Message == nil {
		r.log.WithField("error", err).Warn("dropping malformed relay message")
		return
	}
	r.hub.Deliver(env.Message)
}
