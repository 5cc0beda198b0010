package discovery

import (
	"context"
	"log/slog"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "skillmesh:skills"

// RedisBus carries announcements over Redis pub/sub so every agent replica
// sees every extension.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBus connects to the Redis server at url, e.g.
// redis://redis.default.svc:6379/0.
func NewRedisBus(url, channel string, logger *slog.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid redis url", err)
	}
	return NewRedisBusWithClient(redis.NewClient(opt), channel, logger), nil
}

// NewRedisBusWithClient wraps an existing client.
func NewRedisBusWithClient(client *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		logger:  telemetry.Component(logger, "discovery"),
	}
}

// Channel returns the pub/sub channel name.
func (b *RedisBus) Channel() string { return b.channel }

// Publish sends a as JSON on the channel.
func (b *RedisBus) Publish(ctx context.Context, a Announcement) error {
	payload, err := encode(a)
	if err != nil {
		return errors.New(errors.CodeInternal, "encode announcement", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return errors.New(errors.CodeConnection, "redis publish", err).WithContext("channel", b.channel)
	}
	return nil
}

// Subscribe confirms the subscription before returning so no message
// published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Announcement, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.New(errors.CodeConnection, "redis subscribe", err).WithContext("channel", b.channel)
	}

	out := make(chan Announcement, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				a, err := decode([]byte(msg.Payload))
				if err != nil {
					b.logger.Warn("discovery.redis.decode.failed", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
