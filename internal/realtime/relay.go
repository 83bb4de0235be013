package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lirancohen/workhub/internal/config"
)

// NewRedisClient connects to cfg.URL and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisRelay fans broadcasts out to every instance over a pub/sub channel.
// A single channel keeps messages from one publisher in order.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     zerolog.Logger
}

// NewRedisRelay returns a relay delivering received messages into hub.
func NewRedisRelay(rdb *redis.Client, channel string, hub *Hub, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		log:     logger.With().Str("component", "relay").Str("channel", channel).Logger(),
	}
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

// Run subscribes to the channel and delivers messages locally until ctx is
// cancelled. The hub publishes through the relay only between a confirmed
// subscription and the return of Run; outside that window it delivers
// locally.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	// Also covers a relay installed by hand before Run.
	defer func() {
		r.hub.clearRelay(r)
		r.log.Info().Msg("relay detached, delivering locally")
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.hub.SetRelay(r)
	r.log.Info().Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var msg RelayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.log.Warn().Err(err).Msg("dropping undecodable relay message")
		return
	}
	if err := r.hub.DeliverRelayed(msg); err != nil {
		r.log.Warn().Err(err).Msg("dropping relay message")
	}
}
