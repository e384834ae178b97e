package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RelayChannel is the redis channel every instance publishes targeted relays on.
const RelayChannel = "campus:relay"

// RemoteEnvelope carries a relay to instances that may hold the target's connection.
type RemoteEnvelope struct {
	Origin   string          `json:"origin"`
	TargetID string          `json:"target"`
	Payload  json.RawMessage `json:"payload"`
}

// Bus fans targeted relays out across instances.
type Bus interface {
	Publish(ctx context.Context, env RemoteEnvelope) error
	// Subscribe blocks, invoking fn for every envelope, until ctx is done.
	Subscribe(ctx context.Context, fn func(RemoteEnvelope)) error
}

type RedisBus struct {
	redis   *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisBus(client *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		redis:   client,
		channel: RelayChannel,
		log:     log.With().Str("component", "bus").Logger(),
	}
}

func (b *RedisBus) Publish(ctx context.Context, env RemoteEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(RemoteEnvelope)) error {
	pubsub := b.redis.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so publishes are not lost at startup.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := decodeRemote(msg.Payload)
			if err != nil {
				b.log.Warn().Err(err).Msg("dropping malformed relay")
				continue
			}
			fn(env)
		}
	}
}

func decodeRemote(payload string) (RemoteEnvelope, error) {
	var env RemoteEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return RemoteEnvelope{}, err
	}
	if env.TargetID == "" || len(env.Payload) == 0 {
		return RemoteEnvelope{}, fmt.Errorf("relay without target or payload")
	}
	return env, nil
}
