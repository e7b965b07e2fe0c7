package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/meshsock/presence/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus relays announcements between workers via Redis pub/sub, one Redis
// channel per announcement kind under a common prefix. Redis delivers
// published messages back to the publishing connection's subscribers, so the
// origin worker sees its own announcements; the coordinator's echo
// suppression handles that.
type RedisBus struct {
	client *redis.Client
	prefix string
	kinds  []types.EventKind
	logger zerolog.Logger

	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	active  bool
}

// NewRedisBus creates a bus backed by Redis pub/sub.
func NewRedisBus(cfg *RedisConfig, logger zerolog.Logger) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBus{
		client: client,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "redis-bus").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers an announcement kind. Must be called before Start.
func (b *RedisBus) Subscribe(kind types.EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kinds = append(b.kinds, kind)
}

// OnMessage sets the dispatch callback for received announcements.
func (b *RedisBus) OnMessage(fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// Start subscribes to the per-kind channels and begins relaying.
func (b *RedisBus) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return err
	}

	b.mu.RLock()
	channels := make([]string, 0, len(b.kinds))
	for _, k := range b.kinds {
		channels = append(channels, b.prefix+string(k))
	}
	b.mu.RUnlock()

	sub := b.client.Subscribe(b.ctx, channels...)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().Strs("channels", channels).Msg("redis bus started")
	return nil
}

// Publish transmits an announcement on its kind's channel.
func (b *RedisBus) Publish(ann types.Announcement) error {
	data, err := json.Marshal(ann)
	if err != nil {
		return err
	}
	return b.client.Publish(b.ctx, b.prefix+string(ann.Kind), data).Err()
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBus) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bus is connected.
func (b *RedisBus) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

func (b *RedisBus) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch([]byte(msg.Payload))
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RedisBus) dispatch(payload []byte) {
	var ann types.Announcement
	if err := json.Unmarshal(payload, &ann); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode announcement")
		return
	}

	b.mu.RLock()
	fn := b.handler
	b.mu.RUnlock()
	if fn != nil {
		fn(ann)
	}
}
