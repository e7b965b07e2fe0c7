package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/meshsock/presence/src/types"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// AMQPBus relays announcements between workers through a RabbitMQ fanout
// exchange. Every worker binds its own exclusive auto-delete queue, so each
// published announcement reaches every worker including the publisher.
// Subscribed kinds are filtered on receipt; fanout has no routing.
type AMQPBus struct {
	cfg    *AMQPConfig
	logger zerolog.Logger

	conn    *amqp091.Connection
	channel *amqp091.Channel
	kinds   map[types.EventKind]struct{}
	handler Handler

	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewAMQPBus creates a bus backed by a RabbitMQ fanout exchange.
func NewAMQPBus(cfg *AMQPConfig, logger zerolog.Logger) *AMQPBus {
	return &AMQPBus{
		cfg:    cfg,
		logger: logger.With().Str("component", "amqp-bus").Logger(),
		kinds:  make(map[types.EventKind]struct{}),
		done:   make(chan struct{}),
	}
}

// Subscribe registers an announcement kind. Must be called before Start.
func (b *AMQPBus) Subscribe(kind types.EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kinds[kind] = struct{}{}
}

// OnMessage sets the dispatch callback for received announcements.
func (b *AMQPBus) OnMessage(fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// Start dials the broker, declares the fanout exchange and this worker's
// queue, and begins consuming.
func (b *AMQPBus) Start() error {
	conn, err := amqp091.Dial(b.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(b.cfg.Exchange, "fanout", false, true, false, false, nil); err != nil {
		conn.Close()
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.QueueBind(q.Name, "", b.cfg.Exchange, false, nil); err != nil {
		conn.Close()
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = ch
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(deliveries)

	b.logger.Info().Str("exchange", b.cfg.Exchange).Str("queue", q.Name).Msg("amqp bus started")
	return nil
}

// Publish transmits an announcement through the fanout exchange.
func (b *AMQPBus) Publish(ann types.Announcement) error {
	data, err := json.Marshal(ann)
	if err != nil {
		return err
	}

	b.mu.RLock()
	ch := b.channel
	b.mu.RUnlock()
	if ch == nil {
		return amqp091.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	return ch.PublishWithContext(ctx, b.cfg.Exchange, "", false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
}

// Stop closes the broker connection.
func (b *AMQPBus) Stop() error {
	b.mu.Lock()
	b.active = false
	conn := b.conn
	b.mu.Unlock()

	close(b.done)
	var err error
	if conn != nil {
		err = conn.Close()
	}
	b.wg.Wait()
	return err
}

// Available reports whether the bus is connected.
func (b *AMQPBus) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

func (b *AMQPBus) listen(deliveries <-chan amqp091.Delivery) {
	defer b.wg.Done()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			b.dispatch(d.Body)
		case <-b.done:
			return
		}
	}
}

func (b *AMQPBus) dispatch(payload []byte) {
	var ann types.Announcement
	if err := json.Unmarshal(payload, &ann); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode announcement")
		return
	}

	b.mu.RLock()
	_, subscribed := b.kinds[ann.Kind]
	fn := b.handler
	b.mu.RUnlock()

	if !subscribed {
		b.logger.Debug().Str("kind", string(ann.Kind)).Msg("ignoring unsubscribed kind")
		return
	}
	if fn != nil {
		fn(ann)
	}
}
