package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type relayEnvelope struct {
	Origin    string          `json:"origin"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// RedisRelay mirrors appointment events between API instances sharing one
// store, so that feeds served by any instance observe every write.
type RedisRelay struct {
	client     *redis.Client
	bus        *EventBus
	channel    string
	instanceID string
	outbox     chan []byte
	ready      chan struct{}
	logger     *zerolog.Logger
}

const relayOutboxSize = 256

func NewRedisRelay(client *redis.Client, bus *EventBus, channel string, logger *zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:     client,
		bus:        bus,
		channel:    channel,
		instanceID: uuid.NewString(),
		outbox:     make(chan []byte, relayOutboxSize),
		ready:      make(chan struct{}),
		logger:     logger,
	}
}

// InstanceID identifies this process on the relay channel.
func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

// Ready is closed once the relay is subscribed and forwarding.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the relay channel and forwards local events until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay channel %s: %w", r.channel, err)
	}

	unsubscribe := r.bus.Subscribe(r.forward, AppointmentEventTypes...)
	defer unsubscribe()
	go r.publishLoop(ctx)

	close(r.ready)
	r.logger.Info().Str("channel", r.channel).Str("instance", r.instanceID).Msg("event relay started")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

// forward is an EventHandler; it queues local events and never blocks the
// publisher. Events are dropped when the outbox is full.
func (r *RedisRelay) forward(event *Event) error {
	if !event.Local() {
		return nil
	}

	data, err := json.Marshal(relayEnvelope{
		Origin:    r.instanceID,
		Type:      event.Type,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return err
	}

	select {
	case r.outbox <- data:
	default:
		r.logger.Warn().Str("event_type", event.Type).Msg("relay: outbox full, event dropped")
	}
	return nil
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-r.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
				r.logger.Error().Err(err).Msg("relay publish failed")
			}
			cancel()
		}
	}
}

func (r *RedisRelay) deliver(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn().Err(err).Msg("relay: malformed envelope")
		return
	}
	if env.Origin == r.instanceID || env.Origin == "" {
		return
	}

	r.bus.Publish(&Event{
		Type:      env.Type,
		Payload:   env.Payload,
		CreatedAt: env.CreatedAt,
		Origin:    env.Origin,
	})
}
