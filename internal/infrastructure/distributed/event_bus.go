package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"localmedia/internal/core/domain"
	"localmedia/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "localmedia:events"

var ErrAlreadySubscribed = errors.New("already subscribed")

// EventBus shares controller lifecycle events between instances over Redis
// pub/sub. Publishing goes through a circuit breaker so an unreachable broker
// costs one fast failure per event instead of a dial timeout.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewEventBus(
	client *redis.Client,
	instanceID string,
	channel string,
	breaker *circuitbreaker.CircuitBreaker,
	logger *zap.SugaredLogger,
) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus circuit breaker changed state", "from", from.String(), "to", to.String())
	})
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		breaker:    breaker,
		logger:     logger,
	}
}

// Publish stamps the event with this instance and publishes it.
func (eb *EventBus) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	out := *event
	out.InstanceID = eb.instanceID
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = eb.breaker.Execute(ctx, func() error {
		return eb.client.Publish(ctx, eb.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", out.Type,
		"controller", out.Controller,
		"stream_id", out.StreamID,
	)
	return nil
}

// Subscribe delivers events from other instances to handler until ctx ends.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*domain.LifecycleEvent) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return ErrAlreadySubscribed
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(payload string, handler func(*domain.LifecycleEvent) error) {
	var event domain.LifecycleEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", payload)
		return
	}

	// Skip events from this instance
	if event.InstanceID == eb.instanceID {
		return
	}

	if err := handler(&event); err != nil {
		eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
	}
}

func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
