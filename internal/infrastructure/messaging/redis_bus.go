package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

var _ shared.EventBus = (*RedisEventBus)(nil)

// DefaultChannel is the Redis channel events are mirrored to.
const DefaultChannel = "student-dashboard:events"

// Publisher is the part of *redis.Client the bus needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisEventBus delivers events to local handlers and mirrors every event
// as a shared.EventEnvelope to a Redis channel for external consumers.
// A failed mirror never blocks local delivery.
type RedisEventBus struct {
	client       Publisher
	localBus     *InMemoryEventBus
	channelName  string
	instanceID   string
	logger       *logger.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client Publisher

	// ChannelName defaults to DefaultChannel.
	ChannelName string

	// InstanceID is stamped on mirrored envelopes as their correlation ID
	// when the event has none. Defaults to a random UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig

	// WriteTimeout bounds each PUBLISH. Defaults to one second.
	WriteTimeout time.Duration

	Logger *logger.Logger
}

// NewRedisEventBus creates a new Redis-mirrored event bus.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Second
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	return &RedisEventBus{
		client:       config.Client,
		localBus:     NewInMemoryEventBus(config.LocalBusConfig),
		channelName:  config.ChannelName,
		instanceID:   config.InstanceID,
		logger:       config.Logger.With(logger.Component("eventbus.redis")),
		writeTimeout: config.WriteTimeout,
	}, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish mirrors the event to Redis and delivers it locally.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	if err := b.mirror(event); err != nil {
		b.logger.Warn("failed to mirror event to redis",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}

	return b.localBus.Publish(event)
}

func (b *RedisEventBus) mirror(event shared.Event) error {
	envelope, err := shared.NewEventEnvelope(uuid.NewString(), event)
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}
	if envelope.CorrelationID == "" {
		envelope.CorrelationID = b.instanceID
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()

	return b.client.Publish(ctx, b.channelName, data).Err()
}

// Close shuts down the local bus. The Redis client is owned by the caller.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.localBus.Close()
}

// Metrics returns the current metrics from the local bus.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.localBus.Metrics()
}
