package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Relay shares events and history between server instances.
type Relay interface {
	// Publish hands an event to every other instance and records it in the
	// shared tenant history.
	Publish(ctx context.Context, e Event) error
	// Subscribe calls fn for events published by other instances until ctx
	// is done.
	Subscribe(ctx context.Context, fn func(Event)) error
	// History returns a tenant's shared history, oldest first.
	History(ctx context.Context, tenantID string) ([]Event, error)
}

// envelope is the relay wire form; it keeps the fields Event hides from clients.
type envelope struct {
	Origin string `json:"origin"`
	Target string `json:"target,omitempty"`
	Event  Event  `json:"event"`
}

func (env envelope) event() Event {
	e := env.Event
	e.targetUserID = env.Target
	return e
}

// RedisRelay relays over a pub/sub channel and keeps a capped list per tenant.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	capacity   int
	instanceID string
	log        *slog.Logger
}

// NewRedisRelay creates a relay on channel, keeping capacity events per tenant.
func NewRedisRelay(client *redis.Client, channel string, capacity int, log *slog.Logger) *RedisRelay {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &RedisRelay{
		client:     client,
		channel:    channel,
		capacity:   capacity,
		instanceID: uuid.NewString(),
		log:        log.With(logger.Scope("realtime.relay")),
	}
}

func historyKey(tenantID string) string {
	return "realtime:history:" + tenantID
}

// Publish pushes e to the tenant list, trims it and announces it on the channel.
func (r *RedisRelay) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(envelope{Origin: r.instanceID, Target: e.targetUserID, Event: e})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}

	key := historyKey(e.TenantID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, raw)
		pipe.LTrim(ctx, key, 0, int64(r.capacity-1))
		pipe.Publish(ctx, r.channel, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Subscribe listens on the channel, skipping events this instance published.
func (r *RedisRelay) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.log.Info("relay subscribed", slog.String("channel", r.channel), slog.String("instance_id", r.instanceID))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("discarding malformed relay message", logger.Error(err))
				continue
			}
			if env.Origin == r.instanceID {
				continue
			}
			fn(env.event())
		}
	}
}

// History reads a tenant's list and returns it oldest first.
func (r *RedisRelay) History(ctx context.Context, tenantID string) ([]Event, error) {
	raw, err := r.client.LRange(ctx, historyKey(tenantID), 0, int64(r.capacity-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("relay history: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var env envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			r.log.Warn("skipping malformed history entry", logger.Error(err))
			continue
		}
		events = append(events, env.event())
	}
	slices.Reverse(events)
	return events, nil
}
