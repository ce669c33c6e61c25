package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	wire "qatmarket/pkg/domain"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

// RedisRelay fans events out to every instance over a Redis channel. Publishes
// go through a circuit breaker so a Redis outage degrades to local delivery.
type RedisRelay struct {
	client  *redis.Client
	channel string
	breaker *gobreaker.CircuitBreaker
	logger  logger.Logger
}

func NewRedisRelay(client *redis.Client, channel string, breakerTimeout time.Duration, log logger.Logger) *RedisRelay {
	if channel == "" {
		channel = "qatmarket:events"
	}
	r := &RedisRelay{client: client, channel: channel, logger: log}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notification-relay",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Relay breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return r
}

func (r *RedisRelay) Publish(ctx context.Context, ev wire.OutboundEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode relay frame")
	}
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Publish(ctx, r.channel, payload).Err()
	})
	return err
}

// Listen delivers every relayed event until ctx is cancelled.
func (r *RedisRelay) Listen(ctx context.Context, deliver func(wire.OutboundEvent)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "failed to subscribe to relay channel")
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
			var ev wire.OutboundEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("Discarding malformed relay frame", map[string]interface{}{"error": err.Error()})
				continue
			}
			deliver(ev)
		}
	}
}

// ErrRelayOpen reports that the relay breaker is open and pushes are local only.
var ErrRelayOpen = errors.New("notification relay circuit open")

// Check fails while the breaker is open. Used as a readiness check.
func (r *RedisRelay) Check(context.Context) error {
	if r.breaker.State() == gobreaker.StateOpen {
		return ErrRelayOpen
	}
	return nil
}
