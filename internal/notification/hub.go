package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/internal/metrics"
	"qatmarket/internal/repository"
	wire "qatmarket/pkg/domain"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

// Pusher delivers to the live sessions held by this process.
type Pusher interface {
	Push(userID uuid.UUID, ev wire.OutboundEvent) int
}

// Relay carries events between web instances.
type Relay interface {
	Publish(ctx context.Context, ev wire.OutboundEvent) error
	Listen(ctx context.Context, deliver func(wire.OutboundEvent)) error
}

// Locker serialises work per user. The coordinator's lock table satisfies it,
// so a hub publish and an intent on the same user commit and dispatch in turn.
type Locker interface {
	LockUsers(ctx context.Context, ids ...uuid.UUID) (func(), error)
}

// Cache is the subset of pkg/cache used for unread counters.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const (
	unreadTTL      = 10 * time.Second
	publishRetries = 3
)

type Hub struct {
	uow    repository.UnitOfWork
	pusher Pusher
	relay  Relay
	cache  Cache
	locker Locker
	logger logger.Logger
	now    func() time.Time

	queue     chan domain.Event
	closing   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

type Option func(*Hub)

// WithRelay routes pushes through r so every instance can deliver them.
func WithRelay(r Relay) Option { return func(h *Hub) { h.relay = r } }

// WithCache caches unread counters.
func WithCache(c Cache) Option { return func(h *Hub) { h.cache = c } }

// WithLocker holds each recipient's lock from commit through dispatch.
func WithLocker(l Locker) Option { return func(h *Hub) { h.locker = l } }

func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

func NewHub(uow repository.UnitOfWork, pusher Pusher, queueSize int, log logger.Logger, opts ...Option) *Hub {
	if queueSize <= 0 {
		queueSize = 1024
	}
	h := &Hub{
		uow:     uow,
		pusher:  pusher,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
		queue:   make(chan domain.Event, queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Record persists one notification per event inside tx and returns the
// events that were new. Events already stored are skipped.
func (h *Hub) Record(ctx context.Context, tx repository.Tx, events []domain.Event) ([]domain.Event, error) {
	fresh := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode event payload")
		}
		subject, body, _ := Render(ev.Payload)

		n := &domain.Notification{
			ID:          uuid.New(),
			EventID:     ev.ID,
			UserID:      ev.UserID,
			Kind:        ev.Kind().String(),
			Title:       subject,
			Body:        body,
			Payload:     payload,
			CommittedAt: ev.CommittedAt,
			CreatedAt:   h.now(),
		}
		if err := tx.Notifications().Insert(ctx, n); err != nil {
			if errors.Is(err, errors.ErrDuplicate) {
				continue
			}
			return nil, err
		}
		ev.Seq = n.Seq
		fresh = append(fresh, ev)
	}
	return fresh, nil
}

// Dispatch queues committed events for push without blocking. When the queue
// is full the push is dropped; the client recovers it through Unread.
func (h *Hub) Dispatch(events []domain.Event) {
	for _, ev := range events {
		select {
		case <-h.closing:
			metrics.RecordDrop("hub_closed")
			continue
		default:
		}
		select {
		case h.queue <- ev:
		default:
			metrics.RecordDrop("hub_queue")
			h.logger.Warn("Push queue full, dropping event", map[string]interface{}{
				"event_id": ev.ID,
				"user_id":  ev.UserID,
				"type":     ev.Kind().String(),
			})
		}
	}
}

// Publish persists events in their own unit and dispatches the new ones.
// Replaying an already stored event has no effect.
func (h *Hub) Publish(ctx context.Context, events []domain.Event) error {
	if h.locker != nil {
		unlock, err := h.locker.LockUsers(ctx, recipients(events)...)
		if err != nil {
			return err
		}
		defer unlock()
	}
	return h.PublishHeld(ctx, events)
}

// PublishHeld is Publish for callers that already hold the recipients' locks.
func (h *Hub) PublishHeld(ctx context.Context, events []domain.Event) error {
	var fresh []domain.Event
	var err error
	for attempt := 0; attempt < publishRetries; attempt++ {
		err = h.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			var rerr error
			fresh, rerr = h.Record(ctx, tx, events)
			return rerr
		})
		if !errors.Is(err, errors.ErrConcurrencyConflict) {
			break
		}
	}
	if err != nil {
		return err
	}
	h.Dispatch(fresh)
	return nil
}

func recipients(events []domain.Event) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.UserID)
	}
	return out
}

// Start launches the fan-out loop and, with a relay, its listener.
func (h *Hub) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		go h.run(ctx)
		if h.relay != nil {
			go func() {
				if err := h.relay.Listen(ctx, h.deliverLocal); err != nil {
					h.logger.Error("Relay listener stopped", map[string]interface{}{"error": err.Error()})
				}
			}()
		}
	})
}

// Close stops accepting events, drains what is queued and waits for the loop.
func (h *Hub) Close(ctx context.Context) error {
	h.closeOnce.Do(func() { close(h.closing) })
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case ev := <-h.queue:
			h.deliver(ctx, ev)
		case <-h.closing:
			for {
				select {
				case ev := <-h.queue:
					h.deliver(ctx, ev)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) deliver(ctx context.Context, ev domain.Event) {
	out, err := ev.Outbound()
	if err != nil {
		h.logger.Error("Failed to encode event", map[string]interface{}{"event_id": ev.ID, "error": err.Error()})
		return
	}

	if h.relay != nil {
		err := h.relay.Publish(ctx, out)
		if err == nil {
			metrics.RecordPush("relay")
			return
		}
		h.logger.Warn("Relay publish failed, delivering locally", map[string]interface{}{
			"event_id": ev.ID,
			"error":    err.Error(),
		})
	}
	h.deliverLocal(out)
}

func (h *Hub) deliverLocal(out wire.OutboundEvent) {
	h.invalidate(context.Background(), out.UserID)
	n := h.pusher.Push(out.UserID, out)
	metrics.RecordPush("local")
	h.logger.Debug("Event pushed", map[string]interface{}{
		"event_id": out.ID,
		"user_id":  out.UserID,
		"type":     out.Type,
		"sessions": n,
	})
}

func unreadKey(userID uuid.UUID) string {
	return "unread:" + userID.String()
}

func (h *Hub) invalidate(ctx context.Context, userID uuid.UUID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, unreadKey(userID)); err != nil {
		h.logger.Warn("Failed to invalidate unread counter", map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
}

// Unread returns unread notifications after afterSeq in commit order.
func (h *Hub) Unread(ctx context.Context, userID uuid.UUID, afterSeq int64, limit int) ([]wire.OutboundEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []*domain.Notification
	err := h.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		rows, err = tx.Notifications().ListUnread(ctx, userID, afterSeq, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]wire.OutboundEvent, 0, len(rows))
	for _, n := range rows {
		out = append(out, wire.OutboundEvent{
			ID:          n.EventID,
			Seq:         n.Seq,
			Type:        n.Kind,
			UserID:      n.UserID,
			Payload:     n.Payload,
			CommittedAt: n.CommittedAt,
		})
	}
	return out, nil
}

// MarkRead marks everything up to throughSeq as read.
func (h *Hub) MarkRead(ctx context.Context, userID uuid.UUID, throughSeq int64) (int64, error) {
	var n int64
	err := h.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		n, err = tx.Notifications().MarkRead(ctx, userID, throughSeq)
		return err
	})
	if err != nil {
		return 0, err
	}
	h.invalidate(ctx, userID)
	return n, nil
}

// UnreadCount is served from the cache when one is configured.
func (h *Hub) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	if h.cache != nil {
		if err := h.cache.Get(ctx, unreadKey(userID), &count); err == nil {
			return count, nil
		}
	}

	err := h.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		count, err = tx.Notifications().CountUnread(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, unreadKey(userID), count, unreadTTL); err != nil {
			h.logger.Warn("Failed to cache unread counter", map[string]interface{}{"user_id": userID, "error": err.Error()})
		}
	}
	return count, nil
}
