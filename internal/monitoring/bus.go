// Package monitoring implements the C9 monitoring core: an in-process event
// bus with bounded history, metric aggregation, alert-rule evaluation with
// hysteresis, and the live WebSocket stream.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// Subscriber receives events pushed by the bus. Producers never block on a
// slow consumer: the bus drops events for a subscriber whose channel is full
// rather than waiting on it.
type Subscriber struct {
	ch     chan models.Event
	missed chan [2]int64 // [from, to) gap reported at Subscribe time
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan models.Event { return s.ch }

// Missed returns a channel of [from, to) sequence ranges reported at Subscribe
// time: the gap between the requested fromSequence and the oldest event still
// in the ring. Events later dropped from a full subscriber channel produce no
// notice (at-most-once streaming).
func (s *Subscriber) Missed() <-chan [2]int64 { return s.missed }

// EventBus is the C9 in-process pub/sub with a bounded ring of recent events
// plus a durable tail (internal/interfaces.EventStore), and a monotonic
// monotonic sequence counter.
type EventBus struct {
	mu       sync.Mutex
	seq      int64
	ring     []models.Event
	ringSize int
	ringHead int // index of the oldest event in ring, once full
	ringLen  int
	subs     map[*Subscriber]bool
	store    interfaces.EventStore
	logger   *common.Logger
}

// NewEventBus builds an EventBus with the configured ring size and an optional
// durable EventStore, whose retention is bounded.
func NewEventBus(ringSize int, store interfaces.EventStore, logger *common.Logger) *EventBus {
	if ringSize <= 0 {
		ringSize = 10000
	}
	return &EventBus{
		ring:     make([]models.Event, ringSize),
		ringSize: ringSize,
		subs:     make(map[*Subscriber]bool),
		store:    store,
		logger:   logger,
	}
}

// Publish assigns the next sequence number, appends to the ring, persists to
// the durable tail (best-effort, logged on failure), and fans out to
// subscribers without blocking on any of them.
func (b *EventBus) Publish(ctx context.Context, kind models.EventKind, jobID, sourceID string, payload map[string]any) models.Event {
	b.mu.Lock()
	b.seq++
	ev := models.Event{
		Sequence:  b.seq,
		Timestamp: time.Now(),
		Kind:      kind,
		JobID:     jobID,
		SourceID:  sourceID,
		Payload:   payload,
	}
	b.appendRingLocked(ev)
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	if b.store != nil {
		if err := b.store.Append(ctx, &ev); err != nil && b.logger != nil {
			b.logger.Warn().Err(err).Int64("sequence", ev.Sequence).Msg("failed to persist event to durable tail")
		}
	}

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// Slow consumer: drop rather than block the producer.
			if b.logger != nil {
				b.logger.Warn().Int64("sequence", ev.Sequence).Msg("subscriber lagging, event dropped from live push")
			}
		}
	}
	return ev
}

func (b *EventBus) appendRingLocked(ev models.Event) {
	idx := (b.ringHead + b.ringLen) % b.ringSize
	if b.ringLen < b.ringSize {
		b.ring[idx] = ev
		b.ringLen++
	} else {
		b.ring[b.ringHead] = ev
		b.ringHead = (b.ringHead + 1) % b.ringSize
	}
}

// Subscribe registers a new subscriber with a bounded channel. fromSequence, if
// > 0, triggers an immediate missed_events notice for any gap between
// fromSequence and the oldest sequence still in the ring.
func (b *EventBus) Subscribe(fromSequence int64) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{ch: make(chan models.Event, 256), missed: make(chan [2]int64, 4)}
	b.subs[sub] = true

	if fromSequence > 0 && b.ringLen > 0 {
		oldestSeq := b.ring[b.ringHead].Sequence
		if fromSequence < oldestSeq {
			select {
			case sub.missed <- [2]int64{fromSequence, oldestSeq}:
			default:
			}
		}
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channels.
func (b *EventBus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
		close(sub.missed)
	}
}

// RangeFrom returns ring-buffered events with sequence > from, up to limit.
// Historical query by sequence must be complete; callers
// needing sequences older than the ring's retention should fall back to the
// durable EventStore via RangeFromStore.
func (b *EventBus) RangeFrom(from int64, limit int) []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Event, 0, b.ringLen)
	for i := 0; i < b.ringLen; i++ {
		ev := b.ring[(b.ringHead+i)%b.ringSize]
		if ev.Sequence > from {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RangeFromStore queries the durable tail directly, for sequences that have
// already aged out of the in-memory ring.
func (b *EventBus) RangeFromStore(ctx context.Context, from int64, limit int) ([]*models.Event, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.RangeFrom(ctx, from, limit)
}

// CurrentSequence returns the last sequence number assigned.
func (b *EventBus) CurrentSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
