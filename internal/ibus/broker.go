package ibus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultQueueDepth is the bounded channel depth used for a new
// subscription unless WithQueueDepth overrides it (spec §4.2 back-
// pressure).
const DefaultQueueDepth = 64

type subscriber struct {
	id    uuid.UUID
	ch    chan Msg
	lag   int64
	topic Topic
}

// send queues msg unless the subscriber's queue is full. The last slot of
// s.ch is held back for a Lagged notice, so a subscriber whose queue is
// full still learns that messages were dropped.
func (s *subscriber) send(msg Msg) {
	if len(s.ch) < cap(s.ch)-1 {
		select {
		case s.ch <- msg:
			atomic.StoreInt64(&s.lag, 0)
			return
		default:
		}
	}
	n := atomic.AddInt64(&s.lag, 1)
	select {
	case s.ch <- Lagged{Topic_: s.topic, N: int(n)}:
	default:
		// A lag notice already occupies the reserved slot; the subscriber
		// will see it on its next read and can issue a Dump.
	}
}

// Broker is the internal bus fabric: one broadcast fan-out list per Topic,
// plus direct point-to-point delivery to a specific subscriber for
// request/reply flows (InterfaceQuery, RouterIDQuery, HostnameSub,
// BfdSessionReg/Unreg).
type Broker struct {
	mu   sync.RWMutex
	subs map[Topic]map[uuid.UUID]*subscriber
	byID map[uuid.UUID]*subscriber
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[Topic]map[uuid.UUID]*subscriber),
		byID: make(map[uuid.UUID]*subscriber),
	}
}

// Subscribe registers a new consumer for topic and returns its receive
// channel plus a function to unsubscribe. Every message published to
// topic *after* this call returns is delivered to ch, in the order each
// producer published it (spec §4.2 ordering), unless the subscriber's
// queue is full, in which case it is dropped and a Lagged notice is
// queued instead (see Publish).
func (b *Broker) Subscribe(topic Topic) (id uuid.UUID, ch <-chan Msg, cancel func()) {
	return b.SubscribeDepth(topic, DefaultQueueDepth)
}

// SubscribeDepth is Subscribe with an explicit bounded-queue depth: the
// queue holds depth messages plus one slot reserved for a Lagged notice.
func (b *Broker) SubscribeDepth(topic Topic, depth int) (uuid.UUID, <-chan Msg, func()) {
	s := &subscriber{id: uuid.New(), ch: make(chan Msg, depth+1), topic: topic}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uuid.UUID]*subscriber)
	}
	b.subs[topic][s.id] = s
	b.byID[s.id] = s
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[topic], s.id)
		delete(b.byID, s.id)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.id, s.ch, cancel
}

// Publish broadcasts msg to every current subscriber of msg.Topic(). A
// send that would block a lagging subscriber never blocks the producer
// (spec §4.2 failure semantics: no consumers, or a full queue, is treated
// as a successful fire-and-forget send).
func (b *Broker) Publish(msg Msg) {
	topic := msg.Topic()
	b.mu.RLock()
	list := make([]*subscriber, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		list = append(list, s)
	}
	b.mu.RUnlock()

	for _, s := range list {
		s.send(msg)
	}
}

// Reply delivers msg directly to the single subscriber identified by id,
// bypassing topic fan-out. Used to answer a point-to-point query (e.g. a
// RouterIDQuery) without broadcasting the answer to every subscriber of
// the topic.
func (b *Broker) Reply(id uuid.UUID, msg Msg) {
	b.mu.RLock()
	s, ok := b.byID[id]
	b.mu.RUnlock()
	if !ok {
		return
	}
	s.send(msg)
}

// SubscriberCount returns how many consumers currently subscribe to topic.
func (b *Broker) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
