package bus

import (
	"sync"
	"sync/atomic"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

// Handler reacts to one event. A returned error is logged and does not
// prevent the other handlers from running.
type Handler func(Event) error

type subscription struct {
	id    uint64
	fn    Handler
	async bool
}

// Bus multiplexes typed events over named topics. Publish delivers
// synchronously, in subscription order, to the handlers registered when
// Publish was called. Asynchronous handlers are started in their own
// goroutine and never awaited by the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]*subscription

	lastSeq int64 // access via atomic
	async   sync.WaitGroup
	logger  log.Logger
}

func New() *Bus {
	return &Bus{
		subs:   make(map[Topic][]*subscription),
		logger: log.NewLogger("bus", 2),
	}
}

// Subscribe registers fn for topic and returns a function that removes it.
// Removing a handler during a dispatch does not affect that dispatch.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	return b.subscribe(topic, fn, false)
}

// SubscribeAsync is like Subscribe but fn runs in a new goroutine for each
// event (fire-and-forget).
func (b *Bus) SubscribeAsync(topic Topic, fn Handler) func() {
	return b.subscribe(topic, fn, true)
}

func (b *Bus) subscribe(topic Topic, fn Handler, async bool) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, fn: fn, async: async}
	// copy on write: dispatch passes keep iterating their own snapshot
	subs := make([]*subscription, len(b.subs[topic]), len(b.subs[topic])+1)
	copy(subs, b.subs[topic])
	b.subs[topic] = append(subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, sub.id) })
	}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.subs[topic]
	subs := make([]*subscription, 0, len(old))
	for _, s := range old {
		if s.id != id {
			subs = append(subs, s)
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = subs
	}
}

// Publish stamps ev with a sequence number and dispatches it.
func (b *Bus) Publish(ev Event) {
	ev.setSeq(atomic.AddInt64(&b.lastSeq, 1))

	b.mu.RLock()
	subs := b.subs[ev.Topic()]
	b.mu.RUnlock()

	b.logger.Tracef("publish %s(%d) to %d handlers", ev.Topic(), ev.Seq(), len(subs))

	for _, s := range subs {
		if s.async {
			b.async.Add(1)
			go func(s *subscription) {
				defer b.async.Done()
				b.call(s, ev)
			}(s)
		} else {
			b.call(s, ev)
		}
	}
}

func (b *Bus) call(s *subscription, ev Event) {
	defer log.Recover(string(ev.Topic()))
	if err := s.fn(ev); err != nil {
		b.logger.Warnf("%s(%d): handler %d: %v", ev.Topic(), ev.Seq(), s.id, err)
	}
}

// Wait blocks until all asynchronous handlers started so far returned.
func (b *Bus) Wait() {
	b.async.Wait()
}

// Len returns the number of handlers subscribed to topic.
func (b *Bus) Len(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
