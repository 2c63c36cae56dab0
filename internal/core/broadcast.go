package core

import (
	"sync"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

// broadcastCapacity is each subscriber's buffer; on overflow the oldest
// queued event is dropped and the subscriber is flagged as lagged.
const broadcastCapacity = 256

// Subscription is one subscriber's receive handle. Consumers read C; a
// true Lagged() means events were dropped and the consumer should
// resynchronize by re-querying the façade.
type Subscription struct {
	C chan agentmodel.CoreEvent

	mu     sync.Mutex
	lagged bool
	closed bool
}

// Lagged reports and clears the lag flag.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lagged
	s.lagged = false
	return l
}

// broadcaster fans CoreEvents out to every live subscription, dropping the
// oldest queued event per slow subscriber rather than blocking the
// publisher.
type broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*Subscription]struct{})}
}

func (b *broadcaster) subscribe() *Subscription {
	sub := &Subscription{C: make(chan agentmodel.CoreEvent, broadcastCapacity)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	close(sub.C)
}

// publish never blocks: a full subscriber loses its oldest event.
func (b *broadcaster) publish(ev agentmodel.CoreEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.C <- ev:
			continue
		default:
		}
		// Buffer full: drop oldest, mark lag, retry once.
		select {
		case <-sub.C:
		default:
		}
		sub.mu.Lock()
		sub.lagged = true
		sub.mu.Unlock()
		select {
		case sub.C <- ev:
		default:
		}
	}
}
